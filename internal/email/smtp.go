package email

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPSender implements Sender over a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a new SMTPSender with the given SMTP credentials.
func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func (s *SMTPSender) SendStageAdvanced(ctx context.Context, toEmail, entityID, fromStage, toStage string) error {
	content, err := renderEmailTemplate("stage_advanced.html", stageAdvancedEmailData{
		baseEmailData: baseEmailData{
			Title:   "Oportunidad avanzada",
			Heading: "Oportunidad avanzada",
		},
		EntityID:  entityID,
		FromStage: fromStage,
		ToStage:   toStage,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectStageAdvanced, content)
}

func (s *SMTPSender) SendActionRejected(ctx context.Context, toEmail, entityID, actionType, notes string) error {
	content, err := renderEmailTemplate("action_rejected.html", actionRejectedEmailData{
		baseEmailData: baseEmailData{
			Title:   "Acción rechazada",
			Heading: "Acción rechazada",
		},
		EntityID:   entityID,
		ActionType: actionType,
		Notes:      notes,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectActionRejected, content)
}

func (s *SMTPSender) SendSignatureReminder(ctx context.Context, toEmail, entityID string) error {
	content, err := renderEmailTemplate("signature_reminder.html", signatureReminderEmailData{
		baseEmailData: baseEmailData{
			Title:   "Firma pendiente",
			Heading: "Firma pendiente",
		},
		EntityID: entityID,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectSignatureReminder, content)
}
