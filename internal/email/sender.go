// Package email renders and delivers the pipeline's notification emails.
package email

import (
	"context"

	"crm_pipeline_backend/platform/config"
)

// Sender delivers pipeline notification emails.
type Sender interface {
	// SendStageAdvanced notifies the back office that an opportunity moved
	// to a new stage.
	SendStageAdvanced(ctx context.Context, toEmail, entityID, fromStage, toStage string) error
	// SendActionRejected notifies the back office that a gate rejected an
	// action, with the reviewer's notes.
	SendActionRejected(ctx context.Context, toEmail, entityID, actionType, notes string) error
	// SendSignatureReminder nudges the back office about an opportunity
	// sitting in client_signature past the reminder window.
	SendSignatureReminder(ctx context.Context, toEmail, entityID string) error
}

// NewSender builds the configured Sender, or a no-op sender when email
// delivery is disabled.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return noopSender{}, nil
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	), nil
}

type noopSender struct{}

func (noopSender) SendStageAdvanced(context.Context, string, string, string, string) error {
	return nil
}

func (noopSender) SendActionRejected(context.Context, string, string, string, string) error {
	return nil
}

func (noopSender) SendSignatureReminder(context.Context, string, string) error {
	return nil
}
