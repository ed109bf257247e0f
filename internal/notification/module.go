// Package notification subscribes to pipeline domain events and delivers
// back-office emails. Delivery is best effort: a failed send is logged and
// never fails the operation that published the event.
package notification

import (
	"context"

	"crm_pipeline_backend/internal/email"
	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/logger"
)

// Module holds the notification event handlers.
type Module struct {
	sender email.Sender
	cfg    config.EmailConfig
	log    *logger.Logger
}

// New creates the notification module.
func New(sender email.Sender, cfg config.EmailConfig, log *logger.Logger) *Module {
	return &Module{sender: sender, cfg: cfg, log: log}
}

// RegisterHandlers subscribes the module to the domain events it emails on.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.StageAdvanced{}.EventName(), events.HandlerFunc(m.onStageAdvanced))
	bus.Subscribe(events.ActionRejected{}.EventName(), events.HandlerFunc(m.onActionRejected))
	bus.Subscribe(events.SignatureReminderDue{}.EventName(), events.HandlerFunc(m.onSignatureReminderDue))
}

func (m *Module) onStageAdvanced(ctx context.Context, event events.Event) error {
	e, ok := event.(events.StageAdvanced)
	if !ok {
		return nil
	}
	to := m.cfg.GetOpsNotifyAddress()
	if to == "" {
		return nil
	}
	if err := m.sender.SendStageAdvanced(ctx, to, e.EntityID.String(), e.FromStage, e.ToStage); err != nil {
		m.log.NotifyFailure("stage advanced email", err)
	}
	return nil
}

func (m *Module) onActionRejected(ctx context.Context, event events.Event) error {
	e, ok := event.(events.ActionRejected)
	if !ok {
		return nil
	}
	to := m.cfg.GetOpsNotifyAddress()
	if to == "" {
		return nil
	}
	if err := m.sender.SendActionRejected(ctx, to, e.EntityID.String(), e.ActionType, e.Notes); err != nil {
		m.log.NotifyFailure("action rejected email", err)
	}
	return nil
}

func (m *Module) onSignatureReminderDue(ctx context.Context, event events.Event) error {
	e, ok := event.(events.SignatureReminderDue)
	if !ok {
		return nil
	}
	to := m.cfg.GetOpsNotifyAddress()
	if to == "" {
		return nil
	}
	if err := m.sender.SendSignatureReminder(ctx, to, e.EntityID.String()); err != nil {
		m.log.NotifyFailure("signature reminder email", err)
	}
	return nil
}
