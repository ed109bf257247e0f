// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"crm_pipeline_backend/platform/events"
	"crm_pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Pipeline Domain Events
// =============================================================================

// StageAdvanced is published after an opportunity's stage changes.
type StageAdvanced struct {
	BaseEvent
	EntityType  string    `json:"entityType"`
	EntityID    uuid.UUID `json:"entityId"`
	FromStage   string    `json:"fromStage"`
	ToStage     string    `json:"toStage"`
	TriggeredBy string    `json:"triggeredBy"`
	ActorID     uuid.UUID `json:"actorId"`
}

func (e StageAdvanced) EventName() string { return "pipeline.stage.advanced" }

// ActionValidated is published after the validation gate approves an action.
type ActionValidated struct {
	BaseEvent
	ActionID   uuid.UUID `json:"actionId"`
	EntityType string    `json:"entityType"`
	EntityID   uuid.UUID `json:"entityId"`
	ActionType string    `json:"actionType"`
	ActorID    uuid.UUID `json:"actorId"`
}

func (e ActionValidated) EventName() string { return "pipeline.action.validated" }

// ActionRejected is published after the validation gate rejects an action.
// Notes always carry the operator's justification.
type ActionRejected struct {
	BaseEvent
	ActionID   uuid.UUID `json:"actionId"`
	EntityType string    `json:"entityType"`
	EntityID   uuid.UUID `json:"entityId"`
	ActionType string    `json:"actionType"`
	ActorID    uuid.UUID `json:"actorId"`
	Notes      string    `json:"notes"`
}

func (e ActionRejected) EventName() string { return "pipeline.action.rejected" }

// SignatureReminderDue is published by the scheduler when an opportunity has
// sat in client_signature longer than the configured reminder window.
type SignatureReminderDue struct {
	BaseEvent
	EntityType string    `json:"entityType"`
	EntityID   uuid.UUID `json:"entityId"`
}

func (e SignatureReminderDue) EventName() string { return "pipeline.signature.reminder_due" }
