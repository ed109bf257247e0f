// Package transport defines the request and response DTOs for the pipeline
// module's HTTP surface.
package transport

import (
	"encoding/json"

	"github.com/google/uuid"
)

// CreateActionRequest opens a new pending action against an opportunity.
type CreateActionRequest struct {
	ActionType string          `json:"actionType" binding:"required"`
	ActionData json.RawMessage `json:"actionData"`
}

// ValidateActionRequest carries a validation gate decision.
type ValidateActionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=validated rejected"`
	Notes    string `json:"notes"`
}

// AdvanceStageRequest performs an explicit version-checked stage write.
type AdvanceStageRequest struct {
	FromStage       string `json:"fromStage" binding:"required"`
	ToStage         string `json:"toStage" binding:"required"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

// ListActionsRequest filters the action ledger listing.
type ListActionsRequest struct {
	Status     string `form:"status"`
	ActionType string `form:"actionType"`
}

// SignatureCompleteRequest is the signature+payment collaborator callback.
// Validated with the shared validator because the webhook handler reads the
// raw body for HMAC verification instead of using gin's binding.
type SignatureCompleteRequest struct {
	EntityType       string    `json:"entityType" validate:"required,oneof=contact lead"`
	EntityID         uuid.UUID `json:"entityId" validate:"required"`
	ExpedienteNumber string    `json:"expedienteNumber" validate:"required"`
	PaymentReference string    `json:"paymentReference"`
}

// StageResponse is the API shape of a pipeline stage record.
type StageResponse struct {
	EntityType     string  `json:"entityType"`
	EntityID       string  `json:"entityId"`
	CurrentStage   string  `json:"currentStage"`
	StageEnteredAt string  `json:"stageEnteredAt"`
	Version        int64   `json:"version"`
	HiringCodeID   *string `json:"hiringCodeId,omitempty"`
	Terminal       bool    `json:"terminal"`
}

// ActionResponse is the API shape of one ledger entry.
type ActionResponse struct {
	ID          string          `json:"id"`
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	ActionType  string          `json:"actionType"`
	Status      string          `json:"status"`
	ActionData  json.RawMessage `json:"actionData,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   string          `json:"createdAt"`
	ValidatedBy *string         `json:"validatedBy,omitempty"`
	ValidatedAt *string         `json:"validatedAt,omitempty"`
}

// ActionListResponse wraps the ordered ledger for an opportunity.
type ActionListResponse struct {
	Items []ActionResponse `json:"items"`
	Total int              `json:"total"`
}

// NextActionResponse is the resolver's proposal. Action is null when the
// pipeline is complete.
type NextActionResponse struct {
	Action *SuggestedAction `json:"action"`
}

// SuggestedAction describes the single next action a human should take.
type SuggestedAction struct {
	ActionType string `json:"actionType"`
	Priority   string `json:"priority"`
	Required   bool   `json:"required"`
	Reason     string `json:"reason"`
}

// TransitionResponse is one immutable stage-history entry.
type TransitionResponse struct {
	ID          string `json:"id"`
	FromStage   string `json:"fromStage"`
	ToStage     string `json:"toStage"`
	TriggeredBy string `json:"triggeredBy"`
	ActorID     string `json:"actorId"`
	OccurredAt  string `json:"occurredAt"`
}

// TransitionListResponse wraps the transition history.
type TransitionListResponse struct {
	Items []TransitionResponse `json:"items"`
}
