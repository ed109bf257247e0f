// Package repository provides PostgreSQL persistence for the pipeline engine:
// the stage store, the action ledger, and the immutable transition history.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"crm_pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// AdvanceStageParams describes a single compare-and-swap stage write.
// ExpectedVersion zero means "no stage row exists yet"; the write then
// inserts the row instead of updating it.
type AdvanceStageParams struct {
	Ref             domain.EntityRef
	FromStage       domain.Stage
	ToStage         domain.Stage
	ExpectedVersion int64
	TriggeredBy     domain.ActionType
	ActorID         uuid.UUID
	HiringCodeID    *uuid.UUID
}

// CreateActionParams describes a new pending ledger entry.
type CreateActionParams struct {
	Ref        domain.EntityRef
	ActionType domain.ActionType
	ActionData json.RawMessage
	CreatedBy  uuid.UUID
}

// ActionFilter narrows ListActions. Zero values mean "no filter".
type ActionFilter struct {
	Status     domain.ActionStatus
	ActionType domain.ActionType
}

// ResolveActionParams describes the atomic unit of a validation decision:
// the action's terminal status plus the stage advance it may trigger.
// Advance is nil when the decision does not move the stage.
type ResolveActionParams struct {
	ActionID    uuid.UUID
	Status      domain.ActionStatus
	Notes       string
	ValidatedBy uuid.UUID
	ValidatedAt time.Time
	Advance     *AdvanceStageParams
}

// Repository is the persistence boundary of the pipeline engine.
type Repository interface {
	// GetStage returns the stage record, or apperr.NotFound wrapping no row.
	GetStage(ctx context.Context, ref domain.EntityRef) (domain.PipelineStage, error)

	// AdvanceStage performs a version-checked stage write and appends a
	// transition history entry. Returns domain.ErrStaleVersion (wrapped)
	// when the stored version or stage does not match.
	AdvanceStage(ctx context.Context, params AdvanceStageParams) (domain.PipelineStage, error)

	// ListTransitions returns the immutable transition history, oldest first.
	ListTransitions(ctx context.Context, ref domain.EntityRef) ([]domain.StageTransition, error)

	// CreateAction inserts a new pending action. Returns
	// domain.ErrDuplicatePending (wrapped) when a pending action of the
	// same type already exists for the entity.
	CreateAction(ctx context.Context, params CreateActionParams) (domain.Action, error)

	// GetAction returns a single ledger entry by ID.
	GetAction(ctx context.Context, id uuid.UUID) (domain.Action, error)

	// ListActions returns the entity's ledger ordered by created_at ascending.
	ListActions(ctx context.Context, ref domain.EntityRef, filter ActionFilter) ([]domain.Action, error)

	// ResolveActionAndAdvance applies a validation decision and the stage
	// advance it triggers in one transaction. Both commit or both roll
	// back. Stale stage versions surface as domain.ErrStaleVersion with
	// the action untouched.
	ResolveActionAndAdvance(ctx context.Context, params ResolveActionParams) (domain.Action, domain.PipelineStage, error)

	// CountActions returns how many actions of the given type exist for
	// the entity, regardless of status.
	CountActions(ctx context.Context, ref domain.EntityRef, actionType domain.ActionType) (int, error)
}
