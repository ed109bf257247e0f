package service

import (
	"context"
	"time"

	"crm_pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// PermissionChecker is the externally-supplied role-based authorization
// check for validating a specific action type.
type PermissionChecker interface {
	CheckPermission(role domain.Role, actionType domain.ActionType) bool
}

// EligibilityGate answers whether an agent may receive more opportunities
// today (daily quota / unresolved previous-day opportunities). Consumed,
// not owned, by the engine.
type EligibilityGate interface {
	IsActorEligible(ctx context.Context, actorID uuid.UUID) (bool, error)
}

// ContactTracker is an optional upgrade of EligibilityGate: gates that also
// keep quota accounting get told when an actor's first call lands.
type ContactTracker interface {
	RecordFirstContact(ctx context.Context, actorID, entityID uuid.UUID) error
}

// ReminderScheduler enqueues time-deferred follow-up work. Scheduling is
// best effort: failures are logged and never fail the primary operation.
type ReminderScheduler interface {
	ScheduleSignatureReminder(ctx context.Context, ref domain.EntityRef, runAt time.Time) error
	ScheduleRelationshipFollowUp(ctx context.Context, ref domain.EntityRef, runAt time.Time) error
}
