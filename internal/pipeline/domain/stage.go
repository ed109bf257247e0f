// Package domain provides core business rules for the sales-pipeline
// workflow engine: the stage ladder, the action ledger vocabulary, the
// transition table, and the next-action resolver.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Stage is one of the five ordered phases an opportunity moves through.
type Stage string

const (
	StageAgentInitial      Stage = "agent_initial"
	StageLawyerValidation  Stage = "lawyer_validation"
	StageAdminContract     Stage = "admin_contract"
	StageClientSignature   Stage = "client_signature"
	StageExpedienteCreated Stage = "expediente_created"
)

var stageOrder = map[Stage]int{
	StageAgentInitial:      0,
	StageLawyerValidation:  1,
	StageAdminContract:     2,
	StageClientSignature:   3,
	StageExpedienteCreated: 4,
}

// Valid reports whether the stage is a known enum value.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Terminal reports whether the pipeline is complete at this stage.
func (s Stage) Terminal() bool {
	return s == StageExpedienteCreated
}

// Before reports whether s comes earlier in the ladder than other.
// Both stages must be valid.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// EntityType identifies which CRM collection an opportunity belongs to.
type EntityType string

const (
	EntityContact EntityType = "contact"
	EntityLead    EntityType = "lead"
)

// Valid reports whether the entity type is known.
func (t EntityType) Valid() bool {
	return t == EntityContact || t == EntityLead
}

// EntityRef is the composite identity of an opportunity. The engine never
// owns opportunity business data; it only keys off this reference.
type EntityRef struct {
	EntityType EntityType
	EntityID   uuid.UUID
}

// PipelineStage is the authoritative stage record for one opportunity.
// Version increases monotonically and guards every write (optimistic
// concurrency).
type PipelineStage struct {
	EntityRef
	CurrentStage   Stage
	StageEnteredAt time.Time
	Version        int64
	HiringCodeID   *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewImplicitStage returns the synthesized record for an opportunity that has
// no stage row yet. Version zero signals "no prior write" to AdvanceStage.
func NewImplicitStage(ref EntityRef, now time.Time) PipelineStage {
	return PipelineStage{
		EntityRef:      ref,
		CurrentStage:   StageAgentInitial,
		StageEnteredAt: now,
		Version:        0,
	}
}

// StageTransition is one immutable entry in an opportunity's transition history.
type StageTransition struct {
	ID          uuid.UUID
	EntityRef
	FromStage   Stage
	ToStage     Stage
	TriggeredBy ActionType
	ActorID     uuid.UUID
	OccurredAt  time.Time
}

// TransitionFor returns the stage a validated gating action advances the
// opportunity to. The second return value is false when the action does not
// gate a transition from the current stage (informational actions, or a
// gating action validated out of order).
func TransitionFor(current Stage, action ActionType, data ActionData) (Stage, bool) {
	switch current {
	case StageAgentInitial:
		if action != ActionRequestPiliAnalysis {
			return current, false
		}
		analysis, ok := data.(PiliAnalysisData)
		if !ok || !analysis.CanSell {
			return current, false
		}
		return StageLawyerValidation, true
	case StageLawyerValidation:
		if action == ActionValidatePiliAnalysis {
			return StageAdminContract, true
		}
	case StageAdminContract:
		if action == ActionGenerateContract {
			return StageClientSignature, true
		}
	case StageClientSignature:
		if action == ActionCreateExpediente {
			return StageExpedienteCreated, true
		}
	}
	return current, false
}
