package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionType identifies what unit of work an action represents.
type ActionType string

const (
	ActionMakeFirstCall          ActionType = "make_first_call"
	ActionFollowUpFailedCalls    ActionType = "follow_up_after_failed_calls"
	ActionRequestPiliAnalysis    ActionType = "request_pili_analysis"
	ActionFollowUpRejectedCase   ActionType = "follow_up_rejected_case"
	ActionElevateToLawyer        ActionType = "elevate_to_lawyer"
	ActionValidatePiliAnalysis   ActionType = "validate_pili_analysis"
	ActionApproveOrRejectTramite ActionType = "approve_or_reject_tramite"
	ActionGenerateContract       ActionType = "generate_contract"
	ActionWaitSignaturePayment   ActionType = "wait_signature_payment"
	ActionCreateExpediente       ActionType = "create_expediente"
	ActionRelationshipFollowUp   ActionType = "relationship_follow_up"
)

// TriggerManual labels transitions performed directly by an operator rather
// than through a validated gating action.
const TriggerManual ActionType = "manual_advance"

var knownActionTypes = map[ActionType]struct{}{
	ActionMakeFirstCall:          {},
	ActionFollowUpFailedCalls:    {},
	ActionRequestPiliAnalysis:    {},
	ActionFollowUpRejectedCase:   {},
	ActionElevateToLawyer:        {},
	ActionValidatePiliAnalysis:   {},
	ActionApproveOrRejectTramite: {},
	ActionGenerateContract:       {},
	ActionWaitSignaturePayment:   {},
	ActionCreateExpediente:       {},
	ActionRelationshipFollowUp:   {},
}

// Valid reports whether the action type is part of the ledger vocabulary.
func (t ActionType) Valid() bool {
	_, ok := knownActionTypes[t]
	return ok
}

// GatesRejectionFollowUp reports whether a rejection of this action at a
// lawyer or admin gate re-issues a follow-up action at the same stage.
func (t ActionType) GatesRejectionFollowUp() bool {
	switch t {
	case ActionValidatePiliAnalysis, ActionApproveOrRejectTramite, ActionGenerateContract:
		return true
	}
	return false
}

// ActionStatus is the lifecycle state of a ledger entry. Pending is the only
// non-terminal state; an action is mutated exactly once, by the validation
// gate, into validated or rejected.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusValidated ActionStatus = "validated"
	StatusRejected  ActionStatus = "rejected"
)

// Valid reports whether the status is a known enum value.
func (s ActionStatus) Valid() bool {
	return s == StatusPending || s == StatusValidated || s == StatusRejected
}

// Resolved reports whether the status is terminal.
func (s ActionStatus) Resolved() bool {
	return s == StatusValidated || s == StatusRejected
}

// Decision is the validation gate's verdict on a pending action.
type Decision string

const (
	DecisionValidated Decision = "validated"
	DecisionRejected  Decision = "rejected"
)

// Valid reports whether the decision is a known enum value.
func (d Decision) Valid() bool {
	return d == DecisionValidated || d == DecisionRejected
}

// Status returns the terminal action status this decision produces.
func (d Decision) Status() ActionStatus {
	if d == DecisionRejected {
		return StatusRejected
	}
	return StatusValidated
}

// Action is one auditable unit of work requested against an opportunity.
// Validated and rejected actions are retained permanently.
type Action struct {
	ID uuid.UUID
	EntityRef
	ActionType  ActionType
	Status      ActionStatus
	ActionData  json.RawMessage
	Notes       string
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	ValidatedBy *uuid.UUID
	ValidatedAt *time.Time
}

// Payload decodes the action's data into its typed variant.
func (a Action) Payload() (ActionData, error) {
	return DecodeActionData(a.ActionType, a.ActionData)
}

// Role is the kind of human actor operating on the pipeline.
type Role string

const (
	RoleAgent  Role = "agent"
	RoleLawyer Role = "lawyer"
	RoleAdmin  Role = "admin"
)

// Valid reports whether the role is one the engine recognizes.
func (r Role) Valid() bool {
	return r == RoleAgent || r == RoleLawyer || r == RoleAdmin
}
