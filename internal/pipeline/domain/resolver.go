package domain

import (
	"fmt"
	"time"
)

// Priority ranks how urgently a suggested action should be taken.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Opportunity carries the attributes the resolver consumes. The engine never
// computes these; they come from the CRM layer.
type Opportunity struct {
	EntityRef
	Grading string // A, B+, B-, C; informational
	Status  string
}

// ResolverConfig tunes the resolver's business thresholds. Now is injected so
// the resolver stays a pure function of its inputs.
type ResolverConfig struct {
	MaxFirstCallAttempts      int
	RelationshipFollowUpAfter time.Duration
	Now                       time.Time
}

// DefaultResolverConfig returns the thresholds used when the caller has no
// overrides: a five-attempt first-call budget and a thirty-day relationship
// follow-up window.
func DefaultResolverConfig(now time.Time) ResolverConfig {
	return ResolverConfig{
		MaxFirstCallAttempts:      5,
		RelationshipFollowUpAfter: 30 * 24 * time.Hour,
		Now:                       now,
	}
}

// NextAction is the resolver's proposal: the single most relevant action a
// human should take next.
type NextAction struct {
	ActionType ActionType
	Priority   Priority
	Required   bool
	Reason     string
}

// SuggestNextAction deterministically computes the next action for an
// opportunity, or nil when the pipeline is fully complete. Rules are
// evaluated strictly in priority order; the first satisfied rule wins.
// The function has no side effects and returns identical output for
// identical input.
func SuggestNextAction(opp Opportunity, stage Stage, actions []Action, cfg ResolverConfig) *NextAction {
	calls := callHistory(actions)

	// 1. No successful contact yet and attempts remain.
	if stage == StageAgentInitial && !calls.succeeded && calls.attempts < cfg.MaxFirstCallAttempts {
		if calls.attempts == 0 {
			return &NextAction{
				ActionType: ActionMakeFirstCall,
				Priority:   PriorityHigh,
				Required:   true,
				Reason:     "no contact attempt logged yet",
			}
		}
		return &NextAction{
			ActionType: ActionMakeFirstCall,
			Priority:   PriorityHigh,
			Required:   true,
			Reason:     fmt.Sprintf("attempt %d of %d to reach the client", calls.attempts+1, cfg.MaxFirstCallAttempts),
		}
	}

	// 2. Call budget exhausted without a successful contact. Only while the
	// opportunity is still in the agent's hands: once it advances, the
	// stage-gate rules below take over.
	if stage == StageAgentInitial && !calls.succeeded && calls.attempts >= cfg.MaxFirstCallAttempts {
		return &NextAction{
			ActionType: ActionFollowUpFailedCalls,
			Priority:   PriorityMedium,
			Required:   false,
			Reason:     "all first-call attempts exhausted without reaching the client",
		}
	}

	// 3. Contact made but the case has not been analyzed.
	if stage == StageAgentInitial && calls.attempts > 0 && !hasAction(actions, ActionRequestPiliAnalysis) {
		return &NextAction{
			ActionType: ActionRequestPiliAnalysis,
			Priority:   PriorityHigh,
			Required:   true,
			Reason:     "case not yet analyzed for sale viability",
		}
	}

	// 4. Analysis came back with a negative viability verdict.
	if analysisRejected(actions) {
		return &NextAction{
			ActionType: ActionFollowUpRejectedCase,
			Priority:   PriorityMedium,
			Required:   false,
			Reason:     "case analysis found the sale not viable",
		}
	}

	// 5. Lawyer gate: elevate first, then validate the analysis.
	if stage == StageLawyerValidation && !hasActionInStatus(actions, ActionValidatePiliAnalysis, StatusPending, StatusValidated) {
		if !hasActionInStatus(actions, ActionElevateToLawyer, StatusPending, StatusValidated) {
			return &NextAction{
				ActionType: ActionElevateToLawyer,
				Priority:   PriorityHigh,
				Required:   true,
				Reason:     "case requires legal validation before continuing",
			}
		}
		return &NextAction{
			ActionType: ActionValidatePiliAnalysis,
			Priority:   PriorityHigh,
			Required:   true,
			Reason:     "analysis awaiting legal validation",
		}
	}

	// 6. Admin gate: decide the tramite, then generate the contract.
	if stage == StageAdminContract && !hasActionInStatus(actions, ActionGenerateContract, StatusValidated) {
		if !hasActionInStatus(actions, ActionApproveOrRejectTramite, StatusValidated) {
			return &NextAction{
				ActionType: ActionApproveOrRejectTramite,
				Priority:   PriorityHigh,
				Required:   true,
				Reason:     "a decision on the tramite is required",
			}
		}
		return &NextAction{
			ActionType: ActionGenerateContract,
			Priority:   PriorityHigh,
			Required:   true,
			Reason:     "tramite approved, contract must be generated",
		}
	}

	// 7. Waiting on the client: informational, not actionable by staff.
	if stage == StageClientSignature {
		return &NextAction{
			ActionType: ActionWaitSignaturePayment,
			Priority:   PriorityLow,
			Required:   false,
			Reason:     "awaiting client signature and payment",
		}
	}

	// 8. Pipeline complete: keep the relationship warm.
	if stage == StageExpedienteCreated && relationshipFollowUpDue(actions, cfg) {
		return &NextAction{
			ActionType: ActionRelationshipFollowUp,
			Priority:   PriorityLow,
			Required:   false,
			Reason:     "no recent follow-up since the expediente was created",
		}
	}

	// 9. Nothing left to do.
	return nil
}

type callSummary struct {
	attempts  int
	succeeded bool
}

func callHistory(actions []Action) callSummary {
	var summary callSummary
	for _, a := range actions {
		if a.ActionType != ActionMakeFirstCall {
			continue
		}
		summary.attempts++
		if a.Status != StatusValidated {
			continue
		}
		if data, err := a.Payload(); err == nil {
			if call, ok := data.(FirstCallData); ok && call.Successful() {
				summary.succeeded = true
			}
		}
	}
	return summary
}

func hasAction(actions []Action, actionType ActionType) bool {
	for _, a := range actions {
		if a.ActionType == actionType {
			return true
		}
	}
	return false
}

func hasActionInStatus(actions []Action, actionType ActionType, statuses ...ActionStatus) bool {
	for _, a := range actions {
		if a.ActionType != actionType {
			continue
		}
		for _, s := range statuses {
			if a.Status == s {
				return true
			}
		}
	}
	return false
}

func analysisRejected(actions []Action) bool {
	for _, a := range actions {
		if a.ActionType != ActionRequestPiliAnalysis || a.Status != StatusValidated {
			continue
		}
		if data, err := a.Payload(); err == nil {
			if analysis, ok := data.(PiliAnalysisData); ok && !analysis.CanSell {
				return true
			}
		}
	}
	return false
}

func relationshipFollowUpDue(actions []Action, cfg ResolverConfig) bool {
	var latest time.Time
	for _, a := range actions {
		if a.ActionType != ActionRelationshipFollowUp {
			continue
		}
		if a.CreatedAt.After(latest) {
			latest = a.CreatedAt
		}
	}
	if latest.IsZero() {
		return true
	}
	return cfg.Now.Sub(latest) > cfg.RelationshipFollowUpAfter
}
