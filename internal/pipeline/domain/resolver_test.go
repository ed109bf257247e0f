package domain

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func callAction(t *testing.T, attempt int, outcome string, status ActionStatus) Action {
	t.Helper()
	return Action{
		ID:         uuid.New(),
		ActionType: ActionMakeFirstCall,
		Status:     status,
		ActionData: mustJSON(t, FirstCallData{Attempt: attempt, Outcome: outcome, DurationSeconds: 60}),
	}
}

func analysisAction(t *testing.T, canSell bool, status ActionStatus) Action {
	t.Helper()
	return Action{
		ID:         uuid.New(),
		ActionType: ActionRequestPiliAnalysis,
		Status:     status,
		ActionData: mustJSON(t, PiliAnalysisData{AnalysisID: uuid.New(), CanSell: canSell, Confidence: 0.8}),
	}
}

func simpleAction(actionType ActionType, status ActionStatus) Action {
	return Action{ID: uuid.New(), ActionType: actionType, Status: status}
}

func TestSuggestNextAction(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cfg := DefaultResolverConfig(now)
	opp := Opportunity{EntityRef: EntityRef{EntityType: EntityContact, EntityID: uuid.New()}, Grading: "B+"}

	cases := []struct {
		name         string
		stage        Stage
		actions      []Action
		wantType     ActionType
		wantPriority Priority
		wantRequired bool
		wantNil      bool
	}{
		{
			name:         "fresh opportunity needs first call",
			stage:        StageAgentInitial,
			actions:      nil,
			wantType:     ActionMakeFirstCall,
			wantPriority: PriorityHigh,
			wantRequired: true,
		},
		{
			name:  "unanswered calls under budget propose another attempt",
			stage: StageAgentInitial,
			actions: []Action{
				callAction(t, 1, OutcomeNoAnswer, StatusValidated),
				callAction(t, 2, OutcomeVoicemail, StatusValidated),
			},
			wantType:     ActionMakeFirstCall,
			wantPriority: PriorityHigh,
			wantRequired: true,
		},
		{
			name:  "budget exhausted proposes failed-call follow-up",
			stage: StageAgentInitial,
			actions: []Action{
				callAction(t, 1, OutcomeNoAnswer, StatusValidated),
				callAction(t, 2, OutcomeNoAnswer, StatusValidated),
				callAction(t, 3, OutcomeVoicemail, StatusValidated),
				callAction(t, 4, OutcomeWrongNumber, StatusValidated),
				callAction(t, 5, OutcomeNoAnswer, StatusValidated),
			},
			wantType:     ActionFollowUpFailedCalls,
			wantPriority: PriorityMedium,
			wantRequired: false,
		},
		{
			name:  "exhausted call budget yields to the lawyer gate once advanced",
			stage: StageLawyerValidation,
			actions: []Action{
				callAction(t, 1, OutcomeNoAnswer, StatusValidated),
				callAction(t, 2, OutcomeNoAnswer, StatusValidated),
				callAction(t, 3, OutcomeNoAnswer, StatusValidated),
				callAction(t, 4, OutcomeNoAnswer, StatusValidated),
				callAction(t, 5, OutcomeNoAnswer, StatusValidated),
				analysisAction(t, true, StatusValidated),
			},
			wantType:     ActionElevateToLawyer,
			wantPriority: PriorityHigh,
			wantRequired: true,
		},
		{
			name:  "contact made but no analysis yet",
			stage: StageAgentInitial,
			actions: []Action{
				callAction(t, 1, OutcomeAnswered, StatusValidated),
			},
			wantType:     ActionRequestPiliAnalysis,
			wantPriority: PriorityHigh,
			wantRequired: true,
		},
		{
			name:  "negative analysis verdict proposes rejected-case follow-up",
			stage: StageAgentInitial,
			actions: []Action{
				callAction(t, 1, OutcomeAnswered, StatusValidated),
				analysisAction(t, false, StatusValidated),
			},
			wantType:     ActionFollowUpRejectedCase,
			wantPriority: PriorityMedium,
			wantRequired: false,
		},
		{
			name:  "lawyer stage proposes elevation first",
			stage: StageLawyerValidation,
			actions: []Action{
				callAction(t, 1, OutcomeAnswered, StatusValidated),
				analysisAction(t, true, StatusValidated),
			},
			wantType:     ActionElevateToLawyer,
			wantPriority: PriorityHigh,
			wantRequired: true,
		},
		{
			name:  "elevated case awaits legal validation",
			stage: StageLawyerValidation,
			actions: []Action{
				callAction(t, 1, OutcomeAnswered, StatusValidated),
				analysisAction(t, true, StatusValidated),
				simpleAction(ActionElevateToLawyer, StatusValidated),
			},
			wantType:     ActionValidatePiliAnalysis,
			wantPriority: PriorityHigh,
			wantRequired: true,
		},
		{
			name:  "admin stage needs tramite decision first",
			stage: StageAdminContract,
			actions: []Action{
				callAction(t, 1, OutcomeAnswered, StatusValidated),
				analysisAction(t, true, StatusValidated),
				simpleAction(ActionValidatePiliAnalysis, StatusValidated),
			},
			wantType:     ActionApproveOrRejectTramite,
			wantPriority: PriorityHigh,
			wantRequired: true,
		},
		{
			name:  "approved tramite needs a contract",
			stage: StageAdminContract,
			actions: []Action{
				callAction(t, 1, OutcomeAnswered, StatusValidated),
				analysisAction(t, true, StatusValidated),
				simpleAction(ActionValidatePiliAnalysis, StatusValidated),
				simpleAction(ActionApproveOrRejectTramite, StatusValidated),
			},
			wantType:     ActionGenerateContract,
			wantPriority: PriorityHigh,
			wantRequired: true,
		},
		{
			name:  "client signature is a waiting state",
			stage: StageClientSignature,
			actions: []Action{
				callAction(t, 1, OutcomeAnswered, StatusValidated),
				analysisAction(t, true, StatusValidated),
			},
			wantType:     ActionWaitSignaturePayment,
			wantPriority: PriorityLow,
			wantRequired: false,
		},
		{
			name:  "completed pipeline proposes relationship follow-up",
			stage: StageExpedienteCreated,
			actions: []Action{
				callAction(t, 1, OutcomeAnswered, StatusValidated),
				analysisAction(t, true, StatusValidated),
			},
			wantType:     ActionRelationshipFollowUp,
			wantPriority: PriorityLow,
			wantRequired: false,
		},
		{
			name:  "recent relationship follow-up silences the resolver",
			stage: StageExpedienteCreated,
			actions: []Action{
				callAction(t, 1, OutcomeAnswered, StatusValidated),
				analysisAction(t, true, StatusValidated),
				{
					ID:         uuid.New(),
					ActionType: ActionRelationshipFollowUp,
					Status:     StatusValidated,
					CreatedAt:  now.AddDate(0, 0, -7),
				},
			},
			wantNil: true,
		},
		{
			name:  "stale relationship follow-up resurfaces",
			stage: StageExpedienteCreated,
			actions: []Action{
				callAction(t, 1, OutcomeAnswered, StatusValidated),
				analysisAction(t, true, StatusValidated),
				{
					ID:         uuid.New(),
					ActionType: ActionRelationshipFollowUp,
					Status:     StatusValidated,
					CreatedAt:  now.AddDate(0, 0, -45),
				},
			},
			wantType:     ActionRelationshipFollowUp,
			wantPriority: PriorityLow,
			wantRequired: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SuggestNextAction(opp, tc.stage, tc.actions, cfg)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected a suggestion, got nil")
			}
			if got.ActionType != tc.wantType {
				t.Errorf("action = %s, want %s", got.ActionType, tc.wantType)
			}
			if got.Priority != tc.wantPriority {
				t.Errorf("priority = %s, want %s", got.Priority, tc.wantPriority)
			}
			if got.Required != tc.wantRequired {
				t.Errorf("required = %v, want %v", got.Required, tc.wantRequired)
			}
			if got.Reason == "" {
				t.Error("reason must not be empty")
			}
		})
	}
}

func TestSuggestNextActionAttemptReason(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cfg := DefaultResolverConfig(now)

	actions := []Action{
		callAction(t, 1, OutcomeNoAnswer, StatusValidated),
		callAction(t, 2, OutcomeNoAnswer, StatusValidated),
		callAction(t, 3, OutcomeVoicemail, StatusValidated),
	}

	got := SuggestNextAction(Opportunity{}, StageAgentInitial, actions, cfg)
	if got == nil || got.ActionType != ActionMakeFirstCall {
		t.Fatalf("expected another call attempt, got %+v", got)
	}
	want := fmt.Sprintf("attempt %d of %d to reach the client", 4, cfg.MaxFirstCallAttempts)
	if got.Reason != want {
		t.Errorf("reason = %q, want %q", got.Reason, want)
	}
}

// Identical input must yield identical output: the resolver has no hidden
// clock or state.
func TestSuggestNextActionIsPure(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cfg := DefaultResolverConfig(now)
	opp := Opportunity{EntityRef: EntityRef{EntityType: EntityLead, EntityID: uuid.New()}}
	actions := []Action{
		callAction(t, 1, OutcomeAnswered, StatusValidated),
	}

	first := SuggestNextAction(opp, StageAgentInitial, actions, cfg)
	for i := 0; i < 10; i++ {
		again := SuggestNextAction(opp, StageAgentInitial, actions, cfg)
		if *again != *first {
			t.Fatalf("resolver output changed between calls: %+v vs %+v", again, first)
		}
	}
}

// A suggestion is advice, not state: resolving something else entirely must
// not break the resolver, it just recomputes from the ledger.
func TestSuggestNextActionRecomputesFromLedger(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cfg := DefaultResolverConfig(now)

	actions := []Action{callAction(t, 1, OutcomeAnswered, StatusValidated)}
	before := SuggestNextAction(Opportunity{}, StageAgentInitial, actions, cfg)
	if before == nil || before.ActionType != ActionRequestPiliAnalysis {
		t.Fatalf("expected analysis proposal, got %+v", before)
	}

	actions = append(actions, analysisAction(t, true, StatusPending))
	after := SuggestNextAction(Opportunity{}, StageAgentInitial, actions, cfg)
	if after != nil && after.ActionType == ActionRequestPiliAnalysis {
		t.Fatalf("resolver should not re-propose an already-requested analysis: %+v", after)
	}
}
