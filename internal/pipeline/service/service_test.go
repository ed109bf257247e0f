package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/internal/pipeline/repository"
	"crm_pipeline_backend/internal/pipeline/transport"
	"crm_pipeline_backend/platform/apperr"
	"crm_pipeline_backend/platform/logger"
)

// fakeRepo is an in-memory Repository used to exercise the service's
// orchestration without a database.
type fakeRepo struct {
	stages  map[domain.EntityRef]domain.PipelineStage
	actions map[uuid.UUID]domain.Action

	// staleFailures makes the next N stage writes lose the version race.
	staleFailures int
	advanceCalls  []repository.AdvanceStageParams
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		stages:  make(map[domain.EntityRef]domain.PipelineStage),
		actions: make(map[uuid.UUID]domain.Action),
	}
}

func (f *fakeRepo) GetStage(_ context.Context, ref domain.EntityRef) (domain.PipelineStage, error) {
	st, ok := f.stages[ref]
	if !ok {
		return domain.PipelineStage{}, apperr.NotFound("pipeline stage not found")
	}
	return st, nil
}

func (f *fakeRepo) AdvanceStage(_ context.Context, params repository.AdvanceStageParams) (domain.PipelineStage, error) {
	return f.advance(params)
}

func (f *fakeRepo) advance(params repository.AdvanceStageParams) (domain.PipelineStage, error) {
	f.advanceCalls = append(f.advanceCalls, params)
	if f.staleFailures > 0 {
		f.staleFailures--
		return domain.PipelineStage{}, apperr.Wrap(apperr.KindConflict, "stage was modified concurrently", domain.ErrStaleVersion)
	}

	st, ok := f.stages[params.Ref]
	if !ok {
		if params.ExpectedVersion != 0 || params.FromStage != domain.StageAgentInitial {
			return domain.PipelineStage{}, apperr.Wrap(apperr.KindConflict, "stage was modified concurrently", domain.ErrStaleVersion)
		}
		st = domain.NewImplicitStage(params.Ref, time.Now())
	} else if st.Version != params.ExpectedVersion || st.CurrentStage != params.FromStage {
		return domain.PipelineStage{}, apperr.Wrap(apperr.KindConflict, "stage was modified concurrently", domain.ErrStaleVersion)
	}

	st.CurrentStage = params.ToStage
	st.Version++
	st.StageEnteredAt = time.Now()
	if params.HiringCodeID != nil {
		st.HiringCodeID = params.HiringCodeID
	}
	f.stages[params.Ref] = st
	return st, nil
}

func (f *fakeRepo) ListTransitions(context.Context, domain.EntityRef) ([]domain.StageTransition, error) {
	return nil, nil
}

func (f *fakeRepo) CreateAction(_ context.Context, params repository.CreateActionParams) (domain.Action, error) {
	for _, a := range f.actions {
		if a.EntityRef == params.Ref && a.ActionType == params.ActionType && a.Status == domain.StatusPending {
			return domain.Action{}, apperr.Wrap(apperr.KindConflict, "a pending action of this type already exists", domain.ErrDuplicatePending)
		}
	}
	action := domain.Action{
		ID:         uuid.New(),
		EntityRef:  params.Ref,
		ActionType: params.ActionType,
		Status:     domain.StatusPending,
		ActionData: params.ActionData,
		CreatedBy:  params.CreatedBy,
		CreatedAt:  time.Now(),
	}
	f.actions[action.ID] = action
	return action, nil
}

func (f *fakeRepo) GetAction(_ context.Context, id uuid.UUID) (domain.Action, error) {
	a, ok := f.actions[id]
	if !ok {
		return domain.Action{}, apperr.NotFound("action not found")
	}
	return a, nil
}

func (f *fakeRepo) ListActions(_ context.Context, ref domain.EntityRef, filter repository.ActionFilter) ([]domain.Action, error) {
	var out []domain.Action
	for _, a := range f.actions {
		if a.EntityRef != ref {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.ActionType != "" && a.ActionType != filter.ActionType {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeRepo) ResolveActionAndAdvance(_ context.Context, params repository.ResolveActionParams) (domain.Action, domain.PipelineStage, error) {
	action, ok := f.actions[params.ActionID]
	if !ok {
		return domain.Action{}, domain.PipelineStage{}, apperr.NotFound("action not found")
	}
	if action.Status.Resolved() {
		return domain.Action{}, domain.PipelineStage{}, apperr.Wrap(apperr.KindConflict, "action already resolved", domain.ErrAlreadyResolved)
	}

	var stage domain.PipelineStage
	if params.Advance != nil {
		st, err := f.advance(*params.Advance)
		if err != nil {
			return domain.Action{}, domain.PipelineStage{}, err
		}
		stage = st
	} else {
		st, ok := f.stages[action.EntityRef]
		if !ok {
			st = domain.NewImplicitStage(action.EntityRef, time.Now())
		}
		stage = st
	}

	action.Status = params.Status
	action.Notes = params.Notes
	validatedBy := params.ValidatedBy
	validatedAt := params.ValidatedAt
	action.ValidatedBy = &validatedBy
	action.ValidatedAt = &validatedAt
	f.actions[action.ID] = action
	return action, stage, nil
}

func (f *fakeRepo) CountActions(_ context.Context, ref domain.EntityRef, actionType domain.ActionType) (int, error) {
	n := 0
	for _, a := range f.actions {
		if a.EntityRef == ref && a.ActionType == actionType {
			n++
		}
	}
	return n, nil
}

type allowAllPerms struct{}

func (allowAllPerms) CheckPermission(domain.Role, domain.ActionType) bool { return true }

type denyAllPerms struct{}

func (denyAllPerms) CheckPermission(domain.Role, domain.ActionType) bool { return false }

type fakeGate struct {
	eligible bool
}

func (g fakeGate) IsActorEligible(context.Context, uuid.UUID) (bool, error) {
	return g.eligible, nil
}

type testPipelineConfig struct{}

func (testPipelineConfig) GetMaxFirstCallAttempts() int                { return 5 }
func (testPipelineConfig) GetRelationshipFollowUpAfter() time.Duration { return 30 * 24 * time.Hour }
func (testPipelineConfig) GetSignatureReminderAfter() time.Duration    { return 72 * time.Hour }

func newTestService(repo repository.Repository, perms PermissionChecker, gate EligibilityGate) *Service {
	return New(repo, perms, gate, nil, nil, testPipelineConfig{}, logger.New("test"))
}

func testRef() domain.EntityRef {
	return domain.EntityRef{EntityType: domain.EntityContact, EntityID: uuid.New()}
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func seedPendingAction(t *testing.T, repo *fakeRepo, ref domain.EntityRef, actionType domain.ActionType, data any) domain.Action {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		raw = mustRaw(t, data)
	}
	action, err := repo.CreateAction(context.Background(), repository.CreateActionParams{
		Ref:        ref,
		ActionType: actionType,
		ActionData: raw,
		CreatedBy:  uuid.New(),
	})
	if err != nil {
		t.Fatalf("seed action: %v", err)
	}
	return action
}

func TestGetStageImplicitDefault(t *testing.T) {
	svc := newTestService(newFakeRepo(), allowAllPerms{}, fakeGate{eligible: true})

	resp, err := svc.GetStage(context.Background(), testRef())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.CurrentStage != string(domain.StageAgentInitial) {
		t.Errorf("stage = %s, want agent_initial", resp.CurrentStage)
	}
	if resp.Version != 0 {
		t.Errorf("version = %d, want 0", resp.Version)
	}
}

func TestCreateActionQuotaGate(t *testing.T) {
	svc := newTestService(newFakeRepo(), allowAllPerms{}, fakeGate{eligible: false})

	_, err := svc.CreateAction(context.Background(), testRef(), uuid.New(), transport.CreateActionRequest{
		ActionType: string(domain.ActionMakeFirstCall),
		ActionData: mustRaw(t, domain.FirstCallData{Attempt: 1, Outcome: domain.OutcomeAnswered}),
	})
	if !errors.Is(err, domain.ErrActorNotEligible) {
		t.Fatalf("err = %v, want ErrActorNotEligible", err)
	}
	if !apperr.Is(err, apperr.KindQuotaExceeded) {
		t.Fatalf("err kind = %v, want KindQuotaExceeded", apperr.GetKind(err))
	}
}

func TestCreateActionQuotaGateOnlyAppliesAtAgentInitial(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	repo.stages[ref] = domain.PipelineStage{
		EntityRef:    ref,
		CurrentStage: domain.StageAdminContract,
		Version:      3,
	}
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: false})

	_, err := svc.CreateAction(context.Background(), ref, uuid.New(), transport.CreateActionRequest{
		ActionType: string(domain.ActionGenerateContract),
		ActionData: mustRaw(t, domain.ContractData{HiringCodeID: uuid.New()}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateActionAnalysisPrecondition(t *testing.T) {
	svc := newTestService(newFakeRepo(), allowAllPerms{}, fakeGate{eligible: true})

	_, err := svc.CreateAction(context.Background(), testRef(), uuid.New(), transport.CreateActionRequest{
		ActionType: string(domain.ActionRequestPiliAnalysis),
		ActionData: mustRaw(t, domain.PiliAnalysisData{AnalysisID: uuid.New(), CanSell: true, Confidence: 0.7}),
	})
	if !errors.Is(err, domain.ErrAnalysisPrecondition) {
		t.Fatalf("err = %v, want ErrAnalysisPrecondition", err)
	}
	if !apperr.Is(err, apperr.KindPrecondition) {
		t.Fatalf("err kind = %v, want KindPrecondition", apperr.GetKind(err))
	}
}

func TestCreateActionDuplicatePending(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	seedPendingAction(t, repo, ref, domain.ActionMakeFirstCall, domain.FirstCallData{Attempt: 1, Outcome: domain.OutcomeNoAnswer})
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	_, err := svc.CreateAction(context.Background(), ref, uuid.New(), transport.CreateActionRequest{
		ActionType: string(domain.ActionMakeFirstCall),
		ActionData: mustRaw(t, domain.FirstCallData{Attempt: 2, Outcome: domain.OutcomeNoAnswer}),
	})
	if !errors.Is(err, domain.ErrDuplicatePending) {
		t.Fatalf("err = %v, want ErrDuplicatePending", err)
	}
}

func TestCreateActionRejectsMalformedPayload(t *testing.T) {
	svc := newTestService(newFakeRepo(), allowAllPerms{}, fakeGate{eligible: true})

	_, err := svc.CreateAction(context.Background(), testRef(), uuid.New(), transport.CreateActionRequest{
		ActionType: string(domain.ActionMakeFirstCall),
		ActionData: json.RawMessage(`{"attempt":1,"outcome":"smoke_signal"}`),
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestValidateActionRequiresNotesOnRejection(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	action := seedPendingAction(t, repo, ref, domain.ActionValidatePiliAnalysis, domain.LawyerReviewData{AnalysisID: uuid.New()})
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	_, err := svc.ValidateAction(context.Background(), action.ID, uuid.New(), domain.RoleLawyer, transport.ValidateActionRequest{
		Decision: string(domain.DecisionRejected),
		Notes:    "   ",
	})
	if !errors.Is(err, domain.ErrNotesRequired) {
		t.Fatalf("err = %v, want ErrNotesRequired", err)
	}
}

func TestValidateActionPermissionDenied(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	action := seedPendingAction(t, repo, ref, domain.ActionValidatePiliAnalysis, domain.LawyerReviewData{AnalysisID: uuid.New()})
	svc := newTestService(repo, denyAllPerms{}, fakeGate{eligible: true})

	_, err := svc.ValidateAction(context.Background(), action.ID, uuid.New(), domain.RoleAgent, transport.ValidateActionRequest{
		Decision: string(domain.DecisionValidated),
	})
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestValidateActionTriggersTransition(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	repo.stages[ref] = domain.PipelineStage{
		EntityRef:    ref,
		CurrentStage: domain.StageLawyerValidation,
		Version:      2,
	}
	action := seedPendingAction(t, repo, ref, domain.ActionValidatePiliAnalysis, domain.LawyerReviewData{AnalysisID: uuid.New()})
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	resp, err := svc.ValidateAction(context.Background(), action.ID, uuid.New(), domain.RoleLawyer, transport.ValidateActionRequest{
		Decision: string(domain.DecisionValidated),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != string(domain.StatusValidated) {
		t.Errorf("action status = %s, want validated", resp.Status)
	}
	if got := repo.stages[ref].CurrentStage; got != domain.StageAdminContract {
		t.Errorf("stage = %s, want admin_contract", got)
	}
	if got := repo.stages[ref].Version; got != 3 {
		t.Errorf("version = %d, want 3", got)
	}
}

func TestValidateActionStampsHiringCode(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	repo.stages[ref] = domain.PipelineStage{
		EntityRef:    ref,
		CurrentStage: domain.StageAdminContract,
		Version:      3,
	}
	hiringCode := uuid.New()
	action := seedPendingAction(t, repo, ref, domain.ActionGenerateContract, domain.ContractData{HiringCodeID: hiringCode})
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	_, err := svc.ValidateAction(context.Background(), action.ID, uuid.New(), domain.RoleAdmin, transport.ValidateActionRequest{
		Decision: string(domain.DecisionValidated),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := repo.stages[ref]
	if st.CurrentStage != domain.StageClientSignature {
		t.Errorf("stage = %s, want client_signature", st.CurrentStage)
	}
	if st.HiringCodeID == nil || *st.HiringCodeID != hiringCode {
		t.Errorf("hiring code = %v, want %s", st.HiringCodeID, hiringCode)
	}
}

func TestValidateActionUnsellableAnalysisHoldsStage(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	repo.stages[ref] = domain.PipelineStage{
		EntityRef:    ref,
		CurrentStage: domain.StageAgentInitial,
		Version:      1,
	}
	action := seedPendingAction(t, repo, ref, domain.ActionRequestPiliAnalysis,
		domain.PiliAnalysisData{AnalysisID: uuid.New(), CanSell: false, Confidence: 0.3})
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	resp, err := svc.ValidateAction(context.Background(), action.ID, uuid.New(), domain.RoleAgent, transport.ValidateActionRequest{
		Decision: string(domain.DecisionValidated),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != string(domain.StatusValidated) {
		t.Errorf("action status = %s, want validated", resp.Status)
	}
	if got := repo.stages[ref].CurrentStage; got != domain.StageAgentInitial {
		t.Errorf("stage = %s, want agent_initial (no advance on can_sell=false)", got)
	}
}

func TestValidateActionIdempotentRepeat(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	action := seedPendingAction(t, repo, ref, domain.ActionValidatePiliAnalysis, domain.LawyerReviewData{AnalysisID: uuid.New()})
	repo.stages[ref] = domain.PipelineStage{EntityRef: ref, CurrentStage: domain.StageLawyerValidation, Version: 1}
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})
	actor := uuid.New()

	first, err := svc.ValidateAction(context.Background(), action.ID, actor, domain.RoleLawyer, transport.ValidateActionRequest{
		Decision: string(domain.DecisionValidated),
	})
	if err != nil {
		t.Fatalf("first decision: %v", err)
	}

	// Same decision again: absorbed, stored record returned.
	repeat, err := svc.ValidateAction(context.Background(), action.ID, actor, domain.RoleLawyer, transport.ValidateActionRequest{
		Decision: string(domain.DecisionValidated),
	})
	if err != nil {
		t.Fatalf("repeat decision: %v", err)
	}
	if repeat.ID != first.ID || repeat.Status != first.Status {
		t.Errorf("repeat = %+v, want stored record %+v", repeat, first)
	}
	if got := repo.stages[ref].Version; got != 2 {
		t.Errorf("version = %d, want 2 (no second advance)", got)
	}

	// Different decision: refused.
	_, err = svc.ValidateAction(context.Background(), action.ID, actor, domain.RoleLawyer, transport.ValidateActionRequest{
		Decision: string(domain.DecisionRejected),
		Notes:    "changed my mind",
	})
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved", err)
	}
}

func TestValidateActionResolvedRecordStillRequiresPermission(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	action := seedPendingAction(t, repo, ref, domain.ActionValidatePiliAnalysis, domain.LawyerReviewData{AnalysisID: uuid.New()})
	repo.stages[ref] = domain.PipelineStage{EntityRef: ref, CurrentStage: domain.StageLawyerValidation, Version: 1}
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	_, err := svc.ValidateAction(context.Background(), action.ID, uuid.New(), domain.RoleLawyer, transport.ValidateActionRequest{
		Decision: string(domain.DecisionValidated),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// The idempotent repeat path must not leak the resolved record to a
	// role that may not validate this action type.
	denied := newTestService(repo, denyAllPerms{}, fakeGate{eligible: true})
	_, err = denied.ValidateAction(context.Background(), action.ID, uuid.New(), domain.RoleAgent, transport.ValidateActionRequest{
		Decision: string(domain.DecisionValidated),
	})
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestValidateActionRetriesOnStaleVersion(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	repo.stages[ref] = domain.PipelineStage{EntityRef: ref, CurrentStage: domain.StageLawyerValidation, Version: 1}
	action := seedPendingAction(t, repo, ref, domain.ActionValidatePiliAnalysis, domain.LawyerReviewData{AnalysisID: uuid.New()})
	repo.staleFailures = 2
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	resp, err := svc.ValidateAction(context.Background(), action.ID, uuid.New(), domain.RoleLawyer, transport.ValidateActionRequest{
		Decision: string(domain.DecisionValidated),
	})
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if resp.Status != string(domain.StatusValidated) {
		t.Errorf("status = %s, want validated", resp.Status)
	}
	if len(repo.advanceCalls) != 3 {
		t.Errorf("advance attempts = %d, want 3", len(repo.advanceCalls))
	}
}

func TestValidateActionStaleVersionBudgetExhausted(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	repo.stages[ref] = domain.PipelineStage{EntityRef: ref, CurrentStage: domain.StageLawyerValidation, Version: 1}
	action := seedPendingAction(t, repo, ref, domain.ActionValidatePiliAnalysis, domain.LawyerReviewData{AnalysisID: uuid.New()})
	repo.staleFailures = maxAdvanceRetries
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	_, err := svc.ValidateAction(context.Background(), action.ID, uuid.New(), domain.RoleLawyer, transport.ValidateActionRequest{
		Decision: string(domain.DecisionValidated),
	})
	if !errors.Is(err, domain.ErrStaleVersion) {
		t.Fatalf("err = %v, want ErrStaleVersion", err)
	}
	if got := repo.actions[action.ID].Status; got != domain.StatusPending {
		t.Errorf("action status = %s, want pending (untouched on stale failure)", got)
	}
}

func TestValidateActionRejectionReissuesFollowUp(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	repo.stages[ref] = domain.PipelineStage{EntityRef: ref, CurrentStage: domain.StageLawyerValidation, Version: 1}
	action := seedPendingAction(t, repo, ref, domain.ActionValidatePiliAnalysis, domain.LawyerReviewData{AnalysisID: uuid.New()})
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	_, err := svc.ValidateAction(context.Background(), action.ID, uuid.New(), domain.RoleLawyer, transport.ValidateActionRequest{
		Decision: string(domain.DecisionRejected),
		Notes:    "analysis misses the client's residency status",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	followUps, err := repo.ListActions(context.Background(), ref, repository.ActionFilter{
		Status:     domain.StatusPending,
		ActionType: domain.ActionFollowUpRejectedCase,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(followUps) != 1 {
		t.Fatalf("follow-ups = %d, want 1", len(followUps))
	}
	if got := repo.stages[ref].CurrentStage; got != domain.StageLawyerValidation {
		t.Errorf("stage = %s, want unchanged lawyer_validation", got)
	}
}

func TestCompleteSignature(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	repo.stages[ref] = domain.PipelineStage{EntityRef: ref, CurrentStage: domain.StageClientSignature, Version: 4}
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	req := transport.SignatureCompleteRequest{
		EntityType:       string(ref.EntityType),
		EntityID:         ref.EntityID,
		ExpedienteNumber: "EXP-2026-0042",
		PaymentReference: "pay-77",
	}

	resp, err := svc.CompleteSignature(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.CurrentStage != string(domain.StageExpedienteCreated) {
		t.Errorf("stage = %s, want expediente_created", resp.CurrentStage)
	}
	if !resp.Terminal {
		t.Error("terminal = false, want true")
	}

	// Replay is absorbed.
	again, err := svc.CompleteSignature(context.Background(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.CurrentStage != string(domain.StageExpedienteCreated) {
		t.Errorf("replay stage = %s, want expediente_created", again.CurrentStage)
	}

	// Exactly one create_expediente on the ledger.
	entries, _ := repo.ListActions(context.Background(), ref, repository.ActionFilter{ActionType: domain.ActionCreateExpediente})
	if len(entries) != 1 {
		t.Errorf("create_expediente entries = %d, want 1", len(entries))
	}
}

func TestCompleteSignatureWrongStage(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	repo.stages[ref] = domain.PipelineStage{EntityRef: ref, CurrentStage: domain.StageAdminContract, Version: 2}
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	_, err := svc.CompleteSignature(context.Background(), transport.SignatureCompleteRequest{
		EntityType:       string(ref.EntityType),
		EntityID:         ref.EntityID,
		ExpedienteNumber: "EXP-1",
	})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestAdvanceStageRejectsSkippedBackwardMove(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	repo.stages[ref] = domain.PipelineStage{EntityRef: ref, CurrentStage: domain.StageClientSignature, Version: 5}
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	_, err := svc.AdvanceStage(context.Background(), ref, uuid.New(), transport.AdvanceStageRequest{
		FromStage:       string(domain.StageClientSignature),
		ToStage:         string(domain.StageAgentInitial),
		ExpectedVersion: 5,
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}

	// One step back is a legal rejection reset.
	resp, err := svc.AdvanceStage(context.Background(), ref, uuid.New(), transport.AdvanceStageRequest{
		FromStage:       string(domain.StageClientSignature),
		ToStage:         string(domain.StageAdminContract),
		ExpectedVersion: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.CurrentStage != string(domain.StageAdminContract) {
		t.Errorf("stage = %s, want admin_contract", resp.CurrentStage)
	}
}

func TestAdvanceStageFirstWriteRequiresImplicitFromStage(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	// A fresh opportunity is implicitly agent_initial; a first write claiming
	// a later fromStage must not insert that stage.
	_, err := svc.AdvanceStage(context.Background(), ref, uuid.New(), transport.AdvanceStageRequest{
		FromStage:       string(domain.StageClientSignature),
		ToStage:         string(domain.StageExpedienteCreated),
		ExpectedVersion: 0,
	})
	if !errors.Is(err, domain.ErrStaleVersion) {
		t.Fatalf("err = %v, want ErrStaleVersion", err)
	}
	if _, ok := repo.stages[ref]; ok {
		t.Fatal("forged first write must not create a stage row")
	}

	resp, err := svc.AdvanceStage(context.Background(), ref, uuid.New(), transport.AdvanceStageRequest{
		FromStage:       string(domain.StageAgentInitial),
		ToStage:         string(domain.StageLawyerValidation),
		ExpectedVersion: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.CurrentStage != string(domain.StageLawyerValidation) {
		t.Errorf("stage = %s, want lawyer_validation", resp.CurrentStage)
	}
}

func TestOpenRelationshipFollowUpAbsorbsDuplicate(t *testing.T) {
	repo := newFakeRepo()
	ref := testRef()
	svc := newTestService(repo, allowAllPerms{}, fakeGate{eligible: true})

	if err := svc.OpenRelationshipFollowUp(context.Background(), ref); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := svc.OpenRelationshipFollowUp(context.Background(), ref); err != nil {
		t.Fatalf("second open should be absorbed: %v", err)
	}
}
