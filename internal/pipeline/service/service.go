// Package service implements the pipeline engine's business operations: the
// action ledger and validation gate, the stage transition trigger, and the
// next-action resolver facade.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/internal/pipeline/repository"
	"crm_pipeline_backend/internal/pipeline/transport"
	"crm_pipeline_backend/platform/apperr"
	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/logger"
)

// maxAdvanceRetries bounds how often a stage write is retried after losing a
// version race. Exhausting the budget surfaces StaleVersion to the caller.
const maxAdvanceRetries = 3

// Service provides business logic for the pipeline engine.
type Service struct {
	repo      repository.Repository
	perms     PermissionChecker
	gate      EligibilityGate
	reminders ReminderScheduler
	bus       events.Bus
	cfg       config.PipelineConfig
	log       *logger.Logger
}

// New creates a new pipeline service. reminders may be nil when no task
// queue is configured.
func New(
	repo repository.Repository,
	perms PermissionChecker,
	gate EligibilityGate,
	reminders ReminderScheduler,
	bus events.Bus,
	cfg config.PipelineConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:      repo,
		perms:     perms,
		gate:      gate,
		reminders: reminders,
		bus:       bus,
		cfg:       cfg,
		log:       log,
	}
}

// GetStage returns the opportunity's stage record. An opportunity with no
// stage row yet is implicitly agent_initial at version zero.
func (s *Service) GetStage(ctx context.Context, ref domain.EntityRef) (transport.StageResponse, error) {
	st, err := s.stageOrImplicit(ctx, ref)
	if err != nil {
		return transport.StageResponse{}, err
	}
	return toStageResponse(st), nil
}

// AdvanceStage performs an explicit version-checked stage write on behalf of
// an operator. The move must either go forward in the ladder or step back
// exactly one stage (a rejection reset); stages are never skipped backward.
func (s *Service) AdvanceStage(ctx context.Context, ref domain.EntityRef, actorID uuid.UUID, req transport.AdvanceStageRequest) (transport.StageResponse, error) {
	from := domain.Stage(req.FromStage)
	to := domain.Stage(req.ToStage)
	if !from.Valid() || !to.Valid() {
		return transport.StageResponse{}, apperr.Validation("unknown pipeline stage")
	}
	if from == to {
		return transport.StageResponse{}, apperr.Validation("fromStage and toStage must differ")
	}
	if to.Before(from) && !adjacent(to, from) {
		return transport.StageResponse{}, apperr.Validation("stage cannot be skipped backward")
	}

	st, err := s.repo.AdvanceStage(ctx, repository.AdvanceStageParams{
		Ref:             ref,
		FromStage:       from,
		ToStage:         to,
		ExpectedVersion: req.ExpectedVersion,
		TriggeredBy:     domain.TriggerManual,
		ActorID:         actorID,
	})
	if err != nil {
		return transport.StageResponse{}, err
	}

	s.log.StageTransition(string(ref.EntityType), ref.EntityID.String(), string(from), string(to), string(domain.TriggerManual))
	s.afterStageAdvance(ctx, st, from, domain.TriggerManual, actorID)
	return toStageResponse(st), nil
}

// CreateAction opens a new pending ledger entry. The payload is validated
// against the action type's schema before acceptance, the eligibility gate
// is consulted for agent_initial-stage work, and requesting an analysis with
// zero logged calls is refused.
func (s *Service) CreateAction(ctx context.Context, ref domain.EntityRef, actorID uuid.UUID, req transport.CreateActionRequest) (transport.ActionResponse, error) {
	actionType := domain.ActionType(req.ActionType)
	if !actionType.Valid() {
		return transport.ActionResponse{}, apperr.Validation("unknown action type")
	}

	if _, err := domain.DecodeActionData(actionType, req.ActionData); err != nil {
		return transport.ActionResponse{}, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}

	st, err := s.stageOrImplicit(ctx, ref)
	if err != nil {
		return transport.ActionResponse{}, err
	}

	if st.CurrentStage == domain.StageAgentInitial {
		eligible, err := s.gate.IsActorEligible(ctx, actorID)
		if err != nil {
			return transport.ActionResponse{}, apperr.Wrap(apperr.KindInternal, "eligibility check failed", err)
		}
		if !eligible {
			return transport.ActionResponse{}, apperr.Wrap(apperr.KindQuotaExceeded, "actor is not eligible for new opportunities today", domain.ErrActorNotEligible)
		}
	}

	if actionType == domain.ActionRequestPiliAnalysis {
		calls, err := s.repo.CountActions(ctx, ref, domain.ActionMakeFirstCall)
		if err != nil {
			return transport.ActionResponse{}, err
		}
		if calls == 0 {
			return transport.ActionResponse{}, apperr.Wrap(apperr.KindPrecondition, "analysis requires at least one logged call", domain.ErrAnalysisPrecondition)
		}
	}

	action, err := s.repo.CreateAction(ctx, repository.CreateActionParams{
		Ref:        ref,
		ActionType: actionType,
		ActionData: req.ActionData,
		CreatedBy:  actorID,
	})
	if err != nil {
		return transport.ActionResponse{}, err
	}

	if actionType == domain.ActionMakeFirstCall {
		if tracker, ok := s.gate.(ContactTracker); ok {
			if err := tracker.RecordFirstContact(ctx, actorID, ref.EntityID); err != nil {
				s.log.NotifyFailure("first contact accounting", err)
			}
		}
	}

	s.log.Info("pipeline action created",
		"action_id", action.ID, "action_type", action.ActionType,
		"entity_type", ref.EntityType, "entity_id", ref.EntityID)
	return toActionResponse(action), nil
}

// ListActions returns the audit ledger for an opportunity, oldest first.
func (s *Service) ListActions(ctx context.Context, ref domain.EntityRef, req transport.ListActionsRequest) (transport.ActionListResponse, error) {
	filter := repository.ActionFilter{}
	if req.Status != "" {
		status := domain.ActionStatus(req.Status)
		if !status.Valid() {
			return transport.ActionListResponse{}, apperr.Validation("unknown action status")
		}
		filter.Status = status
	}
	if req.ActionType != "" {
		actionType := domain.ActionType(req.ActionType)
		if !actionType.Valid() {
			return transport.ActionListResponse{}, apperr.Validation("unknown action type")
		}
		filter.ActionType = actionType
	}

	actions, err := s.repo.ListActions(ctx, ref, filter)
	if err != nil {
		return transport.ActionListResponse{}, err
	}
	return toActionListResponse(actions), nil
}

// ValidateAction applies a human decision to a pending action and triggers
// any stage transition it gates in the same logical operation. Repeating the
// call with the identical decision on an already-resolved action returns the
// stored record (client retries are tolerated); a different decision fails
// with AlreadyResolved.
func (s *Service) ValidateAction(ctx context.Context, actionID, actorID uuid.UUID, role domain.Role, req transport.ValidateActionRequest) (transport.ActionResponse, error) {
	decision := domain.Decision(req.Decision)
	if !decision.Valid() {
		return transport.ActionResponse{}, apperr.Validation("decision must be validated or rejected")
	}

	action, err := s.repo.GetAction(ctx, actionID)
	if err != nil {
		return transport.ActionResponse{}, err
	}

	// Permission is checked before the idempotency rule so an actor who may
	// not validate this action type cannot read the resolved record either.
	if !role.Valid() || !s.perms.CheckPermission(role, action.ActionType) {
		return transport.ActionResponse{}, apperr.Forbidden("role is not allowed to validate this action type")
	}

	if action.Status.Resolved() {
		return s.resolveIdempotent(action, decision)
	}

	if decision == domain.DecisionRejected && strings.TrimSpace(req.Notes) == "" {
		return transport.ActionResponse{}, apperr.Wrap(apperr.KindValidation, "notes are required when rejecting an action", domain.ErrNotesRequired)
	}

	resolved, stage, prevStage, err := s.resolveWithRetry(ctx, action, actorID, decision, req.Notes)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			// Lost a race with another operator; fall back to the
			// idempotency rule against the winner's decision.
			if current, getErr := s.repo.GetAction(ctx, actionID); getErr == nil {
				return s.resolveIdempotent(current, decision)
			}
		}
		return transport.ActionResponse{}, err
	}

	s.log.ActionResolved(resolved.ID.String(), string(resolved.ActionType), string(decision), actorID.String())
	s.publishDecision(ctx, resolved, decision, req.Notes, actorID)

	if stage.CurrentStage != prevStage {
		s.log.StageTransition(string(stage.EntityType), stage.EntityID.String(),
			string(prevStage), string(stage.CurrentStage), string(resolved.ActionType))
		s.afterStageAdvance(ctx, stage, prevStage, resolved.ActionType, actorID)
	}

	if decision == domain.DecisionRejected && resolved.ActionType.GatesRejectionFollowUp() {
		s.reissueFollowUp(ctx, resolved.EntityRef)
	}

	return toActionResponse(resolved), nil
}

// SuggestNextAction queries the pure resolver for the single most relevant
// next action, or none when the pipeline is complete.
func (s *Service) SuggestNextAction(ctx context.Context, ref domain.EntityRef) (transport.NextActionResponse, error) {
	st, err := s.stageOrImplicit(ctx, ref)
	if err != nil {
		return transport.NextActionResponse{}, err
	}

	actions, err := s.repo.ListActions(ctx, ref, repository.ActionFilter{})
	if err != nil {
		return transport.NextActionResponse{}, err
	}

	next := domain.SuggestNextAction(
		domain.Opportunity{EntityRef: ref},
		st.CurrentStage,
		actions,
		domain.ResolverConfig{
			MaxFirstCallAttempts:      s.cfg.GetMaxFirstCallAttempts(),
			RelationshipFollowUpAfter: s.cfg.GetRelationshipFollowUpAfter(),
			Now:                       time.Now(),
		},
	)
	return toNextActionResponse(next), nil
}

// ListTransitions returns the immutable stage history for an opportunity.
func (s *Service) ListTransitions(ctx context.Context, ref domain.EntityRef) (transport.TransitionListResponse, error) {
	transitions, err := s.repo.ListTransitions(ctx, ref)
	if err != nil {
		return transport.TransitionListResponse{}, err
	}
	return toTransitionListResponse(transitions), nil
}

// CompleteSignature handles the signature+payment collaborator callback:
// it records the create_expediente action and advances the opportunity to
// expediente_created. Replayed callbacks on a completed pipeline are
// absorbed idempotently.
func (s *Service) CompleteSignature(ctx context.Context, req transport.SignatureCompleteRequest) (transport.StageResponse, error) {
	ref := domain.EntityRef{EntityType: domain.EntityType(req.EntityType), EntityID: req.EntityID}

	st, err := s.stageOrImplicit(ctx, ref)
	if err != nil {
		return transport.StageResponse{}, err
	}
	if st.CurrentStage.Terminal() {
		return toStageResponse(st), nil
	}
	if st.CurrentStage != domain.StageClientSignature {
		return transport.StageResponse{}, apperr.Conflict("opportunity is not awaiting signature and payment")
	}

	raw, err := encodeExpedienteData(req)
	if err != nil {
		return transport.StageResponse{}, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}

	action, err := s.repo.CreateAction(ctx, repository.CreateActionParams{
		Ref:        ref,
		ActionType: domain.ActionCreateExpediente,
		ActionData: raw,
		CreatedBy:  systemActor,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDuplicatePending) {
			return transport.StageResponse{}, err
		}
		action, err = s.pendingAction(ctx, ref, domain.ActionCreateExpediente)
		if err != nil {
			return transport.StageResponse{}, err
		}
	}

	resolved, stage, prevStage, err := s.resolveWithRetry(ctx, action, systemActor, domain.DecisionValidated, "")
	if err != nil {
		return transport.StageResponse{}, err
	}

	s.log.StageTransition(string(ref.EntityType), ref.EntityID.String(),
		string(prevStage), string(stage.CurrentStage), string(resolved.ActionType))
	s.afterStageAdvance(ctx, stage, prevStage, resolved.ActionType, systemActor)
	return toStageResponse(stage), nil
}

// OpenRelationshipFollowUp creates a relationship_follow_up pending action.
// Called by the scheduler worker when the follow-up window elapses; an
// already-open follow-up is not an error.
func (s *Service) OpenRelationshipFollowUp(ctx context.Context, ref domain.EntityRef) error {
	_, err := s.repo.CreateAction(ctx, repository.CreateActionParams{
		Ref:        ref,
		ActionType: domain.ActionRelationshipFollowUp,
		CreatedBy:  systemActor,
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicatePending) {
		return err
	}
	return nil
}

// resolveWithRetry applies the decision plus any gated stage advance,
// re-reading and retrying a bounded number of times when a concurrent
// writer advanced the stage first.
func (s *Service) resolveWithRetry(ctx context.Context, action domain.Action, actorID uuid.UUID, decision domain.Decision, notes string) (domain.Action, domain.PipelineStage, domain.Stage, error) {
	var lastErr error
	for attempt := 0; attempt < maxAdvanceRetries; attempt++ {
		st, err := s.stageOrImplicit(ctx, action.EntityRef)
		if err != nil {
			return domain.Action{}, domain.PipelineStage{}, "", err
		}

		var advance *repository.AdvanceStageParams
		if decision == domain.DecisionValidated {
			if target, ok := s.transitionTarget(st.CurrentStage, action); ok {
				advance = &repository.AdvanceStageParams{
					Ref:             action.EntityRef,
					FromStage:       st.CurrentStage,
					ToStage:         target,
					ExpectedVersion: st.Version,
					TriggeredBy:     action.ActionType,
					ActorID:         actorID,
					HiringCodeID:    hiringCodeFrom(action),
				}
			}
		}

		resolved, stage, err := s.repo.ResolveActionAndAdvance(ctx, repository.ResolveActionParams{
			ActionID:    action.ID,
			Status:      decision.Status(),
			Notes:       notes,
			ValidatedBy: actorID,
			ValidatedAt: time.Now(),
			Advance:     advance,
		})
		if err != nil {
			if errors.Is(err, domain.ErrStaleVersion) {
				lastErr = err
				continue
			}
			return domain.Action{}, domain.PipelineStage{}, "", err
		}
		return resolved, stage, st.CurrentStage, nil
	}
	return domain.Action{}, domain.PipelineStage{}, "", lastErr
}

// transitionTarget consults the transition table with the action's payload.
func (s *Service) transitionTarget(current domain.Stage, action domain.Action) (domain.Stage, bool) {
	payload, err := action.Payload()
	if err != nil {
		// Payloads were validated at the ledger boundary; a decode failure
		// here means stored data drifted, so no transition fires.
		s.log.Warn("stored action payload failed to decode", "action_id", action.ID, "error", err)
		return current, false
	}
	return domain.TransitionFor(current, action.ActionType, payload)
}

// resolveIdempotent implements the one-shot rule: repeating the identical
// decision returns the stored record, a different decision is a conflict.
func (s *Service) resolveIdempotent(action domain.Action, decision domain.Decision) (transport.ActionResponse, error) {
	if action.Status == decision.Status() {
		return toActionResponse(action), nil
	}
	return transport.ActionResponse{}, apperr.Wrap(apperr.KindConflict, "action was already resolved with a different decision", domain.ErrAlreadyResolved)
}

// reissueFollowUp opens the follow-up action a lawyer/admin rejection
// re-issues at the same stage. Best effort: an existing pending follow-up
// satisfies the rule.
func (s *Service) reissueFollowUp(ctx context.Context, ref domain.EntityRef) {
	_, err := s.repo.CreateAction(ctx, repository.CreateActionParams{
		Ref:        ref,
		ActionType: domain.ActionFollowUpRejectedCase,
		CreatedBy:  systemActor,
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicatePending) {
		s.log.Error("failed to reissue follow-up after rejection", "entity_id", ref.EntityID, "error", err)
	}
}

// afterStageAdvance publishes the transition event and schedules deferred
// follow-up work. Both are best effort and never fail the operation.
func (s *Service) afterStageAdvance(ctx context.Context, stage domain.PipelineStage, from domain.Stage, triggeredBy domain.ActionType, actorID uuid.UUID) {
	if s.bus != nil {
		s.bus.Publish(ctx, events.StageAdvanced{
			BaseEvent:   events.NewBaseEvent(),
			EntityType:  string(stage.EntityType),
			EntityID:    stage.EntityID,
			FromStage:   string(from),
			ToStage:     string(stage.CurrentStage),
			TriggeredBy: string(triggeredBy),
			ActorID:     actorID,
		})
	}

	if s.reminders == nil {
		return
	}
	switch stage.CurrentStage {
	case domain.StageClientSignature:
		runAt := time.Now().Add(s.cfg.GetSignatureReminderAfter())
		if err := s.reminders.ScheduleSignatureReminder(ctx, stage.EntityRef, runAt); err != nil {
			s.log.NotifyFailure("signature reminder scheduling", err)
		}
	case domain.StageExpedienteCreated:
		runAt := time.Now().Add(s.cfg.GetRelationshipFollowUpAfter())
		if err := s.reminders.ScheduleRelationshipFollowUp(ctx, stage.EntityRef, runAt); err != nil {
			s.log.NotifyFailure("relationship follow-up scheduling", err)
		}
	}
}

func (s *Service) publishDecision(ctx context.Context, action domain.Action, decision domain.Decision, notes string, actorID uuid.UUID) {
	if s.bus == nil {
		return
	}
	if decision == domain.DecisionValidated {
		s.bus.Publish(ctx, events.ActionValidated{
			BaseEvent:  events.NewBaseEvent(),
			ActionID:   action.ID,
			EntityType: string(action.EntityType),
			EntityID:   action.EntityID,
			ActionType: string(action.ActionType),
			ActorID:    actorID,
		})
		return
	}
	s.bus.Publish(ctx, events.ActionRejected{
		BaseEvent:  events.NewBaseEvent(),
		ActionID:   action.ID,
		EntityType: string(action.EntityType),
		EntityID:   action.EntityID,
		ActionType: string(action.ActionType),
		ActorID:    actorID,
		Notes:      notes,
	})
}

// stageOrImplicit reads the stage record, substituting the implicit
// agent_initial record for opportunities without a stage row yet.
func (s *Service) stageOrImplicit(ctx context.Context, ref domain.EntityRef) (domain.PipelineStage, error) {
	st, err := s.repo.GetStage(ctx, ref)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return domain.NewImplicitStage(ref, time.Now()), nil
		}
		return domain.PipelineStage{}, err
	}
	return st, nil
}

// pendingAction finds the entity's pending action of the given type.
func (s *Service) pendingAction(ctx context.Context, ref domain.EntityRef, actionType domain.ActionType) (domain.Action, error) {
	actions, err := s.repo.ListActions(ctx, ref, repository.ActionFilter{
		Status:     domain.StatusPending,
		ActionType: actionType,
	})
	if err != nil {
		return domain.Action{}, err
	}
	if len(actions) == 0 {
		return domain.Action{}, apperr.NotFound("pending action not found")
	}
	return actions[0], nil
}

func adjacent(earlier, later domain.Stage) bool {
	order := []domain.Stage{
		domain.StageAgentInitial,
		domain.StageLawyerValidation,
		domain.StageAdminContract,
		domain.StageClientSignature,
		domain.StageExpedienteCreated,
	}
	for i := 0; i < len(order)-1; i++ {
		if order[i] == earlier && order[i+1] == later {
			return true
		}
	}
	return false
}
