package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/internal/pipeline/transport"
)

// systemActor attributes machine-driven writes (webhooks, scheduled jobs).
var systemActor = uuid.Nil

func toStageResponse(st domain.PipelineStage) transport.StageResponse {
	resp := transport.StageResponse{
		EntityType:     string(st.EntityType),
		EntityID:       st.EntityID.String(),
		CurrentStage:   string(st.CurrentStage),
		StageEnteredAt: st.StageEnteredAt.Format(time.RFC3339),
		Version:        st.Version,
		Terminal:       st.CurrentStage.Terminal(),
	}
	if st.HiringCodeID != nil {
		id := st.HiringCodeID.String()
		resp.HiringCodeID = &id
	}
	return resp
}

func toActionResponse(a domain.Action) transport.ActionResponse {
	resp := transport.ActionResponse{
		ID:         a.ID.String(),
		EntityType: string(a.EntityType),
		EntityID:   a.EntityID.String(),
		ActionType: string(a.ActionType),
		Status:     string(a.Status),
		ActionData: a.ActionData,
		Notes:      a.Notes,
		CreatedBy:  a.CreatedBy.String(),
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
	}
	if a.ValidatedBy != nil {
		id := a.ValidatedBy.String()
		resp.ValidatedBy = &id
	}
	if a.ValidatedAt != nil {
		at := a.ValidatedAt.Format(time.RFC3339)
		resp.ValidatedAt = &at
	}
	return resp
}

func toActionListResponse(actions []domain.Action) transport.ActionListResponse {
	items := make([]transport.ActionResponse, 0, len(actions))
	for _, a := range actions {
		items = append(items, toActionResponse(a))
	}
	return transport.ActionListResponse{Items: items, Total: len(items)}
}

func toNextActionResponse(next *domain.NextAction) transport.NextActionResponse {
	if next == nil {
		return transport.NextActionResponse{}
	}
	return transport.NextActionResponse{
		Action: &transport.SuggestedAction{
			ActionType: string(next.ActionType),
			Priority:   string(next.Priority),
			Required:   next.Required,
			Reason:     next.Reason,
		},
	}
}

func toTransitionListResponse(transitions []domain.StageTransition) transport.TransitionListResponse {
	items := make([]transport.TransitionResponse, 0, len(transitions))
	for _, t := range transitions {
		items = append(items, transport.TransitionResponse{
			ID:          t.ID.String(),
			FromStage:   string(t.FromStage),
			ToStage:     string(t.ToStage),
			TriggeredBy: string(t.TriggeredBy),
			ActorID:     t.ActorID.String(),
			OccurredAt:  t.OccurredAt.Format(time.RFC3339),
		})
	}
	return transport.TransitionListResponse{Items: items}
}

// hiringCodeFrom extracts the hiring code a validated contract stamps onto
// the stage record. Nil for every other action type.
func hiringCodeFrom(action domain.Action) *uuid.UUID {
	if action.ActionType != domain.ActionGenerateContract {
		return nil
	}
	payload, err := action.Payload()
	if err != nil {
		return nil
	}
	contract, ok := payload.(domain.ContractData)
	if !ok {
		return nil
	}
	id := contract.HiringCodeID
	return &id
}

func encodeExpedienteData(req transport.SignatureCompleteRequest) (json.RawMessage, error) {
	data := domain.ExpedienteData{
		ExpedienteNumber: req.ExpedienteNumber,
		PaymentReference: req.PaymentReference,
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(data)
}
