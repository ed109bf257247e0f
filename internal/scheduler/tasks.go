package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskSignatureReminder = "pipeline.signature.reminder"

const TaskRelationshipFollowUp = "pipeline.relationship.follow_up"

// PipelinePayload identifies the opportunity a deferred task targets.
type PipelinePayload struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

func NewSignatureReminderTask(payload PipelinePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSignatureReminder, data), nil
}

func NewRelationshipFollowUpTask(payload PipelinePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRelationshipFollowUp, data), nil
}

func ParsePipelinePayload(task *asynq.Task) (PipelinePayload, error) {
	var payload PipelinePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PipelinePayload{}, err
	}
	return payload, nil
}
