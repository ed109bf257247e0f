package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/internal/pipeline/transport"
	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/logger"
)

// PipelineService is the slice of the pipeline engine the worker consumes.
type PipelineService interface {
	GetStage(ctx context.Context, ref domain.EntityRef) (transport.StageResponse, error)
	OpenRelationshipFollowUp(ctx context.Context, ref domain.EntityRef) error
}

// Worker consumes deferred pipeline tasks from asynq.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	svc    PipelineService
	bus    events.Bus
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, svc PipelineService, bus events.Bus, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		svc:    svc,
		bus:    bus,
		log:    log,
	}

	mux.HandleFunc(TaskSignatureReminder, w.handleSignatureReminder)
	mux.HandleFunc(TaskRelationshipFollowUp, w.handleRelationshipFollowUp)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleSignatureReminder publishes the reminder event unless the
// opportunity already moved past client_signature.
func (w *Worker) handleSignatureReminder(ctx context.Context, task *asynq.Task) error {
	ref, err := refFromTask(task)
	if err != nil {
		return err
	}

	stage, err := w.svc.GetStage(ctx, ref)
	if err != nil {
		return err
	}
	if stage.CurrentStage != string(domain.StageClientSignature) {
		return nil
	}

	if w.bus == nil {
		return nil
	}
	return w.bus.PublishSync(ctx, events.SignatureReminderDue{
		BaseEvent:  events.NewBaseEvent(),
		EntityType: string(ref.EntityType),
		EntityID:   ref.EntityID,
	})
}

// handleRelationshipFollowUp opens the long-term follow-up action once the
// opportunity has completed the pipeline.
func (w *Worker) handleRelationshipFollowUp(ctx context.Context, task *asynq.Task) error {
	ref, err := refFromTask(task)
	if err != nil {
		return err
	}

	stage, err := w.svc.GetStage(ctx, ref)
	if err != nil {
		return err
	}
	if stage.CurrentStage != string(domain.StageExpedienteCreated) {
		return nil
	}

	return w.svc.OpenRelationshipFollowUp(ctx, ref)
}

func refFromTask(task *asynq.Task) (domain.EntityRef, error) {
	payload, err := ParsePipelinePayload(task)
	if err != nil {
		return domain.EntityRef{}, err
	}

	entityType := domain.EntityType(payload.EntityType)
	if !entityType.Valid() {
		return domain.EntityRef{}, fmt.Errorf("unknown entity type %q", payload.EntityType)
	}

	entityID, err := uuid.Parse(payload.EntityID)
	if err != nil {
		return domain.EntityRef{}, fmt.Errorf("invalid entity id: %w", err)
	}

	return domain.EntityRef{EntityType: entityType, EntityID: entityID}, nil
}
