package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"crm_pipeline_backend/internal/authz"
	"crm_pipeline_backend/internal/email"
	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/notification"
	"crm_pipeline_backend/internal/pipeline"
	"crm_pipeline_backend/internal/quota"
	"crm_pipeline_backend/internal/scheduler"
	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/db"
	"crm_pipeline_backend/platform/logger"
	"crm_pipeline_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler worker", "env", cfg.Env, "queue", cfg.AsynqQueueName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	notificationModule := notification.New(sender, cfg, log)
	notificationModule.RegisterHandlers(eventBus)

	val := validator.New()

	// The worker opens follow-up actions through the same service the API
	// uses so ledger invariants hold for machine-driven writes too.
	pipelineModule := pipeline.NewModule(
		pool,
		authz.NewChecker(),
		quota.AllowAll(),
		nil,
		eventBus,
		cfg,
		val,
		log,
	)

	worker, err := scheduler.NewWorker(cfg, pipelineModule.Service(), eventBus, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
	log.Info("scheduler worker stopped")
}
