// Package pipeline provides the sales-pipeline bounded context: the stage
// store, the action ledger with its validation gate, and the next-action
// resolver.
package pipeline

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"crm_pipeline_backend/internal/events"
	apphttp "crm_pipeline_backend/internal/http"
	"crm_pipeline_backend/internal/pipeline/handler"
	"crm_pipeline_backend/internal/pipeline/repository"
	"crm_pipeline_backend/internal/pipeline/service"
	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/logger"
	"crm_pipeline_backend/platform/validator"
)

// ModuleConfig combines the config interfaces the pipeline module consumes.
type ModuleConfig interface {
	config.PipelineConfig
	config.WebhookConfig
}

// Module is the pipeline bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the pipeline module with all its
// dependencies. reminders may be nil when no task queue is configured.
func NewModule(
	pool *pgxpool.Pool,
	perms service.PermissionChecker,
	gate service.EligibilityGate,
	reminders service.ReminderScheduler,
	bus events.Bus,
	cfg ModuleConfig,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, perms, gate, reminders, bus, cfg, log)
	h := handler.New(svc, cfg, val)

	return &Module{handler: h, service: svc}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "pipeline"
}

// Service returns the pipeline service for use by the scheduler worker.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts pipeline routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/pipeline"))
	m.handler.RegisterWebhookRoutes(ctx.Webhooks)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
