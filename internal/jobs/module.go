package jobs

import (
	"estate_portal_backend/internal/events"
	apphttp "estate_portal_backend/internal/http"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/httpkit"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/signing"
	"estate_portal_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module wires the job lease API.
type Module struct {
	cfg     config.JobsConfig
	service *Service
	handler *Handler
	guard   signing.ReplayGuard
	log     *logger.Logger
}

// NewModule builds the jobs module. metrics and guard may be nil.
func NewModule(pool *pgxpool.Pool, cfg config.JobsConfig, val *validator.Validator, bus events.Bus, metrics *Metrics, guard signing.ReplayGuard, log *logger.Logger) *Module {
	service := NewService(NewRepository(pool), bus, clock.Real{}, metrics, cfg.GetJobLeaseTTL(), log)
	return &Module{
		cfg:     cfg,
		service: service,
		handler: NewHandler(service, val),
		guard:   guard,
		log:     log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "jobs"
}

// Service exposes enqueueing, applier registration and the lease sweeper.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts the worker routes under /api/jobs and the admin audit view.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	worker := ctx.API.Group("/jobs")
	worker.Use(httpkit.StaticBearer(m.cfg.GetN8NToken))
	worker.GET("/next", m.handler.HandleLease)
	worker.PATCH("/:id", m.handler.HandleComplete)

	verifier := signing.Verifier{Secret: m.cfg.GetN8NHMACSecret(), Window: m.cfg.GetSignatureWindow()}
	worker.POST("/:id", httpkit.RequireSignature(verifier, m.guard, m.log), m.handler.HandleComplete)

	ctx.Admin.GET("/jobs/:id/events", m.handler.HandleListEvents)
}

var _ apphttp.Module = (*Module)(nil)
