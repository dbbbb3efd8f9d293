package outbox

import (
	"estate_portal_backend/internal/adapters/storage"
	"estate_portal_backend/internal/events"
	apphttp "estate_portal_backend/internal/http"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/flags"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module wires the outbox writer, dispatcher and admin routes.
type Module struct {
	repo       *Repository
	writer     *Writer
	dispatcher *Dispatcher
	service    *Service
	handler    *Handler
}

// NewModule builds the outbox module. metrics, nudger and objects may be nil.
func NewModule(pool *pgxpool.Pool, cfg config.OutboxConfig, val *validator.Validator, flagSet *flags.Set, bus events.Bus, metrics *Metrics, nudger Nudger, objects storage.StorageService, log *logger.Logger) *Module {
	clk := clock.Real{}
	repo := NewRepository(pool)
	writer := NewWriter(repo, cfg, val, flagSet, clk, log)

	sender := NewHTTPSender(cfg, clk, log)
	opts := OptionsFromConfig(cfg)
	opts.BreakerDefer = sender.BreakerTimeout()
	dispatcher := NewDispatcher(repo, sender, bus, clk, metrics, log, opts)

	service := NewService(repo, dispatcher, nudger, objects, cfg.GetOutboxArchiveBucket(), clk, log)

	return &Module{
		repo:       repo,
		writer:     writer,
		dispatcher: dispatcher,
		service:    service,
		handler:    NewHandler(service),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "outbox"
}

// Writer returns the writer used by producers inside their transactions.
func (m *Module) Writer() *Writer {
	return m.writer
}

// Dispatcher returns the delivery loop used by the scheduler and one-shot command.
func (m *Module) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// Service returns the operator and n8n surface.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts the admin outbox routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	admin := ctx.Admin.Group("/outbox")
	admin.GET("", m.handler.HandleList)
	admin.POST("/:id/requeue", m.handler.HandleRequeue)
	admin.GET("/:id/archive", m.handler.HandleArchiveURL)
}

var _ apphttp.Module = (*Module)(nil)
