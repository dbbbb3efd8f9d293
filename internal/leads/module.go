// Package leads provides the lead ingestion bounded context: conversation
// messages, contact matching and property links.
package leads

import (
	"estate_portal_backend/internal/events"
	apphttp "estate_portal_backend/internal/http"
	"estate_portal_backend/internal/leads/handler"
	"estate_portal_backend/internal/leads/repository"
	"estate_portal_backend/internal/leads/resolver"
	"estate_portal_backend/internal/leads/service"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Deps are the collaborators owned by other modules. Outbox and IngestAuth may be nil.
type Deps struct {
	Resolver   *resolver.Resolver
	Outbox     service.OutboxWriter
	IngestAuth gin.HandlerFunc
}

// Module wires lead ingestion and its routes.
type Module struct {
	service    *service.Service
	handler    *handler.Handler
	ingestAuth gin.HandlerFunc
}

// NewModule builds the leads module.
func NewModule(pool *pgxpool.Pool, cfg config.PhoneConfig, val *validator.Validator, bus events.Bus, deps Deps, log *logger.Logger) *Module {
	repo := repository.New(pool)

	var res service.Resolver
	if deps.Resolver != nil {
		res = deps.Resolver
	}
	svc := service.New(repo, res, deps.Outbox, bus, val, cfg.GetPhoneDefaultRegion(), clock.Real{}, log)
	return &Module{
		service:    svc,
		handler:    handler.New(svc),
		ingestAuth: deps.IngestAuth,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Service exposes ingestion to the email poller and the n8n callbacks.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts ingestion on the API-key group and lookups on the JWT groups.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	if m.ingestAuth != nil {
		ingest := []gin.HandlerFunc{m.ingestAuth}
		if ctx.IngestRateLimiter != nil {
			ingest = append(ingest, ctx.IngestRateLimiter.RateLimit())
		}
		ingest = append(ingest, m.handler.HandleIngestMessage)
		ctx.V1.POST("/leads/messages", ingest...)
	}

	ctx.Protected.GET("/leads/:id", m.handler.HandleGetLead)
	ctx.Admin.GET("/leads/:id/links", m.handler.HandleListLinks)
}

var _ apphttp.Module = (*Module)(nil)
