package webhook

import (
	apphttp "estate_portal_backend/internal/http"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/httpkit"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/signing"
	"estate_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Deps are the services the callbacks and forms hand off to. Any may be nil.
type Deps struct {
	Leads      LeadIngestor
	Properties PropertyEnricher
	Outbox     OutboxOperator
}

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	cfg     config.WebhookConfig
	keys    KeyStore
	handler *Handler
	val     *validator.Validator
	guard   signing.ReplayGuard
	log     *logger.Logger
}

// NewModule creates the webhook module. guard may be nil.
func NewModule(pool *pgxpool.Pool, cfg config.WebhookConfig, val *validator.Validator, guard signing.ReplayGuard, log *logger.Logger) *Module {
	return &Module{
		cfg:   cfg,
		keys:  NewRepository(pool),
		val:   val,
		guard: guard,
		log:   log,
	}
}

// Wire attaches the downstream services. The leads module needs APIKeyAuth before it
// exists, so the handler is completed here rather than in NewModule.
func (m *Module) Wire(deps Deps) {
	m.handler = NewHandler(NewService(m.keys, deps.Leads, deps.Properties, deps.Outbox, m.log), m.val)
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// APIKeyAuth returns the middleware that resolves X-Webhook-API-Key to an organization.
func (m *Module) APIKeyAuth() gin.HandlerFunc {
	return APIKeyAuthMiddleware(m.keys, m.log)
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	if m.handler == nil {
		m.Wire(Deps{})
	}

	forms := ctx.V1.Group("/webhook")
	forms.Use(m.APIKeyAuth())
	if ctx.IngestRateLimiter != nil {
		forms.Use(ctx.IngestRateLimiter.RateLimit())
	}
	forms.POST("/forms", m.handler.HandleFormSubmission)

	keys := ctx.Admin.Group("/webhook/keys")
	keys.POST("", m.handler.HandleCreateAPIKey)
	keys.GET("", m.handler.HandleListAPIKeys)
	keys.DELETE("/:keyId", m.handler.HandleRevokeAPIKey)

	verifier := signing.Verifier{Secret: m.cfg.GetWebhookSigningSecret(), Window: m.cfg.GetSignatureWindow()}
	n8n := ctx.Webhooks.Group("/n8n")
	n8n.Use(httpkit.RequireSignature(verifier, m.guard, m.log))
	n8n.POST("/property-enrichment/", m.handler.HandlePropertyEnrichment)
	n8n.POST("/lead-processing/", m.handler.HandleLeadProcessing)
	n8n.POST("/send-now/", m.handler.HandleSendNow)
	n8n.POST("/fail/", m.handler.HandleFail)
	n8n.GET("/due-messages/", m.handler.HandleDueMessages)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
