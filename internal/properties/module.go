package properties

import (
	"estate_portal_backend/internal/events"
	apphttp "estate_portal_backend/internal/http"
	"estate_portal_backend/internal/jobs"
	"estate_portal_backend/platform/ai/embeddings"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/flags"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module wires uploads, promotion, job appliers and the vector index.
type Module struct {
	repo    *Repository
	service *Service
	indexer *Indexer
	handler *Handler
}

// Deps are the collaborators owned by other modules.
type Deps struct {
	Jobs     *jobs.Service
	Outbox   OutboxWriter
	Embedder embeddings.Embedder
	Vectors  VectorStore
}

// NewModule builds the properties module, registers its job result appliers and
// subscribes the indexer to property events.
func NewModule(pool *pgxpool.Pool, val *validator.Validator, flagSet *flags.Set, bus events.Bus, deps Deps, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	promoter := NewPromoter(repo, deps.Outbox, log)
	indexer := NewIndexer(repo, deps.Embedder, deps.Vectors, log)

	var jobQueue JobEnqueuer
	if deps.Jobs != nil {
		jobQueue = deps.Jobs
		deps.Jobs.RegisterApplier(jobs.KindPropertyAIEnrichment, NewEnrichmentApplier(repo, promoter, clock.Real{}, log))
		deps.Jobs.RegisterApplier(jobs.KindPropertyValidationDeep, NewValidationApplier(repo, promoter, log))
	}
	if bus != nil && indexer.Enabled() {
		indexer.RegisterHandlers(bus)
	}

	service := NewService(pool, repo, jobQueue, deps.Outbox, flagSet, bus, log)
	return &Module{
		repo:    repo,
		service: service,
		indexer: indexer,
		handler: NewHandler(service, val),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "properties"
}

// Repository exposes property lookups to the lead resolver.
func (m *Module) Repository() *Repository {
	return m.repo
}

// Service exposes the enrichment callback to the n8n webhook module.
func (m *Module) Service() *Service {
	return m.service
}

// Indexer exposes the vector index to the reindex command.
func (m *Module) Indexer() *Indexer {
	return m.indexer
}

// RegisterRoutes mounts the property routes on the protected group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	props := ctx.Protected.Group("/properties")
	props.POST("/uploads", m.handler.HandleCreateUpload)
	props.GET("/uploads/:id", m.handler.HandleGetUpload)
	props.GET("/:id", m.handler.HandleGetProperty)
}

var _ apphttp.Module = (*Module)(nil)
