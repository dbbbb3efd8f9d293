package properties

import (
	"context"
	"errors"
	"strings"

	"estate_portal_backend/internal/events"
	"estate_portal_backend/internal/jobs"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/platform/apperr"
	"estate_portal_backend/platform/db"
	"estate_portal_backend/platform/flags"
	"estate_portal_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobEnqueuer creates jobs inside the caller's transaction.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, q db.DBTX, nj jobs.NewJob) (jobs.Job, error)
}

// UploadCreated describes a new draft and the work queued for it.
type UploadCreated struct {
	Upload   Upload      `json:"upload"`
	JobIDs   []uuid.UUID `json:"jobIds"`
	OutboxID *uuid.UUID  `json:"outboxId,omitempty"`
}

// Service handles uploads and inbound property enrichment.
type Service struct {
	tx     db.TxBeginner
	repo   *Repository
	jobs   JobEnqueuer
	outbox OutboxWriter
	flags  *flags.Set
	bus    events.Bus
	log    *logger.Logger
}

// NewService creates the property service. outbox may be nil.
func NewService(tx db.TxBeginner, repo *Repository, jobQueue JobEnqueuer, ob OutboxWriter, flagSet *flags.Set, bus events.Bus, log *logger.Logger) *Service {
	return &Service{tx: tx, repo: repo, jobs: jobQueue, outbox: ob, flags: flagSet, bus: bus, log: log}
}

// CreateUpload stores a draft and, in the same transaction, queues the
// enrichment and validation jobs enabled by flags plus a property.enrich
// message for n8n.
func (s *Service) CreateUpload(ctx context.Context, nu NewUpload) (UploadCreated, error) {
	if !s.flags.Enabled(flags.PropertyCreation) {
		return UploadCreated{}, apperr.Forbidden("property creation is disabled")
	}

	var out UploadCreated
	err := db.WithTx(ctx, s.tx, func(tx pgx.Tx) error {
		upload, err := s.repo.InsertUpload(ctx, tx, nu)
		if err != nil {
			return err
		}
		out.Upload = upload
		out.JobIDs = []uuid.UUID{}

		payload := map[string]any{"upload_id": upload.ID.String()}
		for _, kind := range s.jobKinds() {
			job, err := s.jobs.Enqueue(ctx, tx, jobs.NewJob{
				OrganizationID: upload.OrganizationID,
				Kind:           kind,
				Payload:        payload,
			})
			if err != nil {
				return err
			}
			out.JobIDs = append(out.JobIDs, job.ID)
		}

		out.OutboxID = s.requestEnrichment(ctx, tx, upload)
		return nil
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return UploadCreated{}, err
		}
		return UploadCreated{}, apperr.Wrap(apperr.KindInternal, "failed to create upload", err)
	}
	return out, nil
}

func (s *Service) jobKinds() []string {
	var kinds []string
	if s.jobs == nil {
		return nil
	}
	if s.flags.Enabled(flags.PropertyIQEnrichment) {
		kinds = append(kinds, jobs.KindPropertyAIEnrichment)
	}
	if s.flags.Enabled(flags.AIValidation) {
		kinds = append(kinds, jobs.KindPropertyValidationDeep)
	}
	return kinds
}

func (s *Service) requestEnrichment(ctx context.Context, q db.DBTX, u Upload) *uuid.UUID {
	if s.outbox == nil || !s.outbox.HasTarget(outbox.TargetN8N) || !s.flags.Enabled(flags.PropertyIQEnrichment) {
		return nil
	}
	orgSlug, err := s.repo.OrganizationSlug(ctx, q, u.OrganizationID)
	if err != nil {
		s.log.Warn("property enrichment not requested", "upload_id", u.ID.String(), "error", err)
		return nil
	}
	rec, err := s.outbox.Enqueue(ctx, q, outbox.Message{
		OrganizationID:   u.OrganizationID,
		OrganizationSlug: orgSlug,
		Target:           outbox.TargetN8N,
		Payload: outbox.PropertyEnrich{
			UploadID:    u.ID,
			Title:       u.Title,
			Description: u.Description,
			City:        u.City,
			Area:        u.Area,
			PriceAmount: u.PriceAmount,
			Beds:        u.Beds,
			Baths:       u.Baths,
		},
	})
	if err != nil {
		s.log.Warn("property enrichment not requested", "upload_id", u.ID.String(), "error", err)
		return nil
	}
	return &rec.ID
}

// GetUpload returns one of the organization's uploads.
func (s *Service) GetUpload(ctx context.Context, orgID, id uuid.UUID) (Upload, error) {
	u, err := s.repo.GetUpload(ctx, orgID, id)
	if errors.Is(err, ErrUploadNotFound) {
		return Upload{}, apperr.NotFound("upload not found")
	}
	if err != nil {
		return Upload{}, apperr.Wrap(apperr.KindInternal, "failed to load upload", err)
	}
	return u, nil
}

// GetProperty returns one of the organization's properties.
func (s *Service) GetProperty(ctx context.Context, orgID, id uuid.UUID) (Property, error) {
	p, err := s.repo.GetByID(ctx, orgID, id)
	if errors.Is(err, ErrNotFound) {
		return Property{}, apperr.NotFound("property not found")
	}
	if err != nil {
		return Property{}, apperr.Wrap(apperr.KindInternal, "failed to load property", err)
	}
	return p, nil
}

// ApplyEnrichment stores n8n market data on a property and triggers a re-index.
func (s *Service) ApplyEnrichment(ctx context.Context, propertyID uuid.UUID, e Enrichment) (Property, error) {
	e.Source = strings.TrimSpace(e.Source)
	if e.Source == "" {
		e.Source = "n8n"
	}
	p, err := s.repo.SetEnrichment(ctx, propertyID, e)
	if errors.Is(err, ErrNotFound) {
		return Property{}, apperr.NotFound("property not found")
	}
	if err != nil {
		return Property{}, apperr.Wrap(apperr.KindInternal, "failed to store enrichment", err)
	}

	s.log.Info("property enriched", "property_id", p.ID.String(), "source", e.Source)
	if s.bus != nil {
		s.bus.Publish(ctx, events.PropertyEnriched{
			BaseEvent:      events.NewBaseEvent(),
			PropertyID:     p.ID,
			OrganizationID: p.OrganizationID,
		})
	}
	return p, nil
}
