package outbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"estate_portal_backend/internal/adapters/storage"
	"estate_portal_backend/platform/apperr"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Nudger asks the background dispatcher to run a pass now.
type Nudger interface {
	NudgeOutboxDispatch(ctx context.Context) error
}

// ManageStore is the persistence behind the operator and n8n surface.
type ManageStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (Record, error)
	MakeDue(ctx context.Context, id uuid.UUID, at time.Time) (Record, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Record, error)
	ListByStatus(ctx context.Context, orgID uuid.UUID, status Status, limit int) ([]Record, error)
	Requeue(ctx context.Context, orgID, id uuid.UUID, at time.Time) (Record, error)
}

// Service exposes outbox operations to HTTP handlers and n8n callbacks.
type Service struct {
	store      ManageStore
	dispatcher *Dispatcher
	nudger     Nudger
	storage    storage.StorageService
	bucket     string
	clock      clock.Clock
	log        *logger.Logger
}

// NewService creates the service. nudger and objects may be nil.
func NewService(store ManageStore, dispatcher *Dispatcher, nudger Nudger, objects storage.StorageService, archiveBucket string, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		nudger:     nudger,
		storage:    objects,
		bucket:     archiveBucket,
		clock:      clk,
		log:        log,
	}
}

// SendNow makes a pending or retry message due immediately and nudges the dispatcher.
func (s *Service) SendNow(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, err := s.store.MakeDue(ctx, id, s.clock.Now())
	if err != nil {
		return Record{}, translate(err, "send now")
	}
	if s.nudger == nil {
		s.log.Debug("no dispatch nudger configured; message waits for the next pass", "outbox_id", id)
		return rec, nil
	}
	if err := s.nudger.NudgeOutboxDispatch(ctx); err != nil {
		s.log.Warn("outbox dispatch nudge failed", "outbox_id", id, "error", err)
	}
	return rec, nil
}

// RecordExternalFailure consumes one attempt on behalf of an external sender.
// It returns the outcome (retry, failed or stale).
func (s *Service) RecordExternalFailure(ctx context.Context, id uuid.UUID, reason string, statusCode *int) (string, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", translate(err, "record failure")
	}
	if !rec.Status.Deliverable() {
		return "", apperr.Conflict("outbox message is already " + string(rec.Status))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "external delivery failed"
	}
	outcome, err := s.dispatcher.RecordFailure(ctx, rec, statusCode, reason, false)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to record outbox failure", err)
	}
	if outcome == OutcomeStale {
		return "", apperr.Conflict("outbox message changed concurrently")
	}
	return outcome, nil
}

// ListDue returns messages that are due for delivery, oldest first.
func (s *Service) ListDue(ctx context.Context, limit int) ([]Record, error) {
	return s.store.ListDue(ctx, s.clock.Now(), clampLimit(limit))
}

// ListByStatus returns an organization's messages in status.
func (s *Service) ListByStatus(ctx context.Context, orgID uuid.UUID, status Status, limit int) ([]Record, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown outbox status: " + string(status))
	}
	return s.store.ListByStatus(ctx, orgID, status, clampLimit(limit))
}

// Requeue returns a failed message to retry with a fresh attempt budget.
func (s *Service) Requeue(ctx context.Context, orgID, id uuid.UUID) (Record, error) {
	rec, err := s.store.Requeue(ctx, orgID, id, s.clock.Now())
	if err != nil {
		return Record{}, translate(err, "requeue")
	}
	s.log.Info("outbox message requeued", "outbox_id", id, "target", rec.Target)
	return rec, nil
}

// ArchiveURL returns a presigned download URL for a dead-lettered message.
func (s *Service) ArchiveURL(ctx context.Context, orgID, id uuid.UUID) (*storage.PresignedURL, error) {
	if s.storage == nil || s.bucket == "" {
		return nil, apperr.Unavailable("dead letter archive not configured")
	}
	rec, err := s.store.GetByID(ctx, id)
	if err != nil || rec.OrganizationID != orgID {
		return nil, apperr.NotFound("outbox message not found")
	}
	if rec.Status != StatusFailed {
		return nil, apperr.Conflict("outbox message is not failed")
	}
	url, err := s.storage.GenerateDownloadURL(ctx, s.bucket, ArchiveKey(orgID, id))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to presign archive", err)
	}
	return url, nil
}

func translate(err error, op string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("outbox message not found").WithOp(op)
	case errors.Is(err, ErrNotDeliverable):
		return apperr.Conflict("outbox message is not pending or retry").WithOp(op)
	case errors.Is(err, ErrNotFailed):
		return apperr.Conflict("outbox message is not failed").WithOp(op)
	}
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
