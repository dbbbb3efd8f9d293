package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"estate_portal_backend/internal/events"
	"estate_portal_backend/platform/apperr"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/db"
	"estate_portal_backend/platform/logger"

	"github.com/google/uuid"
)

const defaultMaxAttempts = 3

// ResultApplier writes a succeeded job's result back to the entity it was created for.
type ResultApplier interface {
	ApplyJobResult(ctx context.Context, q db.DBTX, job Job, result json.RawMessage) (Applied, error)
}

// Store is the persistence the service needs. Repository implements it.
type Store interface {
	Enqueue(ctx context.Context, q db.DBTX, nj NewJob) (Job, error)
	Lease(ctx context.Context, kind string, limit int, now time.Time) ([]Job, error)
	Complete(ctx context.Context, p CompleteParams, now time.Time, apply ApplyFunc) (Completion, error)
	RequeueExpired(ctx context.Context, cutoff, now time.Time) ([]Job, error)
	GetByID(ctx context.Context, orgID, id uuid.UUID) (Job, error)
	ListEvents(ctx context.Context, jobID uuid.UUID) ([]Event, error)
}

// Service implements leasing, completion and lease expiry.
type Service struct {
	store    Store
	bus      events.Bus
	clk      clock.Clock
	metrics  *Metrics
	leaseTTL time.Duration
	log      *logger.Logger

	mu       sync.RWMutex
	appliers map[string]ResultApplier
}

// NewService creates a job service. A non-positive leaseTTL uses DefaultLeaseTTL.
func NewService(store Store, bus events.Bus, clk clock.Clock, metrics *Metrics, leaseTTL time.Duration, log *logger.Logger) *Service {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	return &Service{
		store:    store,
		bus:      bus,
		clk:      clk,
		metrics:  metrics,
		leaseTTL: leaseTTL,
		log:      log,
		appliers: make(map[string]ResultApplier),
	}
}

// RegisterApplier sets the applier for kind, replacing any previous one.
func (s *Service) RegisterApplier(kind string, a ResultApplier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appliers[kind] = a
}

func (s *Service) applierFor(kind string) ResultApplier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appliers[kind]
}

// Enqueue creates a pending job using q so producers can enqueue inside their own transaction.
func (s *Service) Enqueue(ctx context.Context, q db.DBTX, nj NewJob) (Job, error) {
	nj.Kind = strings.TrimSpace(nj.Kind)
	if nj.Kind == "" {
		return Job{}, apperr.Validation("job kind is required")
	}
	if nj.OrganizationID == uuid.Nil {
		return Job{}, apperr.Validation("organization is required")
	}
	if nj.MaxAttempts <= 0 {
		nj.MaxAttempts = defaultMaxAttempts
	}
	if nj.RunAt.IsZero() {
		nj.RunAt = s.clk.Now()
	}
	if nj.Payload == nil {
		nj.Payload = map[string]any{}
	}
	job, err := s.store.Enqueue(ctx, q, nj)
	if err != nil {
		return Job{}, apperr.Wrap(apperr.KindInternal, "failed to enqueue job", err)
	}
	return job, nil
}

// Lease hands out up to limit due jobs, optionally filtered by kind.
func (s *Service) Lease(ctx context.Context, kind string, limit int) ([]LeasedJob, error) {
	jobs, err := s.store.Lease(ctx, strings.TrimSpace(kind), clampLimit(limit), s.clk.Now())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to lease jobs", err)
	}
	s.metrics.observeLeased(jobs)

	out := make([]LeasedJob, 0, len(jobs))
	for _, j := range jobs {
		if j.LeaseID == nil {
			continue
		}
		s.log.JobTransition(j.ID.String(), j.Kind, EventLeased, string(j.Status))
		out = append(out, LeasedJob{
			ID:        j.ID,
			Kind:      j.Kind,
			Payload:   j.Payload,
			Attempts:  j.Attempts,
			LeaseID:   *j.LeaseID,
			CreatedAt: j.CreatedAt,
		})
	}
	return out, nil
}

// Complete applies a worker report to a leased job.
func (s *Service) Complete(ctx context.Context, p CompleteParams) (CompleteResult, error) {
	var apply ApplyFunc
	if p.Status == StatusSucceeded {
		apply = func(ctx context.Context, q db.DBTX, job Job, result json.RawMessage) (Applied, error) {
			a := s.applierFor(job.Kind)
			if a == nil {
				return Applied{}, nil
			}
			return a.ApplyJobResult(ctx, q, job, result)
		}
	}

	c, err := s.store.Complete(ctx, p, s.clk.Now(), apply)
	if err != nil {
		return CompleteResult{}, translate(err)
	}

	job := c.Job
	s.metrics.observeCompleted(job.Kind, job.Status)
	s.log.JobTransition(job.ID.String(), job.Kind, string(p.Status), string(job.Status))
	if c.ApplyErr != nil {
		s.log.Error("job result could not be applied",
			"job_id", job.ID.String(), "kind", job.Kind, "error", c.ApplyErr)
	}

	if c.Applied.Promoted && c.Applied.PropertyID != nil && s.bus != nil {
		s.bus.Publish(ctx, events.PropertyCreated{
			BaseEvent:      events.NewBaseEvent(),
			PropertyID:     *c.Applied.PropertyID,
			OrganizationID: job.OrganizationID,
			UploadID:       c.Applied.UploadID,
		})
	}

	return CompleteResult{
		Status:     "success",
		JobID:      job.ID,
		UploadID:   c.Applied.UploadID,
		PropertyID: c.Applied.PropertyID,
	}, nil
}

// SweepExpiredLeases reclaims jobs whose lease is older than the lease TTL.
func (s *Service) SweepExpiredLeases(ctx context.Context) (int, error) {
	now := s.clk.Now()
	swept, err := s.store.RequeueExpired(ctx, now.Add(-s.leaseTTL), now)
	if err != nil {
		return 0, err
	}
	s.metrics.addExpired(len(swept))
	for _, j := range swept {
		s.log.JobTransition(j.ID.String(), j.Kind, "lease_expired", string(j.Status))
	}
	return len(swept), nil
}

// Events returns the audit trail of one of the organization's jobs.
func (s *Service) Events(ctx context.Context, orgID, jobID uuid.UUID) (Job, []Event, error) {
	job, err := s.store.GetByID(ctx, orgID, jobID)
	if err != nil {
		return Job{}, nil, translate(err)
	}
	evs, err := s.store.ListEvents(ctx, jobID)
	if err != nil {
		return Job{}, nil, apperr.Wrap(apperr.KindInternal, "failed to load job events", err)
	}
	if evs == nil {
		evs = []Event{}
	}
	return job, evs, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("job not found")
	case errors.Is(err, ErrLeaseMismatch):
		return apperr.Conflict("lease ID mismatch")
	case errors.Is(err, ErrNextAttemptAtRequired):
		return apperr.BadRequest(ErrNextAttemptAtRequired.Error())
	case errors.Is(err, ErrInvalidStatus):
		return apperr.BadRequest("invalid status")
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(apperr.KindInternal, "failed to complete job", err)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLeaseLimit
	}
	if limit > MaxLeaseLimit {
		return MaxLeaseLimit
	}
	return limit
}
