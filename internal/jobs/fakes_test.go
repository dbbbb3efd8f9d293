package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"estate_portal_backend/internal/events"
	"estate_portal_backend/platform/db"

	"github.com/google/uuid"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory job_tasks/job_events pair with the Repository's semantics.
type memStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*Job
	events []Event
	seq    int64
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*Job)}
}

func (s *memStore) add(kind string, maxAttempts int, createdAt time.Time) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := Job{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Kind:           kind,
		Payload:        json.RawMessage(`{"upload_id":"x"}`),
		Status:         StatusPending,
		MaxAttempts:    maxAttempts,
		NextAttemptAt:  createdAt,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	s.jobs[j.ID] = &j
	return j
}

func (s *memStore) get(id uuid.UUID) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) eventNames(id uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.JobID == id {
			out = append(out, e.Event)
		}
	}
	return out
}

func (s *memStore) record(id uuid.UUID, name string, details map[string]any) {
	raw, _ := json.Marshal(details)
	s.seq++
	s.events = append(s.events, Event{ID: s.seq, JobID: id, Event: name, Details: raw})
}

func (s *memStore) Enqueue(_ context.Context, _ db.DBTX, nj NewJob) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(nj.Payload)
	if err != nil {
		return Job{}, err
	}
	j := Job{
		ID:             uuid.New(),
		OrganizationID: nj.OrganizationID,
		Kind:           nj.Kind,
		Payload:        payload,
		Status:         StatusPending,
		MaxAttempts:    nj.MaxAttempts,
		NextAttemptAt:  nj.RunAt,
		CreatedAt:      nj.RunAt,
	}
	s.jobs[j.ID] = &j
	return j, nil
}

func (s *memStore) Lease(_ context.Context, kind string, limit int, now time.Time) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Status == StatusPending && !j.NextAttemptAt.After(now) && (kind == "" || j.Kind == kind) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].NextAttemptAt.Equal(due[b].NextAttemptAt) {
			return due[a].CreatedAt.Before(due[b].CreatedAt)
		}
		return due[a].NextAttemptAt.Before(due[b].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		lease := uuid.New()
		at := now
		j.Status = StatusInProgress
		j.LeaseID = &lease
		j.LeasedAt = &at
		s.record(j.ID, EventLeased, map[string]any{"lease_id": lease.String()})
		out = append(out, *j)
	}
	return out, nil
}

func (s *memStore) Complete(ctx context.Context, p CompleteParams, now time.Time, apply ApplyFunc) (Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[p.JobID]
	if !ok {
		return Completion{}, ErrNotFound
	}
	tr, err := decideCompletion(*j, p)
	if err != nil {
		return Completion{}, err
	}

	j.Status = tr.status
	if tr.clearLease {
		j.LeaseID = nil
		j.LeasedAt = nil
	}
	if tr.refreshLease {
		at := now
		j.LeasedAt = &at
	}
	if tr.nextAttemptAt != nil {
		j.NextAttemptAt = *tr.nextAttemptAt
	}
	if p.Attempts != nil {
		j.Attempts = *p.Attempts
	}
	if len(p.Result) > 0 {
		j.Result = p.Result
	}
	if p.Error != nil {
		j.Error = p.Error
	}

	out := Completion{Job: *j}
	if tr.applyResult && apply != nil {
		out.Applied, out.ApplyErr = apply(ctx, nil, *j, p.Result)
	}
	s.record(j.ID, tr.event, eventDetails(*j, p, out.Applied))
	return out, nil
}

func (s *memStore) RequeueExpired(_ context.Context, cutoff, now time.Time) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.Status != StatusInProgress || j.LeasedAt == nil || !j.LeasedAt.Before(cutoff) {
			continue
		}
		j.Attempts++
		j.Status = StatusPending
		event := EventRetried
		if j.Attempts >= j.MaxAttempts {
			j.Status = StatusFailed
			event = EventFailed
		}
		j.LeaseID = nil
		j.LeasedAt = nil
		j.NextAttemptAt = now
		s.record(j.ID, event, map[string]any{"reason": leaseExpiredReason})
		out = append(out, *j)
	}
	return out, nil
}

func (s *memStore) GetByID(_ context.Context, orgID, id uuid.UUID) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.OrganizationID != orgID {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

func (s *memStore) ListEvents(_ context.Context, jobID uuid.UUID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

type stubApplier struct {
	applied Applied
	err     error
	calls   int
}

func (a *stubApplier) ApplyJobResult(context.Context, db.DBTX, Job, json.RawMessage) (Applied, error) {
	a.calls++
	return a.applied, a.err
}
