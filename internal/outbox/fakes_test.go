package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"estate_portal_backend/internal/events"

	"github.com/google/uuid"
)

// memStore is an in-memory webhook_outbox with the same guards as Repository.
type memStore struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*Record
	tokens  map[uuid.UUID]uuid.UUID
	claimed int
}

func newMemStore() *memStore {
	return &memStore{
		rows:   make(map[uuid.UUID]*Record),
		tokens: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *memStore) add(target string, maxAttempts int, createdAt time.Time) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := Record{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		EventType:      EventLeadCreated,
		Target:         target,
		Payload:        []byte(`{"event":"lead.created"}`),
		Status:         StatusPending,
		MaxAttempts:    maxAttempts,
		NextRetryAt:    createdAt,
		IdempotencyKey: uuid.New(),
		CreatedAt:      createdAt,
	}
	s.rows[rec.ID] = &rec
	return rec
}

func (s *memStore) get(id uuid.UUID) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memStore) ClaimDue(_ context.Context, now time.Time, limit int, visibleUntil time.Time, token uuid.UUID) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Record
	for _, r := range s.rows {
		if r.Status.Deliverable() && !r.NextRetryAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Record, 0, len(due))
	for _, r := range due {
		r.NextRetryAt = visibleUntil
		s.tokens[r.ID] = token
		out = append(out, *r)
	}
	s.claimed += len(out)
	return out, nil
}

func (s *memStore) Renew(_ context.Context, id uuid.UUID, token uuid.UUID, visibleUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || !r.Status.Deliverable() || s.tokens[id] != token {
		return false, nil
	}
	r.NextRetryAt = visibleUntil
	return true, nil
}

func (s *memStore) MarkSent(_ context.Context, id uuid.UUID, prevAttempts int, statusCode int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || !r.Status.Deliverable() || r.Attempts != prevAttempts {
		return false, nil
	}
	r.Status = StatusSent
	r.SentAt = &at
	r.LastAttemptAt = &at
	r.LastStatusCode = &statusCode
	return true, nil
}

func (s *memStore) MarkFailure(_ context.Context, id uuid.UUID, prevAttempts int, f Failure) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || !r.Status.Deliverable() || r.Attempts != prevAttempts || r.Attempts >= r.MaxAttempts {
		return false, nil
	}
	r.Attempts++
	r.Status = f.Status
	r.NextRetryAt = f.NextRetryAt
	at := f.At
	r.LastAttemptAt = &at
	r.LastStatusCode = f.StatusCode
	msg := f.Error
	r.LastError = &msg
	return true, nil
}

func (s *memStore) Defer(_ context.Context, id uuid.UUID, prevAttempts int, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || !r.Status.Deliverable() || r.Attempts != prevAttempts {
		return false, nil
	}
	r.NextRetryAt = until
	return true, nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *r, nil
}

func (s *memStore) MakeDue(_ context.Context, id uuid.UUID, at time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !r.Status.Deliverable() {
		return Record{}, ErrNotDeliverable
	}
	r.NextRetryAt = at
	return *r, nil
}

func (s *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.rows {
		if r.Status.Deliverable() && !r.NextRetryAt.After(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListByStatus(_ context.Context, orgID uuid.UUID, status Status, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.rows {
		if r.OrganizationID == orgID && r.Status == status {
			out = append(out, *r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Requeue(_ context.Context, orgID, id uuid.UUID, at time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.OrganizationID != orgID {
		return Record{}, ErrNotFound
	}
	if r.Status != StatusFailed {
		return Record{}, ErrNotFailed
	}
	r.Status = StatusRetry
	r.Attempts = 0
	r.NextRetryAt = at
	r.LastError = nil
	return *r, nil
}

type sendResult struct {
	code int
	err  error
}

// scriptedSender returns results in order and repeats the last one.
type scriptedSender struct {
	mu      sync.Mutex
	results []sendResult
	calls   []uuid.UUID
}

func (s *scriptedSender) Send(_ context.Context, rec Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rec.ID)
	res := s.results[len(s.results)-1]
	if len(s.calls) <= len(s.results) {
		res = s.results[len(s.calls)-1]
	}
	return res.code, res.err
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) failed() []events.OutboxMessageFailed {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.OutboxMessageFailed
	for _, e := range b.events {
		if f, ok := e.(events.OutboxMessageFailed); ok {
			out = append(out, f)
		}
	}
	return out
}
