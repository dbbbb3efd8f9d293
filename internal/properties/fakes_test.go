package properties

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memUploads is an in-memory UploadStore.
type memUploads struct {
	mu         sync.Mutex
	uploads    map[uuid.UUID]*Upload
	properties map[uuid.UUID]Property
	slugs      map[string]bool
}

func newMemUploads() *memUploads {
	return &memUploads{
		uploads:    make(map[uuid.UUID]*Upload),
		properties: make(map[uuid.UUID]Property),
		slugs:      make(map[string]bool),
	}
}

func (m *memUploads) add(u Upload) Upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Status == "" {
		u.Status = UploadPending
	}
	m.uploads[u.ID] = &u
	return u
}

func (m *memUploads) takeSlug(orgID uuid.UUID, slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slugs[orgID.String()+"/"+slug] = true
}

func (m *memUploads) LockUpload(_ context.Context, _ db.DBTX, id uuid.UUID) (Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return Upload{}, ErrUploadNotFound
	}
	return *u, nil
}

func (m *memUploads) SaveEnrichment(_ context.Context, _ db.DBTX, id uuid.UUID, description string, enrichment json.RawMessage, at time.Time) (Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.uploads[id]
	u.Description = description
	u.AIEnrichment = enrichment
	u.EnrichedAt = &at
	if u.Status == UploadPending {
		u.Status = UploadProcessing
	}
	return *u, nil
}

func (m *memUploads) SaveValidation(_ context.Context, _ db.DBTX, id uuid.UUID, validation json.RawMessage, missing []string) (Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.uploads[id]
	if len(validation) > 0 {
		merged := map[string]any{}
		if len(u.AIValidationResult) > 0 {
			_ = json.Unmarshal(u.AIValidationResult, &merged)
		}
		var incoming map[string]any
		_ = json.Unmarshal(validation, &incoming)
		for k, v := range incoming {
			merged[k] = v
		}
		u.AIValidationResult, _ = json.Marshal(merged)
	}
	if missing != nil {
		u.MissingFields = missing
	}
	return *u, nil
}

func (m *memUploads) SlugExists(_ context.Context, _ db.DBTX, orgID uuid.UUID, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slugs[orgID.String()+"/"+slug], nil
}

func (m *memUploads) InsertProperty(_ context.Context, _ db.DBTX, np NewProperty) (Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Property{
		ID:             uuid.New(),
		OrganizationID: np.OrganizationID,
		Slug:           np.Slug,
		Title:          np.Title,
		Description:    np.Description,
		PriceAmount:    np.PriceAmount,
		City:           np.City,
		Area:           np.Area,
		Badges:         np.Badges,
		Status:         StatusActive,
	}
	m.slugs[np.OrganizationID.String()+"/"+np.Slug] = true
	m.properties[p.ID] = p
	return p, nil
}

func (m *memUploads) CompleteUpload(_ context.Context, _ db.DBTX, id, propertyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.uploads[id]
	u.Status = UploadComplete
	u.PropertyID = &propertyID
	return nil
}

func (m *memUploads) OrganizationSlug(context.Context, db.DBTX, uuid.UUID) (string, error) {
	return "acme-realty", nil
}

func (m *memUploads) upload(id uuid.UUID) Upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.uploads[id]
}

type captureOutbox struct {
	targets  map[string]bool
	messages []outbox.Message
	err      error
	q        db.DBTX
}

func (c *captureOutbox) Enqueue(_ context.Context, q db.DBTX, msg outbox.Message) (outbox.Record, error) {
	c.q = q
	if c.err != nil {
		return outbox.Record{}, c.err
	}
	c.messages = append(c.messages, msg)
	return outbox.Record{ID: uuid.New(), EventType: msg.Payload.EventType(), Target: msg.Target}, nil
}

func (c *captureOutbox) HasTarget(name string) bool {
	return c.targets[name]
}

func int64Ptr(v int64) *int64 { return &v }

// fakeTx stands in for the applier transaction. Begin opens a savepoint.
type fakeTx struct {
	pgx.Tx
	savepoints []*fakeTx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	sp := &fakeTx{}
	f.savepoints = append(f.savepoints, sp)
	return sp, nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}
