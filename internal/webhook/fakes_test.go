package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"estate_portal_backend/internal/leads/repository"
	"estate_portal_backend/internal/leads/transport"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/internal/properties"
	"estate_portal_backend/platform/apperr"

	"github.com/google/uuid"
)

type memKeys struct {
	mu   sync.Mutex
	keys []APIKey
}

func (m *memKeys) Create(_ context.Context, orgID uuid.UUID, name, keyHash, keyPrefix string, domains []string) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := APIKey{
		ID: uuid.New(), OrganizationID: orgID, Name: name, KeyHash: keyHash, KeyPrefix: keyPrefix,
		AllowedDomains: domains, IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	m.keys = append(m.keys, k)
	return k, nil
}

func (m *memKeys) GetByHash(_ context.Context, keyHash string) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.KeyHash == keyHash && k.IsActive {
			return k, nil
		}
	}
	return APIKey{}, ErrAPIKeyNotFound
}

func (m *memKeys) ListByOrganization(_ context.Context, orgID uuid.UUID) ([]APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]APIKey, 0)
	for _, k := range m.keys {
		if k.OrganizationID == orgID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKeys) Revoke(_ context.Context, keyID, orgID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, k := range m.keys {
		if k.ID == keyID && k.OrganizationID == orgID {
			m.keys[i].IsActive = false
			return nil
		}
	}
	return ErrAPIKeyNotFound
}

// issue stores a key for orgID and returns its plaintext.
func (m *memKeys) issue(orgID uuid.UUID, domains ...string) string {
	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		panic(err)
	}
	_, _ = m.Create(context.Background(), orgID, "site", hash, prefix, domains)
	return plaintext
}

type fakeLeads struct {
	ingested  []transport.IngestMessageRequest
	orgIDs    []uuid.UUID
	processed []transport.ProcessingResultRequest
	duplicate bool
}

func (f *fakeLeads) Ingest(_ context.Context, orgID uuid.UUID, req transport.IngestMessageRequest) (transport.IngestMessageResponse, error) {
	f.ingested = append(f.ingested, req)
	f.orgIDs = append(f.orgIDs, orgID)
	return transport.IngestMessageResponse{
		LeadID:      uuid.New(),
		MessageID:   uuid.New(),
		LeadCreated: !f.duplicate,
		Duplicate:   f.duplicate,
	}, nil
}

func (f *fakeLeads) ApplyProcessingResult(_ context.Context, req transport.ProcessingResultRequest) (repository.Lead, error) {
	f.processed = append(f.processed, req)
	status, _ := json.Marshal(map[string]any{"webhook_sent": req.WebhookSent != nil && *req.WebhookSent})
	return repository.Lead{ID: req.LeadID, ProcessingStatus: status}, nil
}

type fakeEnricher struct {
	got map[uuid.UUID]properties.Enrichment
}

func (f *fakeEnricher) ApplyEnrichment(_ context.Context, id uuid.UUID, e properties.Enrichment) (properties.Property, error) {
	if f.got == nil {
		return properties.Property{}, apperr.NotFound("property not found")
	}
	f.got[id] = e
	return properties.Property{ID: id}, nil
}

type fakeOutbox struct {
	sentNow  []uuid.UUID
	failures []FailRequest
	due      []outbox.Record
}

func (f *fakeOutbox) SendNow(_ context.Context, id uuid.UUID) (outbox.Record, error) {
	f.sentNow = append(f.sentNow, id)
	return outbox.Record{ID: id, Status: outbox.StatusPending}, nil
}

func (f *fakeOutbox) RecordExternalFailure(_ context.Context, id uuid.UUID, reason string, code *int) (string, error) {
	f.failures = append(f.failures, FailRequest{ID: id, Reason: reason, StatusCode: code})
	return outbox.OutcomeRetry, nil
}

func (f *fakeOutbox) ListDue(_ context.Context, limit int) ([]outbox.Record, error) {
	if limit > 0 && limit < len(f.due) {
		return f.due[:limit], nil
	}
	return f.due, nil
}
