package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"estate_portal_backend/internal/adapters/storage"
	"estate_portal_backend/internal/email"
	"estate_portal_backend/internal/events"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (m *memObjects) EnsureBucketExists(context.Context, string) error { return nil }

func (m *memObjects) PutObject(_ context.Context, bucket, key, _ string, body []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[bucket+"/"+key] = body
	return nil
}

func (m *memObjects) GenerateDownloadURL(_ context.Context, bucket, key string) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{URL: "https://minio.local/" + bucket + "/" + key, FileKey: key, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type captureMailer struct {
	alerts []email.DeadLetterAlert
}

func (c *captureMailer) SendDeadLetterAlert(_ context.Context, alert email.DeadLetterAlert) error {
	c.alerts = append(c.alerts, alert)
	return nil
}

func failedEvent() events.OutboxMessageFailed {
	code := 502
	return events.OutboxMessageFailed{
		BaseEvent:      events.BaseEvent{Timestamp: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)},
		OutboxID:       uuid.New(),
		OrganizationID: uuid.New(),
		EventType:      EventLeadCreated,
		Target:         TargetHubSpot,
		Attempts:       3,
		LastStatusCode: &code,
		LastError:      "webhook failed with status 502",
		Payload:        json.RawMessage(`{"event":"lead.created"}`),
	}
}

func TestDeadLetterArchivesAndAlerts(t *testing.T) {
	objects := &memObjects{}
	mailer := &captureMailer{}
	h := NewDeadLetterHandler(objects, "outbox-dead-letters", mailer, clock.NewFakeClock(start), logger.Nop())
	e := failedEvent()

	require.NoError(t, h.Handle(context.Background(), e))

	key := ArchiveKey(e.OrganizationID, e.OutboxID)
	body, ok := objects.objects["outbox-dead-letters/"+key]
	require.True(t, ok)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "webhook failed with status 502", doc["last_error"])
	assert.Equal(t, "lead.created", doc["payload"].(map[string]any)["event"])

	require.Len(t, mailer.alerts, 1)
	assert.Equal(t, key, mailer.alerts[0].ArchiveKey)
	assert.Equal(t, 3, mailer.alerts[0].Attempts)
}

func TestDeadLetterAlertsEvenWhenArchiveFails(t *testing.T) {
	objects := &memObjects{putErr: errors.New("bucket missing")}
	mailer := &captureMailer{}
	h := NewDeadLetterHandler(objects, "outbox-dead-letters", mailer, nil, logger.Nop())

	err := h.Handle(context.Background(), failedEvent())
	require.Error(t, err)
	require.Len(t, mailer.alerts, 1)
	assert.Empty(t, mailer.alerts[0].ArchiveKey)
}

func TestDeadLetterWithoutArchive(t *testing.T) {
	mailer := &captureMailer{}
	h := NewDeadLetterHandler(nil, "", mailer, nil, logger.Nop())
	require.NoError(t, h.Handle(context.Background(), failedEvent()))
	require.Len(t, mailer.alerts, 1)
	assert.Empty(t, mailer.alerts[0].ArchiveKey)

	// Unrelated events are ignored.
	require.NoError(t, h.Handle(context.Background(), events.PropertyEnriched{}))
}
