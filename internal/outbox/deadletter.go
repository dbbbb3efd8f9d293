package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"estate_portal_backend/internal/adapters/storage"
	"estate_portal_backend/internal/email"
	"estate_portal_backend/internal/events"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/logger"

	"github.com/google/uuid"
)

// ArchiveKey is the object key of a dead-lettered message.
func ArchiveKey(orgID, outboxID uuid.UUID) string {
	return fmt.Sprintf("dead-letters/%s/%s.json", orgID, outboxID)
}

type deadLetterDocument struct {
	OutboxID       uuid.UUID       `json:"outbox_id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	EventType      string          `json:"event_type"`
	Target         string          `json:"target"`
	Attempts       int             `json:"attempts"`
	LastStatusCode *int            `json:"last_status_code,omitempty"`
	LastError      string          `json:"last_error"`
	FailedAt       string          `json:"failed_at"`
	Payload        json.RawMessage `json:"payload"`
}

// DeadLetterHandler archives and reports messages that reached failed.
// Both the archive and the alert are optional.
type DeadLetterHandler struct {
	storage storage.StorageService
	bucket  string
	mailer  email.Sender
	clock   clock.Clock
	log     *logger.Logger
}

// NewDeadLetterHandler creates a handler. store may be nil or bucket empty to skip archiving;
// mailer may be nil to skip alerts.
func NewDeadLetterHandler(store storage.StorageService, bucket string, mailer email.Sender, clk clock.Clock, log *logger.Logger) *DeadLetterHandler {
	if clk == nil {
		clk = clock.Real{}
	}
	if mailer == nil {
		mailer = email.NoopSender{}
	}
	return &DeadLetterHandler{storage: store, bucket: bucket, mailer: mailer, clock: clk, log: log}
}

// RegisterHandlers subscribes to terminal outbox failures.
func (h *DeadLetterHandler) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.OutboxMessageFailed{}.EventName(), h)
}

func (h *DeadLetterHandler) archiveEnabled() bool {
	return h.storage != nil && h.bucket != ""
}

// Handle implements events.Handler.
func (h *DeadLetterHandler) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.OutboxMessageFailed)
	if !ok {
		return nil
	}

	failedAt := e.OccurredAt()
	if failedAt.IsZero() {
		failedAt = h.clock.Now()
	}

	var errs []error
	key := ""
	if h.archiveEnabled() {
		key = ArchiveKey(e.OrganizationID, e.OutboxID)
		if err := h.archive(ctx, key, e, failedAt.UTC().Format("2006-01-02T15:04:05Z07:00")); err != nil {
			errs = append(errs, err)
			key = ""
		}
	}

	err := h.mailer.SendDeadLetterAlert(ctx, email.DeadLetterAlert{
		OutboxID:       e.OutboxID.String(),
		OrganizationID: e.OrganizationID.String(),
		EventType:      e.EventType,
		Target:         e.Target,
		Attempts:       e.Attempts,
		LastStatusCode: e.LastStatusCode,
		LastError:      e.LastError,
		FailedAt:       failedAt,
		ArchiveKey:     key,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("dead letter alert: %w", err))
	}

	if len(errs) == 0 {
		h.log.Info("outbox message dead-lettered", "outbox_id", e.OutboxID, "target", e.Target, "archive_key", key)
	}
	return errors.Join(errs...)
}

func (h *DeadLetterHandler) archive(ctx context.Context, key string, e events.OutboxMessageFailed, failedAt string) error {
	body, err := json.Marshal(deadLetterDocument{
		OutboxID:       e.OutboxID,
		OrganizationID: e.OrganizationID,
		EventType:      e.EventType,
		Target:         e.Target,
		Attempts:       e.Attempts,
		LastStatusCode: e.LastStatusCode,
		LastError:      e.LastError,
		FailedAt:       failedAt,
		Payload:        e.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := h.storage.PutObject(ctx, h.bucket, key, "application/json", body); err != nil {
		return fmt.Errorf("archive dead letter: %w", err)
	}
	return nil
}
