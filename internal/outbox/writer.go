package outbox

import (
	"context"
	"errors"
	"strings"

	"estate_portal_backend/platform/apperr"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/db"
	"estate_portal_backend/platform/flags"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/validator"

	"github.com/google/uuid"
)

// ErrIntegrationDisabled is returned when the webhook_integration flag is off.
var ErrIntegrationDisabled = errors.New("webhook integration disabled")

// Message is a request to deliver payload to one target.
type Message struct {
	OrganizationID   uuid.UUID
	OrganizationSlug string
	Target           string
	Payload          Payload
	MaxAttempts      int
}

type inserter interface {
	Insert(ctx context.Context, q db.DBTX, rec NewRecord) (Record, error)
}

// Writer validates, renders and stores outbox messages.
type Writer struct {
	repo        inserter
	targets     map[string]string
	leadTargets []string
	maxAttempts int
	val         *validator.Validator
	flags       *flags.Set
	clock       clock.Clock
	log         *logger.Logger
}

// NewWriter builds a Writer for the configured targets.
func NewWriter(repo inserter, cfg config.OutboxConfig, val *validator.Validator, flagSet *flags.Set, clk clock.Clock, log *logger.Logger) *Writer {
	targets := make(map[string]string)
	for _, t := range cfg.GetOutboxTargets() {
		targets[t.Name] = t.URL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Writer{
		repo:        repo,
		targets:     targets,
		leadTargets: cfg.GetOutboxLeadTargets(),
		maxAttempts: cfg.GetOutboxMaxAttempts(),
		val:         val,
		flags:       flagSet,
		clock:       clk,
		log:         log,
	}
}

// LeadTargets returns the configured targets that receive lead.created.
func (w *Writer) LeadTargets() []string {
	out := make([]string, 0, len(w.leadTargets))
	for _, name := range w.leadTargets {
		if _, ok := w.targets[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// HasTarget reports whether name is a configured delivery target.
func (w *Writer) HasTarget(name string) bool {
	_, ok := w.targets[name]
	return ok
}

// Enqueue stores msg using q, normally the caller's transaction, so the row
// commits or rolls back with the change that produced it.
func (w *Writer) Enqueue(ctx context.Context, q db.DBTX, msg Message) (Record, error) {
	if msg.Payload == nil {
		return Record{}, apperr.Validation("payload is required").WithOp("outbox.Enqueue")
	}
	if msg.OrganizationID == uuid.Nil {
		return Record{}, apperr.Validation("organization is required").WithOp("outbox.Enqueue")
	}

	target := strings.ToLower(strings.TrimSpace(msg.Target))
	if _, ok := w.targets[target]; !ok {
		return Record{}, apperr.Validation("unknown or unconfigured target: " + msg.Target).WithOp("outbox.Enqueue")
	}

	if isLeadEvent(msg.Payload.EventType()) && !w.flags.Enabled(flags.WebhookIntegration) {
		w.log.Info("outbox enqueue skipped", "reason", "webhook_integration disabled", "event", msg.Payload.EventType(), "target", target)
		return Record{}, ErrIntegrationDisabled
	}

	if w.val != nil {
		if err := w.val.Struct(msg.Payload); err != nil {
			return Record{}, apperr.Wrap(apperr.KindValidation, "invalid "+msg.Payload.EventType()+" payload", err).WithOp("outbox.Enqueue")
		}
	}

	now := w.clock.Now()
	body, err := Render(target, msg.OrganizationSlug, now, msg.Payload)
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindValidation, "render payload", err).WithOp("outbox.Enqueue")
	}

	maxAttempts := msg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.maxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return w.repo.Insert(ctx, q, NewRecord{
		OrganizationID: msg.OrganizationID,
		EventType:      msg.Payload.EventType(),
		Target:         target,
		Payload:        body,
		MaxAttempts:    maxAttempts,
		NextRetryAt:    now,
		IdempotencyKey: uuid.New(),
	})
}

func isLeadEvent(eventType string) bool {
	switch eventType {
	case EventLeadCreated, EventChatInquiry, EventPropertyInquiry:
		return true
	}
	return false
}
