// Package outbox implements the transactional webhook outbox: messages are
// written in the caller's transaction and delivered later by the dispatcher.
package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of an outbox row.
type Status string

const (
	StatusPending Status = "pending"
	StatusRetry   Status = "retry"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRetry, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Deliverable reports whether a row in this status can still be claimed.
func (s Status) Deliverable() bool {
	return s == StatusPending || s == StatusRetry
}

var (
	ErrNotFound       = errors.New("outbox message not found")
	ErrNotDeliverable = errors.New("outbox message is not pending or retry")
	ErrNotFailed      = errors.New("outbox message is not failed")
)

// Record is a persisted outbox row. Payload is the rendered, immutable body.
type Record struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	EventType      string          `json:"eventType"`
	Target         string          `json:"target"`
	Payload        json.RawMessage `json:"payload"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"maxAttempts"`
	NextRetryAt    time.Time       `json:"nextRetryAt"`
	LastAttemptAt  *time.Time      `json:"lastAttemptAt,omitempty"`
	LastStatusCode *int            `json:"lastStatusCode,omitempty"`
	LastError      *string         `json:"lastError,omitempty"`
	IdempotencyKey uuid.UUID       `json:"idempotencyKey"`
	SentAt         *time.Time      `json:"sentAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// NewRecord is the insert shape produced by the Writer.
type NewRecord struct {
	OrganizationID uuid.UUID
	EventType      string
	Target         string
	Payload        json.RawMessage
	MaxAttempts    int
	NextRetryAt    time.Time
	IdempotencyKey uuid.UUID
}

// Failure describes one consumed delivery attempt.
type Failure struct {
	Status      Status
	NextRetryAt time.Time
	At          time.Time
	StatusCode  *int
	Error       string
}
