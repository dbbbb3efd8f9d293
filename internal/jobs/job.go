// Package jobs implements the lease API that lets n8n pull work items,
// report results, and have those results applied to the originating entity.
package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition happens automatically.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Job kinds with result appliers.
const (
	KindPropertyAIEnrichment   = "property_ai_enrichment"
	KindPropertyValidationDeep = "property_validation_deep"
)

// Audit events written to job_events.
const (
	EventLeased    = "leased"
	EventStarted   = "started"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventRetried   = "retried"
)

const (
	DefaultLeaseLimit = 50
	MaxLeaseLimit     = 200
	DefaultLeaseTTL   = 10 * time.Minute
)

var (
	ErrNotFound              = errors.New("job not found")
	ErrLeaseMismatch         = errors.New("lease ID mismatch")
	ErrNextAttemptAtRequired = errors.New("next_attempt_at is required to requeue a job")
	ErrInvalidStatus         = errors.New("invalid job status")
)

// Job is a row of job_tasks.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *string         `json:"error,omitempty"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"maxAttempts"`
	LeaseID        *uuid.UUID      `json:"leaseId,omitempty"`
	LeasedAt       *time.Time      `json:"leasedAt,omitempty"`
	NextAttemptAt  time.Time       `json:"nextAttemptAt"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// LeasedJob is what a worker receives from the lease endpoint.
type LeasedJob struct {
	ID        uuid.UUID       `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LeaseID   uuid.UUID       `json:"lease_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// Event is one audit row.
type Event struct {
	ID        int64           `json:"id"`
	JobID     uuid.UUID       `json:"jobId"`
	Event     string          `json:"event"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewJob is the producer-facing insert shape.
type NewJob struct {
	OrganizationID uuid.UUID
	Kind           string
	Payload        any
	RunAt          time.Time
	MaxAttempts    int
}

// CompleteParams is a worker's report on a leased job.
type CompleteParams struct {
	JobID         uuid.UUID
	LeaseID       uuid.UUID
	Status        Status
	Result        json.RawMessage
	Error         *string
	Attempts      *int
	NextAttemptAt *time.Time
}

// CompleteResult is returned to the worker.
type CompleteResult struct {
	Status     string     `json:"status"`
	JobID      uuid.UUID  `json:"job_id"`
	UploadID   *uuid.UUID `json:"upload_id,omitempty"`
	PropertyID *uuid.UUID `json:"property_id,omitempty"`
}

// Applied reports what a result applier touched.
type Applied struct {
	UploadID   *uuid.UUID
	PropertyID *uuid.UUID
	// Promoted is set when the applier created a property from an upload.
	Promoted bool
}

func hasResult(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	s := string(raw)
	return s != "null" && s != "{}" && s != `""`
}
