package outbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"estate_portal_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const recordColumns = `id, organization_id, event_type, target, payload, status, attempts, max_attempts,
	next_retry_at, last_attempt_at, last_status_code, last_error, idempotency_key, sent_at, created_at, updated_at`

const claimedColumns = `o.id, o.organization_id, o.event_type, o.target, o.payload, o.status, o.attempts, o.max_attempts,
	o.next_retry_at, o.last_attempt_at, o.last_status_code, o.last_error, o.idempotency_key, o.sent_at, o.created_at, o.updated_at`

const claimDueSQL = `
	WITH due AS (
		SELECT id
		FROM webhook_outbox
		WHERE status IN ('pending', 'retry') AND next_retry_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	UPDATE webhook_outbox o
	SET next_retry_at = $3, claim_token = $4, updated_at = now()
	FROM due
	WHERE o.id = due.id
	RETURNING ` + claimedColumns

const renewSQL = `
	UPDATE webhook_outbox
	SET next_retry_at = $3, updated_at = now()
	WHERE id = $1 AND claim_token = $2 AND status IN ('pending', 'retry')`

const markSentSQL = `
	UPDATE webhook_outbox
	SET status = 'sent', sent_at = $3, last_attempt_at = $3, last_status_code = $4, last_error = NULL, updated_at = now()
	WHERE id = $1 AND status IN ('pending', 'retry') AND attempts = $2`

const markFailureSQL = `
	UPDATE webhook_outbox
	SET status = $3, attempts = attempts + 1, next_retry_at = $4, last_attempt_at = $5,
	    last_status_code = $6, last_error = $7, updated_at = now()
	WHERE id = $1 AND status IN ('pending', 'retry') AND attempts = $2 AND attempts < max_attempts`

// Repository persists outbox rows in webhook_outbox.
type Repository struct {
	pool db.DBTX
}

// NewRepository creates a repository on pool.
func NewRepository(pool db.DBTX) *Repository {
	return &Repository{pool: pool}
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var status string
	err := row.Scan(
		&rec.ID, &rec.OrganizationID, &rec.EventType, &rec.Target, &rec.Payload, &status, &rec.Attempts, &rec.MaxAttempts,
		&rec.NextRetryAt, &rec.LastAttemptAt, &rec.LastStatusCode, &rec.LastError, &rec.IdempotencyKey, &rec.SentAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Insert writes a new pending row using q.
func (r *Repository) Insert(ctx context.Context, q db.DBTX, rec NewRecord) (Record, error) {
	if q == nil {
		q = r.pool
	}
	row := q.QueryRow(ctx, `
		INSERT INTO webhook_outbox (organization_id, event_type, target, payload, status, max_attempts, next_retry_at, idempotency_key)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)
		RETURNING `+recordColumns,
		rec.OrganizationID, rec.EventType, rec.Target, rec.Payload, rec.MaxAttempts, rec.NextRetryAt, rec.IdempotencyKey,
	)
	out, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("insert outbox message: %w", err)
	}
	return out, nil
}

// ClaimDue selects due pending/retry rows oldest first, skipping rows locked by
// another dispatcher. It stamps them with token and pushes next_retry_at to
// visibleUntil so no other dispatcher picks them up while the batch runs.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int, visibleUntil time.Time, token uuid.UUID) ([]Record, error) {
	rows, err := r.pool.Query(ctx, claimDueSQL, now, limit, visibleUntil, token)
	if err != nil {
		return nil, fmt.Errorf("claim outbox messages: %w", err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("claim outbox messages: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

// Renew extends the visibility of one claimed row right before it is sent. It
// returns false when another dispatcher has claimed the row since, or it is no
// longer deliverable.
func (r *Repository) Renew(ctx context.Context, id uuid.UUID, token uuid.UUID, visibleUntil time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, renewSQL, id, token, visibleUntil)
	if err != nil {
		return false, fmt.Errorf("renew outbox claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSent records a successful delivery. It returns false when the row was
// already moved on by someone else.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, prevAttempts int, statusCode int, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, markSentSQL, id, prevAttempts, at, statusCode)
	if err != nil {
		return false, fmt.Errorf("mark outbox sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailure consumes one attempt and moves the row to f.Status.
func (r *Repository) MarkFailure(ctx context.Context, id uuid.UUID, prevAttempts int, f Failure) (bool, error) {
	tag, err := r.pool.Exec(ctx, markFailureSQL, id, prevAttempts, string(f.Status), f.NextRetryAt, f.At, f.StatusCode, f.Error)
	if err != nil {
		return false, fmt.Errorf("mark outbox failure: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Defer pushes a row back without consuming an attempt.
func (r *Repository) Defer(ctx context.Context, id uuid.UUID, prevAttempts int, until time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_outbox
		SET next_retry_at = $3, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'retry') AND attempts = $2
	`, id, prevAttempts, until)
	if err != nil {
		return false, fmt.Errorf("defer outbox message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID loads one row.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM webhook_outbox WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get outbox message: %w", err)
	}
	return rec, nil
}

// MakeDue sets next_retry_at to at for a pending/retry row.
func (r *Repository) MakeDue(ctx context.Context, id uuid.UUID, at time.Time) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `
		UPDATE webhook_outbox
		SET next_retry_at = $2, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'retry')
		RETURNING `+recordColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return Record{}, getErr
		}
		return Record{}, ErrNotDeliverable
	}
	if err != nil {
		return Record{}, fmt.Errorf("make outbox message due: %w", err)
	}
	return rec, nil
}

// ListDue returns due rows without claiming them.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM webhook_outbox
		WHERE status IN ('pending', 'retry') AND next_retry_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due outbox messages: %w", err)
	}
	return collectRecords(rows)
}

// ListByStatus returns an organization's rows in status, newest first.
func (r *Repository) ListByStatus(ctx context.Context, orgID uuid.UUID, status Status, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM webhook_outbox
		WHERE organization_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, orgID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox messages: %w", err)
	}
	return collectRecords(rows)
}

// Requeue moves a failed row back to retry with a fresh attempt budget.
// The idempotency key is kept so receivers can still deduplicate.
func (r *Repository) Requeue(ctx context.Context, orgID, id uuid.UUID, at time.Time) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `
		UPDATE webhook_outbox
		SET status = 'retry', attempts = 0, next_retry_at = $3, last_error = NULL, updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND status = 'failed'
		RETURNING `+recordColumns, id, orgID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := r.GetByID(ctx, id)
		if getErr != nil || existing.OrganizationID != orgID {
			return Record{}, ErrNotFound
		}
		return Record{}, ErrNotFailed
	}
	if err != nil {
		return Record{}, fmt.Errorf("requeue outbox message: %w", err)
	}
	return rec, nil
}
