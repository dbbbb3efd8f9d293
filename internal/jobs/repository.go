package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"estate_portal_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, organization_id, kind, payload, result, error, status, attempts, max_attempts,
	lease_id, leased_at, next_attempt_at, created_at, updated_at`

const jobColumnsJ = `j.id, j.organization_id, j.kind, j.payload, j.result, j.error, j.status, j.attempts, j.max_attempts,
	j.lease_id, j.leased_at, j.next_attempt_at, j.created_at, j.updated_at`

// leaseExpiredReason is written to job_events.details of jobs reclaimed by the sweep.
const leaseExpiredReason = "lease_expired"

const leaseSQL = `
	WITH due AS (
		SELECT id
		FROM job_tasks
		WHERE status = 'pending' AND next_attempt_at <= $1 AND ($2 = '' OR kind = $2)
		ORDER BY next_attempt_at ASC, created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	),
	leased AS (
		UPDATE job_tasks j
		SET status = 'in_progress', lease_id = gen_random_uuid(), leased_at = $1, updated_at = now()
		FROM due
		WHERE j.id = due.id
		RETURNING ` + jobColumnsJ + `
	),
	audit AS (
		INSERT INTO job_events (job_id, event, details)
		SELECT id, 'leased', jsonb_build_object('lease_id', lease_id, 'attempts', attempts)
		FROM leased
	)
	SELECT ` + jobColumns + `
	FROM leased
	ORDER BY next_attempt_at ASC, created_at ASC`

const requeueExpiredSQL = `
	WITH stale AS (
		SELECT id
		FROM job_tasks
		WHERE status = 'in_progress' AND leased_at < $1
		FOR UPDATE SKIP LOCKED
	),
	swept AS (
		UPDATE job_tasks j
		SET status = CASE WHEN j.attempts + 1 >= j.max_attempts THEN 'failed' ELSE 'pending' END,
		    attempts = j.attempts + 1,
		    lease_id = NULL,
		    leased_at = NULL,
		    next_attempt_at = $2,
		    error = 'lease expired',
		    updated_at = now()
		FROM stale
		WHERE j.id = stale.id
		RETURNING ` + jobColumnsJ + `
	),
	audit AS (
		INSERT INTO job_events (job_id, event, details)
		SELECT id,
		       CASE WHEN status = 'failed' THEN 'failed' ELSE 'retried' END,
		       jsonb_build_object('reason', $3::text)
		FROM swept
	)
	SELECT ` + jobColumns + ` FROM swept`

// ApplyFunc applies a succeeded job's result inside the completion transaction.
type ApplyFunc func(ctx context.Context, q db.DBTX, job Job, result json.RawMessage) (Applied, error)

// Repository persists jobs in job_tasks and job_events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository on pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	var status string
	var result []byte
	err := row.Scan(
		&j.ID, &j.OrganizationID, &j.Kind, &j.Payload, &result, &j.Error, &status, &j.Attempts, &j.MaxAttempts,
		&j.LeaseID, &j.LeasedAt, &j.NextAttemptAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	j.Status = Status(status)
	if len(result) > 0 {
		j.Result = result
	}
	return j, nil
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Enqueue inserts a pending job using q, or the pool when q is nil.
func (r *Repository) Enqueue(ctx context.Context, q db.DBTX, nj NewJob) (Job, error) {
	if q == nil {
		q = r.pool
	}
	payload, err := json.Marshal(nj.Payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal job payload: %w", err)
	}
	job, err := scanJob(q.QueryRow(ctx, `
		INSERT INTO job_tasks (organization_id, kind, payload, status, max_attempts, next_attempt_at)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		RETURNING `+jobColumns,
		nj.OrganizationID, nj.Kind, payload, nj.MaxAttempts, nj.RunAt,
	))
	if err != nil {
		return Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Lease moves up to limit due pending jobs to in_progress with a fresh lease and
// writes a leased event for each, all in one statement. Rows locked by a
// concurrent lease are skipped, so no job is handed to two callers.
func (r *Repository) Lease(ctx context.Context, kind string, limit int, now time.Time) ([]Job, error) {
	rows, err := r.pool.Query(ctx, leaseSQL, now, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("lease jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("lease jobs: %w", err)
	}
	return jobs, nil
}

// Completion is the outcome of a worker report.
type Completion struct {
	Job     Job
	Applied Applied
	// ApplyErr is set when the result applier failed; the transition still committed.
	ApplyErr error
}

// Complete locks the job, validates the lease, applies the transition and the
// result, and records the audit event in one transaction. Applier errors roll
// back to a savepoint and are reported in Completion.ApplyErr.
func (r *Repository) Complete(ctx context.Context, p CompleteParams, now time.Time, apply ApplyFunc) (Completion, error) {
	var out Completion
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_tasks WHERE id = $1 FOR UPDATE`, p.JobID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}

		tr, err := decideCompletion(current, p)
		if err != nil {
			return err
		}

		var leasedAt *time.Time
		if tr.refreshLease {
			leasedAt = &now
		}
		var result []byte
		if len(p.Result) > 0 {
			result = p.Result
		}

		job, err := scanJob(tx.QueryRow(ctx, `
			UPDATE job_tasks
			SET status = $2,
			    lease_id = CASE WHEN $3 THEN NULL ELSE lease_id END,
			    leased_at = CASE WHEN $3 THEN NULL ELSE COALESCE($4, leased_at) END,
			    next_attempt_at = COALESCE($5, next_attempt_at),
			    attempts = COALESCE($6, attempts),
			    result = COALESCE($7, result),
			    error = COALESCE($8, error),
			    updated_at = now()
			WHERE id = $1
			RETURNING `+jobColumns,
			p.JobID, string(tr.status), tr.clearLease, leasedAt, tr.nextAttemptAt, p.Attempts, result, p.Error,
		))
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}

		out.Job = job

		if tr.applyResult && apply != nil {
			out.Applied, out.ApplyErr = applyInSavepoint(ctx, tx, apply, job, p.Result)
		}

		details, err := json.Marshal(eventDetails(job, p, out.Applied))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO job_events (job_id, event, details) VALUES ($1, $2, $3)`, job.ID, tr.event, details); err != nil {
			return fmt.Errorf("insert job event: %w", err)
		}
		return nil
	})
	if err != nil {
		return Completion{}, err
	}
	return out, nil
}

func applyInSavepoint(ctx context.Context, tx pgx.Tx, apply ApplyFunc, job Job, result json.RawMessage) (Applied, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return Applied{}, err
	}
	applied, err := apply(ctx, sp, job, result)
	if err != nil {
		_ = sp.Rollback(ctx)
		return Applied{}, err
	}
	if err := sp.Commit(ctx); err != nil {
		return Applied{}, err
	}
	return applied, nil
}

func eventDetails(job Job, p CompleteParams, applied Applied) map[string]any {
	details := map[string]any{
		"status":   string(job.Status),
		"attempts": job.Attempts,
	}
	if len(p.Result) > 0 {
		details["result"] = p.Result
	}
	if p.Error != nil {
		details["error"] = *p.Error
	}
	if applied.UploadID != nil {
		details["upload_id"] = applied.UploadID.String()
	}
	if applied.PropertyID != nil {
		details["property_id"] = applied.PropertyID.String()
	}
	return details
}

// RequeueExpired returns in_progress jobs leased before cutoff to pending,
// consuming one attempt, or fails them when no attempts remain.
func (r *Repository) RequeueExpired(ctx context.Context, cutoff, now time.Time) ([]Job, error) {
	rows, err := r.pool.Query(ctx, requeueExpiredSQL, cutoff, now, leaseExpiredReason)
	if err != nil {
		return nil, fmt.Errorf("requeue expired leases: %w", err)
	}
	return collectJobs(rows)
}

// GetByID loads a job scoped to an organization.
func (r *Repository) GetByID(ctx context.Context, orgID, id uuid.UUID) (Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_tasks WHERE id = $1 AND organization_id = $2`, id, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListEvents returns a job's audit trail oldest first.
func (r *Repository) ListEvents(ctx context.Context, jobID uuid.UUID) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, event, details, created_at
		FROM job_events
		WHERE job_id = $1
		ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.JobID, &e.Event, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
