package scheduler

import (
	"context"

	"estate_portal_backend/platform/logger"
)

const (
	defaultBatchSize = 50
	maxDrainPasses   = 10
)

// OutboxDispatcher delivers due outbox messages.
type OutboxDispatcher interface {
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// LeaseSweeper reclaims jobs whose worker lease ran out.
type LeaseSweeper interface {
	SweepExpiredLeases(ctx context.Context) (int, error)
}

// Runner holds the periodic work shared by the asynq worker and the cron fallback.
type Runner struct {
	outbox    OutboxDispatcher
	leases    LeaseSweeper
	batchSize int
	log       *logger.Logger
}

// NewRunner creates a runner. Either collaborator may be nil to disable its task.
func NewRunner(outbox OutboxDispatcher, leases LeaseSweeper, batchSize int, log *logger.Logger) *Runner {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Runner{outbox: outbox, leases: leases, batchSize: batchSize, log: log}
}

// DispatchOutbox runs dispatch passes until a pass comes back short of a full batch.
func (r *Runner) DispatchOutbox(ctx context.Context, limit int) (int, error) {
	if r.outbox == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = r.batchSize
	}

	total := 0
	for pass := 0; pass < maxDrainPasses; pass++ {
		n, err := r.outbox.ProcessPending(ctx, limit)
		total += n
		if err != nil {
			r.log.Error("outbox dispatch pass failed", "error", err, "processed", total)
			return total, err
		}
		if n < limit || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		r.log.Info("outbox dispatch finished", "processed", total)
	}
	return total, nil
}

// SweepLeases returns expired leases to the queue.
func (r *Runner) SweepLeases(ctx context.Context) (int, error) {
	if r.leases == nil {
		return 0, nil
	}
	n, err := r.leases.SweepExpiredLeases(ctx)
	if err != nil {
		r.log.Error("job lease sweep failed", "error", err)
		return 0, err
	}
	if n > 0 {
		r.log.Info("job leases reclaimed", "count", n)
	}
	return n, nil
}
