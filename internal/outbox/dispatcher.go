package outbox

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"estate_portal_backend/internal/events"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var errClaimLost = errors.New("claim taken over by another dispatcher")

const (
	// DefaultBatchSize is used when ProcessPending gets a non-positive limit.
	DefaultBatchSize = 50
	// MaxBatchSize caps a single claim.
	MaxBatchSize = 500
)

// Store is the persistence the dispatcher needs.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, visibleUntil time.Time, token uuid.UUID) ([]Record, error)
	Renew(ctx context.Context, id uuid.UUID, token uuid.UUID, visibleUntil time.Time) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, prevAttempts int, statusCode int, at time.Time) (bool, error)
	MarkFailure(ctx context.Context, id uuid.UUID, prevAttempts int, f Failure) (bool, error)
	Defer(ctx context.Context, id uuid.UUID, prevAttempts int, until time.Time) (bool, error)
}

// DispatcherOptions tunes delivery. VisibilityTimeout is the margin a claimed
// row stays hidden beyond the time its delivery may take; SendTimeout is the
// upper bound of one POST.
type DispatcherOptions struct {
	Backoff           Backoff
	VisibilityTimeout time.Duration
	SendTimeout       time.Duration
	Concurrency       int
	FailFast4xx       bool
	BreakerDefer      time.Duration
}

// OptionsFromConfig reads dispatcher options from configuration.
func OptionsFromConfig(cfg config.OutboxConfig) DispatcherOptions {
	return DispatcherOptions{
		Backoff:           Backoff{Base: cfg.GetOutboxBackoffBase(), Max: cfg.GetOutboxBackoffMax()},
		VisibilityTimeout: cfg.GetOutboxVisibilityTimeout(),
		SendTimeout:       cfg.GetOutboxHTTPTimeout(),
		Concurrency:       cfg.GetOutboxConcurrency(),
		FailFast4xx:       cfg.GetOutboxFailFast4xx(),
	}
}

// Dispatcher delivers due outbox rows.
type Dispatcher struct {
	store   Store
	sender  Sender
	bus     events.Bus
	clock   clock.Clock
	metrics *Metrics
	log     *logger.Logger
	opts    DispatcherOptions
}

// NewDispatcher creates a dispatcher. bus and metrics may be nil.
func NewDispatcher(store Store, sender Sender, bus events.Bus, clk clock.Clock, metrics *Metrics, log *logger.Logger, opts DispatcherOptions) *Dispatcher {
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 2 * time.Minute
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.BreakerDefer <= 0 {
		opts.BreakerDefer = time.Minute
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		bus:     bus,
		clock:   clk,
		metrics: metrics,
		log:     log,
		opts:    opts,
	}
}

// ProcessPending claims up to limit due rows and attempts each once. It returns
// how many were delivered. Per-row delivery failures are recorded on the row;
// only claim and bookkeeping errors are returned.
func (d *Dispatcher) ProcessPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	if limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	now := d.clock.Now()
	token := uuid.New()
	records, err := d.store.ClaimDue(ctx, now, limit, now.Add(d.batchVisibility(limit)), token)
	if err != nil {
		return 0, err
	}
	d.metrics.addClaimed(len(records))
	if len(records) == 0 {
		return 0, nil
	}

	var sent atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for _, rec := range records {
		g.Go(func() error {
			owned, err := d.store.Renew(ctx, rec.ID, token, d.clock.Now().Add(d.opts.SendTimeout+d.opts.VisibilityTimeout))
			if err != nil {
				return err
			}
			if !owned {
				d.log.OutboxDelivery(rec.ID.String(), rec.Target, OutcomeStale, 0, rec.Attempts, errClaimLost)
				return nil
			}
			delivered, err := d.deliver(ctx, rec)
			if delivered {
				sent.Add(1)
			}
			return err
		})
	}
	err = g.Wait()
	return int(sent.Load()), err
}

// batchVisibility is how long a claimed batch stays hidden: every row's worst-case
// POST, spread over the concurrency, plus the margin.
func (d *Dispatcher) batchVisibility(limit int) time.Duration {
	waves := (limit + d.opts.Concurrency - 1) / d.opts.Concurrency
	return time.Duration(waves)*d.opts.SendTimeout + d.opts.VisibilityTimeout
}

func (d *Dispatcher) deliver(ctx context.Context, rec Record) (bool, error) {
	start := d.clock.Now()
	statusCode, sendErr := d.sender.Send(ctx, rec)
	now := d.clock.Now()
	elapsed := now.Sub(start)

	if errors.Is(sendErr, ErrBreakerOpen) {
		ok, err := d.store.Defer(ctx, rec.ID, rec.Attempts, now.Add(d.opts.BreakerDefer))
		if err != nil {
			return false, err
		}
		d.metrics.observeDelivery(rec.Target, outcomeOrStale(ok, OutcomeDeferred), elapsed)
		d.log.OutboxDelivery(rec.ID.String(), rec.Target, OutcomeDeferred, 0, rec.Attempts, sendErr)
		return false, nil
	}

	if sendErr == nil {
		ok, err := d.store.MarkSent(ctx, rec.ID, rec.Attempts, statusCode, now)
		if err != nil {
			return false, err
		}
		d.metrics.observeDelivery(rec.Target, outcomeOrStale(ok, OutcomeSent), elapsed)
		d.log.OutboxDelivery(rec.ID.String(), rec.Target, outcomeOrStale(ok, OutcomeSent), statusCode, rec.Attempts, nil)
		return ok, nil
	}

	var code *int
	if statusCode > 0 {
		code = &statusCode
	}
	terminal := d.opts.FailFast4xx && isPermanentClientError(statusCode)
	outcome, err := d.RecordFailure(ctx, rec, code, sendErr.Error(), terminal)
	if err != nil {
		return false, err
	}
	d.metrics.observeDelivery(rec.Target, outcome, elapsed)
	return false, nil
}

// RecordFailure consumes one attempt on rec. The row becomes failed when the
// attempt budget is exhausted or terminal is set, and retry otherwise.
func (d *Dispatcher) RecordFailure(ctx context.Context, rec Record, statusCode *int, reason string, terminal bool) (string, error) {
	now := d.clock.Now()
	attempts := rec.Attempts + 1

	f := Failure{
		Status:      StatusRetry,
		NextRetryAt: now.Add(d.opts.Backoff.Delay(attempts)),
		At:          now,
		StatusCode:  statusCode,
		Error:       reason,
	}
	if terminal || attempts >= rec.MaxAttempts {
		f.Status = StatusFailed
		f.NextRetryAt = now
	}

	ok, err := d.store.MarkFailure(ctx, rec.ID, rec.Attempts, f)
	if err != nil {
		return "", err
	}
	code := 0
	if statusCode != nil {
		code = *statusCode
	}
	if !ok {
		d.log.OutboxDelivery(rec.ID.String(), rec.Target, OutcomeStale, code, rec.Attempts, errors.New(reason))
		return OutcomeStale, nil
	}

	outcome := OutcomeRetry
	if f.Status == StatusFailed {
		outcome = OutcomeFailed
		d.publishFailed(ctx, rec, attempts, statusCode, reason)
	}
	d.log.OutboxDelivery(rec.ID.String(), rec.Target, outcome, code, attempts, errors.New(reason))
	return outcome, nil
}

func (d *Dispatcher) publishFailed(ctx context.Context, rec Record, attempts int, statusCode *int, reason string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(ctx, events.OutboxMessageFailed{
		BaseEvent:      events.NewBaseEventAt(d.clock.Now()),
		OutboxID:       rec.ID,
		OrganizationID: rec.OrganizationID,
		EventType:      rec.EventType,
		Target:         rec.Target,
		Attempts:       attempts,
		LastStatusCode: statusCode,
		LastError:      reason,
		Payload:        rec.Payload,
	})
}

func outcomeOrStale(ok bool, outcome string) string {
	if ok {
		return outcome
	}
	return OutcomeStale
}

func isPermanentClientError(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	return code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}
