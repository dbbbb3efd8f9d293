package scheduler

import (
	"context"
	"fmt"
	"time"

	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/logger"

	"github.com/hibiken/asynq"
)

const (
	defaultDispatchInterval = 30 * time.Second
	defaultSweepInterval    = time.Minute
)

// Worker consumes the background queue and registers the periodic tasks.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	runner    *Runner
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, runner *Runner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := queueName(cfg)
	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	periodic := asynq.NewScheduler(opt, &asynq.SchedulerOpts{})
	dispatchTask, err := NewOutboxDispatchTask(OutboxDispatchPayload{})
	if err != nil {
		return nil, err
	}
	if _, err := periodic.Register(everySpec(cfg.GetDispatchInterval(), defaultDispatchInterval), dispatchTask, asynq.Queue(queue), asynq.MaxRetry(0)); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskOutboxDispatch, err)
	}
	if _, err := periodic.Register(everySpec(cfg.GetLeaseSweepInterval(), defaultSweepInterval), NewSweepLeasesTask(), asynq.Queue(queue), asynq.MaxRetry(0)); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskJobsSweepLeases, err)
	}

	w := &Worker{
		server:    server,
		scheduler: periodic,
		mux:       asynq.NewServeMux(),
		runner:    runner,
		log:       log,
	}
	w.mux.HandleFunc(TaskOutboxDispatch, w.handleOutboxDispatch)
	w.mux.HandleFunc(TaskJobsSweepLeases, w.handleSweepLeases)
	return w, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return nil
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	if err := w.scheduler.Start(); err != nil {
		w.server.Shutdown()
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	w.log.Info("scheduler worker started")

	<-ctx.Done()
	w.scheduler.Shutdown()
	w.server.Shutdown()
	w.log.Info("scheduler worker stopped")
	return nil
}

func (w *Worker) handleOutboxDispatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOutboxDispatchPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	_, err = w.runner.DispatchOutbox(ctx, payload.Limit)
	return err
}

func (w *Worker) handleSweepLeases(ctx context.Context, _ *asynq.Task) error {
	_, err := w.runner.SweepLeases(ctx)
	return err
}

func everySpec(d, fallback time.Duration) string {
	if d <= 0 {
		d = fallback
	}
	return "@every " + d.String()
}
