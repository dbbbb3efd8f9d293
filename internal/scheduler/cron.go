package scheduler

import (
	"context"
	"time"

	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/logger"

	"github.com/robfig/cron/v3"
)

const cronTaskTimeout = 5 * time.Minute

// CronRunner runs the periodic tasks in-process when Redis is not configured.
type CronRunner struct {
	cron   *cron.Cron
	runner *Runner
	log    *logger.Logger
}

func NewCronRunner(cfg config.SchedulerConfig, runner *Runner, log *logger.Logger) (*CronRunner, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)))
	r := &CronRunner{cron: c, runner: runner, log: log}

	if _, err := c.AddFunc(everySpec(cfg.GetDispatchInterval(), defaultDispatchInterval), r.task(TaskOutboxDispatch, func(ctx context.Context) error {
		_, err := runner.DispatchOutbox(ctx, 0)
		return err
	})); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc(everySpec(cfg.GetLeaseSweepInterval(), defaultSweepInterval), r.task(TaskJobsSweepLeases, func(ctx context.Context) error {
		_, err := runner.SweepLeases(ctx)
		return err
	})); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *CronRunner) task(name string, fn func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), cronTaskTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.log.Warn("cron task failed", "task", name, "error", err)
		}
	}
}

// Run starts the cron loop and blocks until ctx is cancelled and running tasks finish.
func (r *CronRunner) Run(ctx context.Context) error {
	r.cron.Start()
	r.log.Info("cron scheduler started", "entries", len(r.cron.Entries()))

	<-ctx.Done()
	<-r.cron.Stop().Done()
	r.log.Info("cron scheduler stopped")
	return nil
}
