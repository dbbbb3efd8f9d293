package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"estate_portal_backend/internal/bootstrap"
	"estate_portal_backend/internal/email"
	"estate_portal_backend/internal/events"
	"estate_portal_backend/internal/jobs"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/internal/scheduler"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/flags"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.Connect(ctx, cfg, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	flagSet, err := flags.Load(cfg.GetFeatureFlagsFile())
	if err != nil {
		log.Error("failed to load feature flags", "error", err)
		panic("failed to load feature flags: " + err.Error())
	}

	objects, err := bootstrap.Objects(ctx, cfg, cfg.GetOutboxArchiveBucket(), log)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()
	val := validator.New()

	outboxModule := outbox.NewModule(pool, cfg, val, flagSet, eventBus, nil, nil, objects, log)
	outbox.NewDeadLetterHandler(objects, cfg.GetOutboxArchiveBucket(), sender, clock.Real{}, log).RegisterHandlers(eventBus)
	jobsModule := jobs.NewModule(pool, cfg, val, eventBus, nil, nil, log)

	runner := scheduler.NewRunner(outboxModule.Dispatcher(), jobsModule.Service(), cfg.GetOutboxBatchSize(), log)

	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; running periodic tasks in-process")
		cronRunner, err := scheduler.NewCronRunner(cfg, runner, log)
		if err != nil {
			log.Error("failed to initialize cron scheduler", "error", err)
			panic("failed to initialize cron scheduler: " + err.Error())
		}
		_ = cronRunner.Run(ctx)
		return
	}

	worker, err := scheduler.NewWorker(cfg, runner, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}
	if err := worker.Run(ctx); err != nil {
		log.Error("scheduler worker failed", "error", err)
		panic("scheduler worker failed: " + err.Error())
	}
}
