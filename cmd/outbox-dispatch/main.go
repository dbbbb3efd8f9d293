// Command outbox-dispatch runs one outbox delivery pass and exits.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"estate_portal_backend/internal/bootstrap"
	"estate_portal_backend/internal/email"
	"estate_portal_backend/internal/events"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/flags"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/validator"
)

func main() {
	limit := flag.Int("limit", 50, "maximum messages to claim")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.Connect(ctx, cfg, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	flagSet, err := flags.Load(cfg.GetFeatureFlagsFile())
	if err != nil {
		log.Error("failed to load feature flags", "error", err)
		os.Exit(1)
	}
	objects, err := bootstrap.Objects(ctx, cfg, cfg.GetOutboxArchiveBucket(), log)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		os.Exit(1)
	}
	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		os.Exit(1)
	}

	eventBus := events.NewInMemoryBus(log)
	outboxModule := outbox.NewModule(pool, cfg, validator.New(), flagSet, eventBus, nil, nil, objects, log)
	outbox.NewDeadLetterHandler(objects, cfg.GetOutboxArchiveBucket(), sender, clock.Real{}, log).RegisterHandlers(eventBus)

	n, err := outboxModule.Dispatcher().ProcessPending(ctx, *limit)
	eventBus.Wait()
	if err != nil {
		log.Error("outbox dispatch failed", "error", err, "processed", n)
		os.Exit(1)
	}
	log.Info("outbox dispatch complete", "processed", n)
}
