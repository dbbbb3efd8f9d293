package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estate_portal_backend/internal/bootstrap"
	"estate_portal_backend/internal/email"
	"estate_portal_backend/internal/events"
	apphttp "estate_portal_backend/internal/http"
	"estate_portal_backend/internal/http/router"
	"estate_portal_backend/internal/jobs"
	"estate_portal_backend/internal/leads"
	"estate_portal_backend/internal/leads/resolver"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/internal/properties"
	"estate_portal_backend/internal/scheduler"
	"estate_portal_backend/internal/webhook"
	"estate_portal_backend/platform/clock"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/db"
	"estate_portal_backend/platform/flags"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/signing"
	"estate_portal_backend/platform/validator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := bootstrap.Migrate(ctx, cfg, cfg.MigrationsDir, log); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}

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

	redisClient, err := bootstrap.Redis(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize redis", "error", err)
		panic("failed to initialize redis: " + err.Error())
	}
	var guard signing.ReplayGuard
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		guard = signing.NewRedisReplayGuard(redisClient, "sigreplay:")
	} else {
		log.Warn("REDIS_URL not configured; signature replay protection limited to the timestamp window")
	}

	nudger, closeNudger := initDispatchNudger(cfg, log)
	if closeNudger != nil {
		defer closeNudger()
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

	vectors, err := bootstrap.Vectors(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize vector search", "error", err)
		panic("failed to initialize vector search: " + err.Error())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	outboxModule := outbox.NewModule(pool, cfg, val, flagSet, eventBus, outbox.NewMetrics(registry), nudger, objects, log)
	outbox.NewDeadLetterHandler(objects, cfg.GetOutboxArchiveBucket(), sender, clock.Real{}, log).RegisterHandlers(eventBus)

	jobsModule := jobs.NewModule(pool, cfg, val, eventBus, jobs.NewMetrics(registry), guard, log)

	propertyDeps := properties.Deps{
		Jobs:     jobsModule.Service(),
		Outbox:   outboxModule.Writer(),
		Embedder: vectors.Embedder,
	}
	if vectors.Qdrant != nil {
		propertyDeps.Vectors = vectors.Qdrant
	}
	propertiesModule := properties.NewModule(pool, val, flagSet, eventBus, propertyDeps, log)

	var searcher resolver.VectorSearcher
	if vectors.Qdrant != nil {
		searcher = vectors.Qdrant
	}
	propertyResolver := resolver.New(propertiesModule.Repository(), vectors.Embedder, searcher, resolver.NewMetrics(registry), log)

	// The leads module mounts ingestion behind the webhook API keys, and the
	// webhook callbacks hand off to leads, so the webhook handler is wired last.
	webhookModule := webhook.NewModule(pool, cfg, val, guard, log)
	leadsModule := leads.NewModule(pool, cfg, val, eventBus, leads.Deps{
		Resolver:   propertyResolver,
		Outbox:     outboxModule.Writer(),
		IngestAuth: webhookModule.APIKeyAuth(),
	}, log)
	webhookModule.Wire(webhook.Deps{
		Leads:      leadsModule.Service(),
		Properties: propertiesModule.Service(),
		Outbox:     outboxModule.Service(),
	})

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Flags:    flagSet,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Modules: []apphttp.Module{
			leadsModule,
			propertiesModule,
			jobsModule,
			outboxModule,
			webhookModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initDispatchNudger(cfg config.SchedulerConfig, log *logger.Logger) (outbox.Nudger, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; send-now waits for the next dispatch pass")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}
