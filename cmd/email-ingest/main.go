// Command email-ingest polls the configured IMAP mailbox and feeds unseen mail
// into lead ingestion.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"estate_portal_backend/internal/bootstrap"
	"estate_portal_backend/internal/email"
	"estate_portal_backend/internal/events"
	"estate_portal_backend/internal/leads"
	"estate_portal_backend/internal/leads/resolver"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/internal/properties"
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

	if !cfg.IsIMAPEnabled() {
		log.Error("IMAP_HOST and IMAP_USERNAME are required")
		os.Exit(1)
	}
	if cfg.GetIMAPOrganizationSlug() == "" {
		log.Error("IMAP_ORGANIZATION_SLUG is required")
		os.Exit(1)
	}

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

	vectors, err := bootstrap.Vectors(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize vector search", "error", err)
		os.Exit(1)
	}

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()
	val := validator.New()

	outboxModule := outbox.NewModule(pool, cfg, val, flagSet, eventBus, nil, nil, nil, log)
	propertiesModule := properties.NewModule(pool, val, flagSet, nil, properties.Deps{}, log)

	var searcher resolver.VectorSearcher
	if vectors.Qdrant != nil {
		searcher = vectors.Qdrant
	}
	propertyResolver := resolver.New(propertiesModule.Repository(), vectors.Embedder, searcher, nil, log)

	leadsModule := leads.NewModule(pool, cfg, val, eventBus, leads.Deps{
		Resolver: propertyResolver,
		Outbox:   outboxModule.Writer(),
	}, log)

	dial, err := email.NewIMAPDialer(cfg)
	if err != nil {
		log.Error("failed to initialize imap dialer", "error", err)
		os.Exit(1)
	}

	log.Info("email ingest started", "folder", cfg.GetIMAPFolder(), "organization", cfg.GetIMAPOrganizationSlug())
	email.NewPoller(dial, leadsModule.Service(), cfg.GetIMAPOrganizationSlug(), cfg.GetIMAPPollInterval(), log).Run(ctx)
	log.Info("email ingest stopped")
}
