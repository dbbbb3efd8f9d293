// Command property-reindex rebuilds the property vector index for one
// organization, or for all of them when -org is empty.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"estate_portal_backend/internal/bootstrap"
	"estate_portal_backend/internal/properties"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/flags"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/validator"

	"github.com/google/uuid"
)

func main() {
	orgFlag := flag.String("org", "", "organization id (all organizations when empty)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vectors, err := bootstrap.Vectors(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize vector search", "error", err)
		os.Exit(1)
	}
	if !vectors.Enabled() {
		log.Error("vector search is not configured")
		os.Exit(1)
	}

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

	module := properties.NewModule(pool, validator.New(), flagSet, nil, properties.Deps{
		Embedder: vectors.Embedder,
		Vectors:  vectors.Qdrant,
	}, log)

	var orgIDs []uuid.UUID
	if *orgFlag != "" {
		orgID, err := uuid.Parse(*orgFlag)
		if err != nil {
			log.Error("invalid -org", "error", err)
			os.Exit(2)
		}
		orgIDs = []uuid.UUID{orgID}
	} else {
		orgIDs, err = module.Repository().ListOrganizationIDs(ctx)
		if err != nil {
			log.Error("failed to list organizations", "error", err)
			os.Exit(1)
		}
	}

	total := 0
	failed := false
	for _, orgID := range orgIDs {
		n, err := module.Indexer().Reindex(ctx, orgID)
		total += n
		if err != nil {
			log.Error("reindex failed", "organization_id", orgID.String(), "error", err)
			failed = true
			continue
		}
		log.Info("organization reindexed", "organization_id", orgID.String(), "properties", n)
	}
	log.Info("reindex complete", "organizations", len(orgIDs), "properties", total)
	if failed {
		os.Exit(1)
	}
}
