// Package bootstrap holds the infrastructure setup shared by the binaries under cmd.
package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"estate_portal_backend/internal/adapters/storage"
	"estate_portal_backend/platform/ai/embeddings"
	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/db"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/qdrant"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Permanent wraps an error that WithRetry must return without further attempts.
func Permanent(err error) error {
	return permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// WithRetry runs fn up to attempts times with quadratic backoff.
func WithRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn()
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return fmt.Errorf("%s: %w", name, perm.err)
		}
		lastErr = err
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s: %w", name, lastErr)
}

// Connect opens the Postgres pool, retrying while the database comes up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := WithRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("database connection established")
	return pool, nil
}

// Migrate applies pending migrations from dir.
func Migrate(ctx context.Context, cfg config.DatabaseConfig, dir string, log *logger.Logger) error {
	var version uint
	err := WithRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		v, err := db.RunMigrations(ctx, cfg, dir)
		if errors.Is(err, db.ErrDirtyMigration) {
			return Permanent(err)
		}
		version = v
		return err
	})
	if err != nil {
		return err
	}
	log.Info("database migrations complete", "version", version)
	return nil
}

// Redis returns a client for REDIS_URL, or nil when Redis is not configured.
func Redis(ctx context.Context, cfg config.SchedulerConfig, log *logger.Logger) (*redis.Client, error) {
	if cfg.GetRedisURL() == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.GetRedisTLSInsecure() {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis ping failed; continuing", "error", err)
	}
	return client, nil
}

// Objects returns the MinIO store with bucket ensured, or nil when MinIO is not configured.
func Objects(ctx context.Context, cfg storage.Config, bucket string, log *logger.Logger) (storage.StorageService, error) {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; dead letters will not be archived")
		return nil, nil
	}
	svc, err := storage.NewMinIOService(cfg)
	if err != nil {
		return nil, err
	}
	if bucket != "" {
		if err := WithRetry(ctx, log, "ensure "+bucket+" bucket", 5, 2*time.Second, func() error {
			return svc.EnsureBucketExists(ctx, bucket)
		}); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// VectorStack is the embedding provider and the Qdrant client. Either may be nil.
type VectorStack struct {
	Embedder embeddings.Embedder
	Qdrant   *qdrant.Client
}

// Enabled reports whether both halves are configured.
func (v VectorStack) Enabled() bool {
	return v.Embedder != nil && v.Qdrant != nil
}

// Vectors builds the vector stack from config.
func Vectors(ctx context.Context, cfg interface {
	config.QdrantConfig
	config.EmbeddingConfig
}, log *logger.Logger) (VectorStack, error) {
	var stack VectorStack
	if cfg.IsEmbeddingEnabled() {
		embedder, err := embeddings.NewFromConfig(ctx, cfg)
		if err != nil {
			return VectorStack{}, fmt.Errorf("embedding provider: %w", err)
		}
		stack.Embedder = embedder
	}
	if cfg.IsQdrantEnabled() {
		stack.Qdrant = qdrant.NewClient(qdrant.Config{
			BaseURL:    cfg.GetQdrantURL(),
			APIKey:     cfg.GetQdrantAPIKey(),
			Collection: cfg.GetQdrantCollection(),
		})
	}
	if !stack.Enabled() {
		log.Warn("vector search disabled; set QDRANT_URL and an embedding provider to enable it")
	}
	return stack, nil
}
