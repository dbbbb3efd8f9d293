package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"estate_portal_backend/platform/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// ErrDirtyMigration is returned when a previous migration failed half way and
// the schema needs a manual `migrate force`.
var ErrDirtyMigration = errors.New("database schema is dirty")

// RunMigrations applies the pending up migrations in dir and returns the
// resulting schema version. An empty dir skips migrations.
func RunMigrations(_ context.Context, cfg config.DatabaseConfig, dir string) (uint, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, nil
	}

	m, err := migrate.New("file://"+dir, cfg.GetDatabaseURL())
	if err != nil {
		return 0, fmt.Errorf("open migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if _, dirty, err := m.Version(); err == nil && dirty {
		return 0, ErrDirtyMigration
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
