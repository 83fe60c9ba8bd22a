package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskpump/internal/config"
	"github.com/phrazzld/taskpump/internal/platform/migrate"
)

// errNoSchema is returned for migration commands against the in-memory store.
var errNoSchema = errors.New("the memory driver has no schema to migrate")

// handleMigrations runs a goose command against the configured database.
func handleMigrations(ctx context.Context, cfg *config.Config, command string, logger *slog.Logger) error {
	if cfg.Database.Driver == driverMemory {
		return errNoSchema
	}

	backend, err := openStoreBackend(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer backend.close(logger)

	return migrateBackend(ctx, backend, command, logger)
}

// migrateBackend applies command to backend; the in-memory store is skipped.
func migrateBackend(ctx context.Context, backend *storeBackend, command string, logger *slog.Logger) error {
	if backend.db == nil {
		return nil
	}
	if err := migrate.Run(ctx, backend.db, backend.dialect, backend.migrations, command, logger); err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}
