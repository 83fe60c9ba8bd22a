package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/phrazzld/taskpump/internal/config"
	"github.com/phrazzld/taskpump/internal/platform/mysql"
	"github.com/phrazzld/taskpump/internal/platform/postgres"
	"github.com/phrazzld/taskpump/internal/task"
)

// Database drivers accepted in database.driver.
const (
	driverPostgres = "postgres"
	driverMySQL    = "mysql"
	driverMemory   = "memory"
)

// storeBackend is the task store selected by database.driver. db is nil for
// the in-memory store.
type storeBackend struct {
	store      task.Store
	db         *sql.DB
	dialect    string
	migrations fs.FS
}

// openStoreBackend connects to the configured database and wraps it in the
// matching task store.
func openStoreBackend(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*storeBackend, error) {
	switch cfg.Driver {
	case driverMemory:
		logger.Warn("using the in-memory task store; tasks do not survive a restart")
		return &storeBackend{store: task.NewMemoryStore()}, nil

	case driverPostgres:
		db, err := postgres.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connection established", "driver", cfg.Driver)
		return &storeBackend{
			store:      postgres.NewPostgresTaskStore(db),
			db:         db,
			dialect:    postgres.Dialect,
			migrations: postgres.Migrations(),
		}, nil

	case driverMySQL:
		db, err := mysql.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connection established", "driver", cfg.Driver)
		return &storeBackend{
			store:      mysql.NewMySQLTaskStore(db),
			db:         db,
			dialect:    mysql.Dialect,
			migrations: mysql.Migrations(),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func (b *storeBackend) close(logger *slog.Logger) {
	if b.db == nil {
		return
	}
	if err := b.db.Close(); err != nil {
		logger.Error("Error closing database connection", "error", err)
	}
}
