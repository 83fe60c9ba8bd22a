// Package migrate applies the embedded schema migrations of a task store
// using goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
)

// TableName is the goose version table.
const TableName = "schema_migrations"

// Commands accepted by Run.
const (
	CommandUp      = "up"
	CommandDown    = "down"
	CommandReset   = "reset"
	CommandStatus  = "status"
	CommandVersion = "version"
)

// goose keeps its configuration in package globals.
var mu sync.Mutex

// Run executes a goose command against db using the migrations in fsys.
func Run(ctx context.Context, db *sql.DB, dialect string, fsys fs.FS, command string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(
		"correlation_id", uuid.New().String(),
		"component", "migrations",
		"command", command,
		"dialect", dialect,
	)

	mu.Lock()
	defer mu.Unlock()

	goose.SetLogger(&slogGooseLogger{logger: log})
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetTableName(TableName)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	start := time.Now()
	log.Info("starting migration command")

	var err error
	switch command {
	case CommandUp:
		err = goose.UpContext(ctx, db, ".")
	case CommandDown:
		err = goose.DownContext(ctx, db, ".")
	case CommandReset:
		err = goose.ResetContext(ctx, db, ".")
	case CommandStatus:
		err = goose.StatusContext(ctx, db, ".")
	case CommandVersion:
		err = goose.VersionContext(ctx, db, ".")
	default:
		return fmt.Errorf("unknown migration command: %s (expected up, down, reset, status, or version)", command)
	}
	if err != nil {
		log.Error("migration command failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return fmt.Errorf("migration command '%s' failed: %w", command, err)
	}

	log.Info("migration command executed successfully",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Version returns the highest applied migration version, or 0 on a clean
// database.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	var version int64
	err := db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT version_id FROM %s WHERE is_applied ORDER BY id DESC LIMIT 1", TableName),
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, nil
}

// slogGooseLogger adapts the goose logger interface to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf logs at error level without exiting; failures surface as the
// returned error.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
