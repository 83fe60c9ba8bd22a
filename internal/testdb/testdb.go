package testdb

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/phrazzld/taskpump/internal/platform/logger"
	"github.com/phrazzld/taskpump/internal/platform/migrate"
	"github.com/phrazzld/taskpump/internal/platform/mysql"
	"github.com/phrazzld/taskpump/internal/platform/postgres"
	"github.com/phrazzld/taskpump/internal/redact"
	"github.com/stretchr/testify/require"
)

// TestTimeout bounds connection and migration work.
const TestTimeout = 30 * time.Second

// Environment variables naming the integration databases, in lookup order.
var (
	PostgresEnvVars = []string{"TASKPUMP_TEST_DB_URL", "DATABASE_URL"}
	MySQLEnvVars    = []string{"TASKPUMP_TEST_MYSQL_URL", "MYSQL_DATABASE_URL"}
)

// LookupURL returns the first non-empty value among vars.
func LookupURL(vars []string) string {
	for _, name := range vars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Postgres returns a migrated PostgreSQL connection with empty task tables,
// skipping the test when no database is configured.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	url := LookupURL(PostgresEnvVars)
	if url == "" {
		t.Skip("TASKPUMP_TEST_DB_URL or DATABASE_URL not set - skipping integration test")
	}
	return setup(t, url, postgres.Open, postgres.Dialect, postgres.Migrations(), []string{
		"TRUNCATE queued_tasks, running_tasks RESTART IDENTITY",
		"DELETE FROM task_meta",
	})
}

// MySQL returns a migrated MySQL connection with empty task tables, skipping
// the test when no database is configured.
func MySQL(t *testing.T) *sql.DB {
	t.Helper()
	url := LookupURL(MySQLEnvVars)
	if url == "" {
		t.Skip("TASKPUMP_TEST_MYSQL_URL or MYSQL_DATABASE_URL not set - skipping integration test")
	}
	return setup(t, url, mysql.Open, mysql.Dialect, mysql.Migrations(), []string{
		"TRUNCATE TABLE queued_tasks",
		"TRUNCATE TABLE running_tasks",
		"DELETE FROM task_meta WHERE name <> 'queue_lock'",
	})
}

type opener func(ctx context.Context, url string) (*sql.DB, error)

func setup(t *testing.T, url string, open opener, dialect string, migrations fs.FS, reset []string) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	db, err := open(ctx, url)
	require.NoError(t, err, "database connection failed: %s", redact.String(url))
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close database connection: %v", err)
		}
	})

	_, log := logger.NewTestLogger(t)
	require.NoError(t, migrate.Run(ctx, db, dialect, migrations, migrate.CommandUp, log),
		"failed to apply migrations")

	for _, stmt := range reset {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, "failed to reset task tables")
	}
	return db
}
