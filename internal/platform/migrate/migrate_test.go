package migrate_test

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/phrazzld/taskpump/internal/platform/logger"
	"github.com/phrazzld/taskpump/internal/platform/migrate"
	"github.com/phrazzld/taskpump/internal/platform/mysql"
	"github.com/phrazzld/taskpump/internal/platform/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_UnknownCommand(t *testing.T) {
	_, log := logger.NewTestLogger(t)
	err := migrate.Run(context.Background(), nil, postgres.Dialect, fstest.MapFS{}, "sideways", log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown migration command")
}

func TestRun_UnknownDialect(t *testing.T) {
	_, log := logger.NewTestLogger(t)
	err := migrate.Run(context.Background(), nil, "oracle", fstest.MapFS{}, migrate.CommandUp, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set dialect")
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	for name, fsys := range map[string]fs.FS{
		postgres.Dialect: postgres.Migrations(),
		mysql.Dialect:    mysql.Migrations(),
	} {
		files, err := fs.Glob(fsys, "*.sql")
		require.NoError(t, err)
		require.Len(t, files, 2, name)

		for _, f := range files {
			data, err := fs.ReadFile(fsys, f)
			require.NoError(t, err)
			assert.Contains(t, string(data), "-- +goose Up", f)
			assert.Contains(t, string(data), "-- +goose Down", f)
		}
	}
}
