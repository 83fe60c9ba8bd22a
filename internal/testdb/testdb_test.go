package testdb_test

import (
	"testing"

	"github.com/phrazzld/taskpump/internal/testdb"
	"github.com/stretchr/testify/assert"
)

func TestLookupURL(t *testing.T) {
	t.Setenv("TASKPUMP_TEST_DB_URL", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/tasks")
	assert.Equal(t, "postgres://localhost/tasks", testdb.LookupURL(testdb.PostgresEnvVars))

	t.Setenv("TASKPUMP_TEST_DB_URL", "postgres://localhost/preferred")
	assert.Equal(t, "postgres://localhost/preferred", testdb.LookupURL(testdb.PostgresEnvVars))

	assert.Empty(t, testdb.LookupURL([]string{"TASKPUMP_UNSET_FOR_TEST"}))
}
