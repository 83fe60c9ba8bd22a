// Package testdb connects integration tests to a real task store database.
//
// Tests call Postgres or MySQL to obtain a migrated *sql.DB. When the matching
// environment variable is not set the test is skipped, so the default
// `go test ./...` run needs no external services:
//
//	func TestClaimAgainstPostgres(t *testing.T) {
//	    db := testdb.Postgres(t)
//	    s := postgres.NewPostgresTaskStore(db)
//	    ...
//	}
//
// The task stores run their own transactions, so tests cannot be isolated in
// a rolled-back transaction. Each call to Postgres or MySQL empties the task
// tables instead; tests sharing a database must not run in parallel.
package testdb
