package store

import (
	"context"
	"database/sql"
)

// DBTX is implemented by both *sql.DB and *sql.Tx, so store queries run the
// same way inside and outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RowScanner is implemented by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}
