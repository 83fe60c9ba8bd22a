package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/taskpump/internal/store"
)

// SQLSTATE codes the task store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeNotNullViolation     = "23502"
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUndefinedTable       = "42P01"
)

var sentinelByCode = map[string]error{
	codeUniqueViolation:      store.ErrDuplicate,
	codeCheckViolation:       store.ErrInvalidEntity,
	codeNotNullViolation:     store.ErrInvalidEntity,
	codeLockNotAvailable:     store.ErrLockUnavailable,
	codeSerializationFailure: store.ErrTransactionFailed,
	codeDeadlockDetected:     store.ErrTransactionFailed,
}

// MapError translates a driver error into the store sentinel it represents.
// The original error stays in the message; errors without a mapping are
// returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	sentinel, ok := sentinelByCode[pgErr.Code]
	if !ok {
		return err
	}
	switch pgErr.Code {
	case codeCheckViolation:
		return fmt.Errorf("%w: constraint %s: %v", sentinel, pgErr.ConstraintName, err)
	case codeNotNullViolation:
		return fmt.Errorf("%w: column %s is null: %v", sentinel, pgErr.ColumnName, err)
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

// IsUndefinedTable reports whether err was caused by a missing table, which
// means the migrations have not been applied.
func IsUndefinedTable(err error) bool {
	return hasCode(err, codeUndefinedTable)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
