package mysql

import (
	"database/sql"
	"errors"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/phrazzld/taskpump/internal/store"
)

// MySQL server error numbers
const (
	duplicateEntryNumber  uint16 = 1062
	badNullNumber         uint16 = 1048
	lockWaitTimeoutNumber uint16 = 1205
	deadlockNumber        uint16 = 1213
	noSuchTableNumber     uint16 = 1146
	checkConstraintNumber uint16 = 3819
	dataTooLongNumber     uint16 = 1406
)

// MapError maps a database error to the matching store error, wrapping the
// original to preserve context.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case duplicateEntryNumber:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case checkConstraintNumber, badNullNumber, dataTooLongNumber:
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		case lockWaitTimeoutNumber:
			return fmt.Errorf("%w: %v", store.ErrLockUnavailable, err)
		case deadlockNumber:
			return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
		}
	}

	return err
}

// IsUndefinedTable reports whether err was caused by a missing table.
func IsUndefinedTable(err error) bool {
	var myErr *gomysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == noSuchTableNumber
}
