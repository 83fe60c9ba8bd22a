package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/phrazzld/taskpump/internal/platform/logger"
	"github.com/phrazzld/taskpump/internal/redact"
)

// TxFn runs inside a transaction opened by RunInTransaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction executes fn within a transaction started with opts (which
// may be nil) and commits when fn returns nil.
//
// Begin and commit failures wrap ErrTransactionFailed. An error returned by fn
// is passed through unchanged after the rollback, so sentinel checks such as
// errors.Is(err, ErrLockUnavailable) keep working. A panic in fn rolls back
// and is re-raised.
func RunInTransaction(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFn) error {
	log := logger.FromContext(ctx).With("component", "store_tx")

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		log.ErrorContext(ctx, "failed to begin transaction", redact.Attr(err))
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrTransactionFailed, err)
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			log.ErrorContext(ctx, "failed to roll back transaction after panic",
				redact.Attr(rbErr), "panic", p)
		} else {
			log.ErrorContext(ctx, "rolled back transaction after panic", "panic", p)
		}
		panic(p)
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.ErrorContext(ctx, "failed to roll back transaction",
				"rollback_error", redact.Error(rbErr),
				"original_error", redact.Error(err))
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		log.DebugContext(ctx, "rolled back transaction", redact.Attr(err))
		return err
	}

	if err := tx.Commit(); err != nil {
		log.ErrorContext(ctx, "failed to commit transaction", redact.Attr(err))
		return fmt.Errorf("%w: failed to commit transaction: %w", ErrTransactionFailed, err)
	}
	return nil
}
