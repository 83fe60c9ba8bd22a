package store

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the task store backends. Backends map their
// driver errors onto these so callers never inspect driver types.
var (
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is a unique key violation.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity wraps rows or arguments the backend rejected as
	// malformed: bad encodings, check constraint violations, out-of-range values.
	ErrInvalidEntity = errors.New("invalid entity")

	ErrTransactionFailed = errors.New("transaction failed")

	// ErrLockUnavailable means the store-wide queue lock was not granted
	// before the backend's lock timeout. The caller may retry.
	ErrLockUnavailable = errors.New("store lock unavailable")
)

// OpError records which backend operation failed. Err is already mapped onto
// the sentinels above.
type OpError struct {
	Backend string
	Op      string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s task store: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError wraps err as the failure of op on backend.
func NewOpError(backend, op string, err error) *OpError {
	return &OpError{Backend: backend, Op: op, Err: err}
}
