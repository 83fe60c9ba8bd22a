package task

import (
	"errors"
	"fmt"

	"github.com/phrazzld/taskpump/internal/store"
)

// Errors returned by the task package.
var (
	// ErrTaskNotFound is returned when an ID is in neither set.
	ErrTaskNotFound = fmt.Errorf("%w: task", store.ErrNotFound)

	// ErrNotRunning is returned when an operation needs a running task.
	ErrNotRunning = errors.New("task is not running")

	// ErrNotOrphaned is returned when RequeueOrphan targets a task that is
	// still within its execution window.
	ErrNotOrphaned = errors.New("task is not orphaned")

	// ErrInvalidCallback is returned for callbacks that are malformed or
	// cannot be resolved through the registry.
	ErrInvalidCallback = errors.New("invalid callback")

	// ErrNoExecution is returned by RequestSelfRequeue outside a task body.
	ErrNoExecution = errors.New("no task is executing in this context")

	// ErrStoreNotReady is returned when the task tables have not been created.
	ErrStoreNotReady = errors.New("task store is not initialized")

	// ErrTaskPanicked is returned by Pump when a task body panicked.
	ErrTaskPanicked = errors.New("task panicked")
)
