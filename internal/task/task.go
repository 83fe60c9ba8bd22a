package task

import (
	"context"
	"time"
)

// Priority orders the queue: lower values drain first.
type Priority int

// Priority levels
const (
	PriorityHigh       Priority = 1
	PriorityMedium     Priority = 2
	PriorityLow        Priority = 3
	PriorityBackground Priority = 4
)

// Clamp returns p limited to the [PriorityHigh, PriorityBackground] range.
func (p Priority) Clamp() Priority {
	if p < PriorityHigh {
		return PriorityHigh
	}
	if p > PriorityBackground {
		return PriorityBackground
	}
	return p
}

// String returns the lower-case name of the priority level.
func (p Priority) String() string {
	switch p.Clamp() {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "background"
	}
}

// Kind distinguishes tasks that invoke their callback directly from tasks that
// are run through the registry's periodic dispatcher.
type Kind string

// Task kinds
const (
	KindDirect   Kind = "direct"
	KindPeriodic Kind = "periodic"
)

// Set names one of the two persisted task collections.
type Set string

// Task sets
const (
	SetQueued  Set = "queued"
	SetRunning Set = "running"
)

// Task is one unit of deferred work.
//
// For periodic tasks Callback and Params hold the inner callback and arguments
// handed to the periodic dispatcher. List results report Params as nil for such
// tasks; GetByID reports them in full.
type Task struct {
	ID          int64
	Kind        Kind
	Callback    Callback
	Params      Params
	Priority    Priority
	Description string

	// StartedAt is set only while the task is in the running set.
	StartedAt *time.Time
}

// IsPeriodic reports whether the task runs through the periodic dispatcher.
func (t *Task) IsPeriodic() bool {
	return t.Kind == KindPeriodic
}

// Query selects tasks from one set. Zero-valued filters are ignored; a non-nil
// Params (including an empty one) filters on structural equality.
type Query struct {
	Callback    *Callback
	Params      Params
	Priority    *Priority
	Description *string

	// Count limits the number of rows returned; zero means no limit.
	Count  int
	Offset int
}

// Budget reports the resources left to the current host activation.
type Budget interface {
	// RemainingSeconds is the time left before the host terminates the activation.
	RemainingSeconds() float64

	// FreeMemoryFraction is the free share of the memory ceiling, in [0,1].
	FreeMemoryFraction() float64

	// FreeMemoryBytes is the number of bytes left below the memory ceiling.
	FreeMemoryBytes() uint64

	// MemoryCeilingBytes is the memory limit of the host process.
	MemoryCeilingBytes() uint64

	// MaxSingleExecutionSeconds bounds how long one activation may last.
	// Running tasks older than this are orphans.
	MaxSingleExecutionSeconds() float64
}

// Store persists the queued and running sets, plus a handful of scalar settings.
// Implementations must execute Claim, Requeue, InsertUnique and ResetQueued under
// a mutual-exclusion discipline that is safe across processes.
type Store interface {
	// Ready returns ErrStoreNotReady when the backing tables are missing.
	Ready(ctx context.Context) error

	// Insert appends a task to the queued set and returns it with its new ID.
	Insert(ctx context.Context, t *Task) (*Task, error)

	// InsertUnique inserts t unless a task with an equal callback (and equal
	// params when matchParams is set) exists in either set. A queued match with
	// a numerically greater priority is escalated to t.Priority. It returns
	// the inserted task, or nil when a match already existed.
	InsertUnique(ctx context.Context, t *Task, matchParams bool) (*Task, error)

	// Exists reports whether a matching task exists in either set. A nil params
	// matches any parameters.
	Exists(ctx context.Context, cb Callback, params Params) (bool, error)

	// Get looks in the queued set first, then the running set.
	Get(ctx context.Context, id int64) (*Task, error)

	// RunningExists reports whether id is present in the running set.
	RunningExists(ctx context.Context, id int64) (bool, error)

	// Count and List evaluate q against set. When orphanedBefore is non-zero
	// only running rows started before it are considered.
	Count(ctx context.Context, set Set, q Query, orphanedBefore time.Time) (int, error)
	List(ctx context.Context, set Set, q Query, orphanedBefore time.Time) ([]*Task, error)

	// Delete removes id from both sets and returns the number of rows removed.
	Delete(ctx context.Context, id int64) (int64, error)

	// DeleteRunning removes id from the running set only.
	DeleteRunning(ctx context.Context, id int64) (int64, error)

	// Claim moves the front of the queued set to the running set with
	// StartedAt = now and records now as the last run marker. It returns
	// (nil, nil) when the queue is empty or the running set holds maxRunning
	// or more rows.
	Claim(ctx context.Context, maxRunning int, now time.Time) (*Task, error)

	// Requeue moves id from the running set back to the queued set, keeping
	// its priority unless one is supplied. It returns false when id is not running.
	Requeue(ctx context.Context, id int64, priority *Priority) (bool, error)

	// PruneRunning deletes the oldest running rows beyond keep.
	PruneRunning(ctx context.Context, keep int) (int64, error)

	// NextID returns the identifier the next Insert will receive.
	NextID(ctx context.Context) (int64, error)

	// ResetQueued empties the queued storage and restarts the identifier
	// sequence, provided the queued set is still empty. It reports whether the
	// reset happened.
	ResetQueued(ctx context.Context) (bool, error)

	// Setting and SetSetting access the scalar settings.
	Setting(ctx context.Context, name string) (string, bool, error)
	SetSetting(ctx context.Context, name, value string) error
}

// Setting names
const (
	SettingLastRunAt          = "last_run_at"
	SettingMaxConcurrentTasks = "max_concurrent_tasks"
	SettingAutoExecution      = "auto_execution_enabled"
)
