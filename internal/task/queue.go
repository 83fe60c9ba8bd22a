package task

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/phrazzld/taskpump/internal/events"
	"github.com/phrazzld/taskpump/internal/store"
)

// Config holds the admission-control and housekeeping thresholds.
type Config struct {
	// MinRemainingSeconds is the time budget below which no task is claimed.
	MinRemainingSeconds float64

	// MinFreeMemoryFraction is the free memory share below which no task is claimed.
	MinFreeMemoryFraction float64

	// DefaultMaxConcurrentTasks is used until the setting is stored.
	DefaultMaxConcurrentTasks int

	// MaxRunningTasksToTrack caps the running set after each execution.
	MaxRunningTasksToTrack int

	// MemoryLeakFraction is the share of the memory ceiling a single task may
	// consume before a leak is reported.
	MemoryLeakFraction float64

	// IDSpaceMax is the largest identifier the store can issue.
	IDSpaceMax int64

	// IDGuardFraction of IDSpaceMax triggers the identifier reset.
	IDGuardFraction float64

	// IDGuardMinRemainingSeconds is the time budget required to reset identifiers.
	IDGuardMinRemainingSeconds float64

	// DefaultAutoExecution is used until the setting is stored.
	DefaultAutoExecution bool
}

// DefaultConfig returns a Config with the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinRemainingSeconds:        65,
		MinFreeMemoryFraction:      0.25,
		DefaultMaxConcurrentTasks:  3,
		MaxRunningTasksToTrack:     250,
		MemoryLeakFraction:         0.1,
		IDSpaceMax:                 math.MaxInt32,
		IDGuardFraction:            0.9,
		IDGuardMinRemainingSeconds: 30,
		DefaultAutoExecution:       true,
	}
}

// Queue is the public face of the task store: enqueueing, queries, orphan
// recovery and settings.
type Queue struct {
	store    Store
	registry *Registry
	budget   Budget
	emitter  events.EventEmitter
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueue creates a Queue. budget supplies the execution bound used to tell
// orphans apart from tasks that are still running.
func NewQueue(s Store, registry *Registry, budget Budget, config Config, logger *slog.Logger) *Queue {
	if config.DefaultMaxConcurrentTasks <= 0 {
		config.DefaultMaxConcurrentTasks = 1
	}
	if config.MaxRunningTasksToTrack <= 0 {
		config.MaxRunningTasksToTrack = DefaultConfig().MaxRunningTasksToTrack
	}
	if config.IDSpaceMax <= 0 {
		config.IDSpaceMax = math.MaxInt32
	}
	return &Queue{
		store:    s,
		registry: registry,
		budget:   budget,
		config:   config,
		logger:   logger.With("component", "task_queue"),
		now:      time.Now,
	}
}

// SetEventEmitter routes lifecycle events to emitter.
func (q *Queue) SetEventEmitter(emitter events.EventEmitter) {
	q.emitter = emitter
}

// SetClock replaces the time source.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Registry returns the dispatch table used to resolve callbacks.
func (q *Queue) Registry() *Registry {
	return q.registry
}

// Config returns the queue thresholds.
func (q *Queue) Config() Config {
	return q.config
}

// Ready fails with ErrStoreNotReady when the store is not initialized.
func (q *Queue) Ready(ctx context.Context) error {
	return q.store.Ready(ctx)
}

// Enqueue appends a task without checking for duplicates. Out-of-range
// priorities are clamped.
func (q *Queue) Enqueue(ctx context.Context, cb Callback, params Params, priority Priority, description string) (*Task, error) {
	return q.insert(ctx, KindDirect, cb, params, priority, description)
}

// EnqueuePeriodic appends a task that runs cb through the periodic dispatcher.
func (q *Queue) EnqueuePeriodic(ctx context.Context, cb Callback, params Params, priority Priority, description string) (*Task, error) {
	return q.insert(ctx, KindPeriodic, cb, params, priority, description)
}

func (q *Queue) insert(ctx context.Context, kind Kind, cb Callback, params Params, priority Priority, description string) (*Task, error) {
	if err := cb.Validate(); err != nil {
		return nil, err
	}
	t := &Task{
		Kind:        kind,
		Callback:    cb,
		Params:      nonNilParams(params),
		Priority:    priority.Clamp(),
		Description: description,
	}

	saved, err := q.store.Insert(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.DebugContext(ctx, "task enqueued",
		"task_id", saved.ID,
		"priority", saved.Priority,
		"synopsis", q.registry.Synopsis(saved))
	q.emit(ctx, events.TypeEnqueued, saved)
	return saved, nil
}

// EnqueueUnique enqueues a task unless one with the same callback (and the
// same params, when params is non-nil) is queued or running. A queued
// duplicate with a lower urgency is escalated to priority; a running duplicate
// is left untouched. It reports whether a new task was inserted.
func (q *Queue) EnqueueUnique(ctx context.Context, cb Callback, params Params, priority Priority, description string) (bool, error) {
	if err := cb.Validate(); err != nil {
		return false, err
	}
	t := &Task{
		Kind:        KindDirect,
		Callback:    cb,
		Params:      nonNilParams(params),
		Priority:    priority.Clamp(),
		Description: description,
	}

	saved, err := q.store.InsertUnique(ctx, t, params != nil)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue unique task: %w", err)
	}
	if saved == nil {
		q.logger.DebugContext(ctx, "unique task already present",
			"priority", t.Priority,
			"synopsis", q.registry.Synopsis(t))
		return false, nil
	}

	q.logger.DebugContext(ctx, "unique task enqueued",
		"task_id", saved.ID,
		"priority", saved.Priority,
		"synopsis", q.registry.Synopsis(saved))
	q.emit(ctx, events.TypeEnqueued, saved)
	return true, nil
}

// TaskExists reports whether a task with callback cb (and params, when
// non-nil) is queued or running.
func (q *Queue) TaskExists(ctx context.Context, cb Callback, params Params) (bool, error) {
	if err := cb.Validate(); err != nil {
		return false, err
	}
	exists, err := q.store.Exists(ctx, cb, params)
	if err != nil {
		return false, fmt.Errorf("failed to check task existence: %w", err)
	}
	return exists, nil
}

// CountQueued counts queued tasks matching filter.
func (q *Queue) CountQueued(ctx context.Context, filter Query) (int, error) {
	return q.store.Count(ctx, SetQueued, filter, time.Time{})
}

// ListQueued lists queued tasks matching filter ordered by (priority, id).
func (q *Queue) ListQueued(ctx context.Context, filter Query) ([]*Task, error) {
	return q.store.List(ctx, SetQueued, filter, time.Time{})
}

// CountRunning counts running tasks matching filter.
func (q *Queue) CountRunning(ctx context.Context, filter Query) (int, error) {
	return q.store.Count(ctx, SetRunning, filter, time.Time{})
}

// ListRunning lists running tasks matching filter ordered by start time.
func (q *Queue) ListRunning(ctx context.Context, filter Query) ([]*Task, error) {
	return q.store.List(ctx, SetRunning, filter, time.Time{})
}

// CountOrphaned counts running tasks whose owner is presumed dead.
func (q *Queue) CountOrphaned(ctx context.Context, filter Query) (int, error) {
	return q.store.Count(ctx, SetRunning, filter, q.orphanThreshold())
}

// ListOrphaned lists running tasks whose owner is presumed dead, oldest first.
func (q *Queue) ListOrphaned(ctx context.Context, filter Query) ([]*Task, error) {
	return q.store.List(ctx, SetRunning, filter, q.orphanThreshold())
}

// IsOrphan reports whether t is a running task older than the execution bound.
func (q *Queue) IsOrphan(t *Task) bool {
	return t.StartedAt != nil && t.StartedAt.Before(q.orphanThreshold())
}

func (q *Queue) orphanThreshold() time.Time {
	maxExec := time.Duration(q.budget.MaxSingleExecutionSeconds() * float64(time.Second))
	return q.now().Add(-maxExec)
}

// GetByID returns the task with id from either set.
func (q *Queue) GetByID(ctx context.Context, id int64) (*Task, error) {
	t, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes id from both sets and returns the number of rows removed.
func (q *Queue) Delete(ctx context.Context, id int64) (int64, error) {
	n, err := q.store.Delete(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	if n > 0 {
		q.logger.InfoContext(ctx, "task deleted", "task_id", id, "rows", n)
		q.emit(ctx, events.TypeDeleted, &Task{ID: id})
	}
	return n, nil
}

// RequeueOrphan moves an orphaned task back to the queued set, optionally
// overriding its priority.
func (q *Queue) RequeueOrphan(ctx context.Context, id int64, priority *Priority) error {
	t, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.StartedAt == nil {
		return fmt.Errorf("%w: task %d", ErrNotRunning, id)
	}
	if !q.IsOrphan(t) {
		return fmt.Errorf("%w: task %d", ErrNotOrphaned, id)
	}

	var p *Priority
	if priority != nil {
		clamped := priority.Clamp()
		p = &clamped
	}
	moved, err := q.store.Requeue(ctx, id, p)
	if err != nil {
		return fmt.Errorf("failed to requeue orphaned task %d: %w", id, err)
	}
	if !moved {
		return fmt.Errorf("%w: task %d", ErrNotRunning, id)
	}

	q.logger.InfoContext(ctx, "orphaned task requeued",
		"task_id", id,
		"synopsis", q.registry.Synopsis(t))
	q.emit(ctx, events.TypeOrphanRequeued, t)
	return nil
}

// MaxConcurrentTasks returns the cross-process cap on the running set.
func (q *Queue) MaxConcurrentTasks(ctx context.Context) (int, error) {
	v, ok, err := q.store.Setting(ctx, SettingMaxConcurrentTasks)
	if err != nil {
		return 0, err
	}
	if !ok {
		return q.config.DefaultMaxConcurrentTasks, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		q.logger.WarnContext(ctx, "ignoring malformed max_concurrent_tasks setting", "value", v)
		return q.config.DefaultMaxConcurrentTasks, nil
	}
	return n, nil
}

// SetMaxConcurrentTasks stores the cross-process cap on the running set.
func (q *Queue) SetMaxConcurrentTasks(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: max concurrent tasks must be at least 1, got %d", store.ErrInvalidEntity, n)
	}
	return q.store.SetSetting(ctx, SettingMaxConcurrentTasks, strconv.Itoa(n))
}

// AutoExecutionEnabled reports whether hosts should pump after activations.
// The flag is advisory; Pump itself ignores it.
func (q *Queue) AutoExecutionEnabled(ctx context.Context) (bool, error) {
	v, ok, err := q.store.Setting(ctx, SettingAutoExecution)
	if err != nil {
		return false, err
	}
	if !ok {
		return q.config.DefaultAutoExecution, nil
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return q.config.DefaultAutoExecution, nil
	}
	return enabled, nil
}

// SetAutoExecution stores the automatic execution flag.
func (q *Queue) SetAutoExecution(ctx context.Context, enabled bool) error {
	return q.store.SetSetting(ctx, SettingAutoExecution, strconv.FormatBool(enabled))
}

// LastRunAt returns when a task was last claimed.
func (q *Queue) LastRunAt(ctx context.Context) (time.Time, bool, error) {
	v, ok, err := q.store.Setting(ctx, SettingLastRunAt)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed %s setting %q: %w", SettingLastRunAt, v, err)
	}
	return at, true, nil
}

func (q *Queue) emit(ctx context.Context, eventType events.Type, t *Task) {
	if q.emitter == nil {
		return
	}
	synopsis := ""
	if t.Callback != (Callback{}) {
		synopsis = q.registry.Synopsis(t)
	}
	// Handler failures are logged by the emitter and never fail the queue.
	_ = q.emitter.EmitEvent(ctx, events.NewTaskEvent(eventType, t.ID, synopsis))
}
