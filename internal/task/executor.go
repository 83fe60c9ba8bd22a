package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/phrazzld/taskpump/internal/events"
	"github.com/phrazzld/taskpump/internal/platform/tracing"
)

// Executor runs one claimed task and resolves what happens to it afterwards.
type Executor struct {
	queue  *Queue
	logger *slog.Logger
}

// NewExecutor creates an Executor over the queue's store and registry.
func NewExecutor(q *Queue, logger *slog.Logger) *Executor {
	return &Executor{
		queue:  q,
		logger: logger.With("component", "task_executor"),
	}
}

// Execute runs t, which must already be in the running set.
//
// A callback that cannot be resolved leaves the task in the running set. An
// error returned by the task body is logged and the task is disposed of as
// usual; there are no automatic retries. A panic leaves the task in the running
// set, where it is eventually reported as an orphan, and Execute returns
// ErrTaskPanicked.
func (e *Executor) Execute(ctx context.Context, t *Task, budget Budget) (err error) {
	q := e.queue
	synopsis := q.registry.Synopsis(t)
	log := e.logger.With("task_id", t.ID, "synopsis", synopsis)

	ctx, span := tracing.StartSpan(ctx, "task.execute")
	span.SetInt("task.id", t.ID)
	span.SetString("task.callback", t.Callback.String())
	defer func() { span.End(err) }()

	handler, resolveErr := q.registry.Resolve(t)
	if resolveErr != nil {
		log.ErrorContext(ctx, "task callback is not invocable, leaving it in the running set",
			"error", resolveErr)
		q.emit(ctx, events.TypeStuck, t)
		return e.prune(ctx, log)
	}

	memBefore := budget.FreeMemoryBytes()

	ec := newExecContext(t)
	if panicked, runErr := invoke(withExecContext(ctx, ec), handler, t.Params); panicked {
		log.ErrorContext(ctx, "task panicked, leaving it in the running set",
			"panic", runErr.Error())
		return fmt.Errorf("%w: task %d: %v", ErrTaskPanicked, t.ID, runErr)
	} else if runErr != nil {
		log.ErrorContext(ctx, "task returned an error", "error", runErr)
	}

	memAfter := budget.FreeMemoryBytes()
	if memBefore > memAfter {
		growth := memBefore - memAfter
		limit := q.config.MemoryLeakFraction * float64(budget.MemoryCeilingBytes())
		if float64(growth) > limit {
			log.DebugContext(ctx, "task may be leaking memory",
				"memory_growth_bytes", growth,
				"threshold_bytes", uint64(limit))
		}
	}

	if err := e.dispose(ctx, t, ec.RequeueRequested(), log); err != nil {
		return err
	}
	return e.prune(ctx, log)
}

func (e *Executor) dispose(ctx context.Context, t *Task, requeue bool, log *slog.Logger) error {
	q := e.queue

	exists, err := q.store.RunningExists(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("failed to check running task %d: %w", t.ID, err)
	}

	if requeue {
		if !exists {
			log.WarnContext(ctx, "task requested requeue but was deleted while running")
			return nil
		}
		moved, err := q.store.Requeue(ctx, t.ID, nil)
		if err != nil {
			return fmt.Errorf("failed to requeue task %d: %w", t.ID, err)
		}
		if !moved {
			log.WarnContext(ctx, "task requested requeue but was deleted while running")
			return nil
		}
		log.DebugContext(ctx, "task requeued itself")
		q.emit(ctx, events.TypeRequeued, t)
		return nil
	}

	if exists {
		if _, err := q.store.DeleteRunning(ctx, t.ID); err != nil {
			return fmt.Errorf("failed to delete finished task %d: %w", t.ID, err)
		}
	}
	log.DebugContext(ctx, "task completed")
	q.emit(ctx, events.TypeCompleted, t)
	return nil
}

func (e *Executor) prune(ctx context.Context, log *slog.Logger) error {
	pruned, err := e.queue.store.PruneRunning(ctx, e.queue.config.MaxRunningTasksToTrack)
	if err != nil {
		return fmt.Errorf("failed to prune running tasks: %w", err)
	}
	if pruned > 0 {
		log.DebugContext(ctx, "pruned running task history", "pruned", pruned)
	}
	return nil
}

// invoke calls h, converting a panic into an error carrying the stack.
func invoke(ctx context.Context, h Handler, params Params) (panicked bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v\n%s", p, debug.Stack())
			panicked = true
		}
	}()
	if params == nil {
		params = Params{}
	}
	return false, h(ctx, params)
}
