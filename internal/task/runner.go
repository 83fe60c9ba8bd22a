package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskpump/internal/events"
	"github.com/phrazzld/taskpump/internal/platform/tracing"
)

// StopReason explains why a pump activation stopped claiming tasks.
type StopReason string

// Stop reasons
const (
	StopTimeBudget     StopReason = "time_budget"
	StopMemoryBudget   StopReason = "memory_budget"
	StopQueueEmpty     StopReason = "queue_empty"
	StopConcurrencyCap StopReason = "concurrency_cap"
	StopCanceled       StopReason = "canceled"
	StopPanic          StopReason = "panic"
	StopError          StopReason = "error"
)

// PumpResult summarises one pump activation.
type PumpResult struct {
	PumpID       string     `json:"pump_id"`
	Claimed      int        `json:"claimed"`
	StopReason   StopReason `json:"stop_reason"`
	IDSpaceReset bool       `json:"id_space_reset"`
}

// Runner drains the queue cooperatively: one task at a time, in the calling
// goroutine, for as long as the activation's budget allows.
type Runner struct {
	queue    *Queue
	executor *Executor
	logger   *slog.Logger
}

// NewRunner creates a Runner for q.
func NewRunner(q *Queue, logger *slog.Logger) *Runner {
	return &Runner{
		queue:    q,
		executor: NewExecutor(q, logger),
		logger:   logger.With("component", "task_runner"),
	}
}

// Pump claims and executes tasks until a precondition fails, then runs the
// identifier-space guard. Before every claim the remaining time must exceed
// MinRemainingSeconds, the free memory fraction must exceed
// MinFreeMemoryFraction, the queue must be non-empty and the running set must
// be below the concurrency cap. Failing a precondition is not an error.
func (r *Runner) Pump(ctx context.Context, budget Budget) (result PumpResult, err error) {
	q := r.queue
	result.PumpID = uuid.New().String()
	log := r.logger.With("pump_id", result.PumpID)

	ctx, span := tracing.StartSpan(ctx, "task.pump")
	defer func() {
		span.SetInt("pump.claimed", int64(result.Claimed))
		span.SetString("pump.stop_reason", string(result.StopReason))
		span.End(err)
	}()

	for {
		reason, admitted := r.admit(ctx, budget)
		if !admitted {
			result.StopReason = reason
			break
		}

		maxRunning, err := q.MaxConcurrentTasks(ctx)
		if err != nil {
			result.StopReason = StopError
			return result, fmt.Errorf("failed to read concurrency cap: %w", err)
		}

		t, err := q.store.Claim(ctx, maxRunning, q.now())
		if err != nil {
			result.StopReason = StopError
			return result, fmt.Errorf("failed to claim task: %w", err)
		}
		if t == nil {
			result.StopReason, err = r.emptyClaimReason(ctx)
			if err != nil {
				return result, err
			}
			break
		}

		result.Claimed++
		log.InfoContext(ctx, "task claimed",
			"task_id", t.ID,
			"priority", t.Priority,
			"synopsis", q.registry.Synopsis(t))
		q.emit(ctx, events.TypeClaimed, t)

		if err := r.executor.Execute(ctx, t, budget); err != nil {
			if errors.Is(err, ErrTaskPanicked) {
				result.StopReason = StopPanic
			} else {
				result.StopReason = StopError
			}
			log.ErrorContext(ctx, "pump stopped by failed execution", "error", err)
			return result, err
		}
	}

	reset, err := r.GuardIDSpace(ctx, budget)
	if err != nil {
		log.ErrorContext(ctx, "identifier space guard failed", "error", err)
		return result, err
	}
	result.IDSpaceReset = reset

	log.DebugContext(ctx, "pump finished",
		"claimed", result.Claimed,
		"stop_reason", result.StopReason)
	return result, nil
}

func (r *Runner) admit(ctx context.Context, budget Budget) (StopReason, bool) {
	cfg := r.queue.config
	if ctx.Err() != nil {
		return StopCanceled, false
	}
	if budget.RemainingSeconds() <= cfg.MinRemainingSeconds {
		return StopTimeBudget, false
	}
	if budget.FreeMemoryFraction() <= cfg.MinFreeMemoryFraction {
		return StopMemoryBudget, false
	}
	return "", true
}

func (r *Runner) emptyClaimReason(ctx context.Context) (StopReason, error) {
	n, err := r.queue.store.Count(ctx, SetQueued, Query{}, time.Time{})
	if err != nil {
		return StopError, fmt.Errorf("failed to count queued tasks: %w", err)
	}
	if n == 0 {
		return StopQueueEmpty, nil
	}
	return StopConcurrencyCap, nil
}

// GuardIDSpace restarts the identifier sequence when the queue is empty, the
// next identifier is within IDGuardFraction of IDSpaceMax and the activation
// still has more than IDGuardMinRemainingSeconds left. Running tasks keep
// their identifiers.
func (r *Runner) GuardIDSpace(ctx context.Context, budget Budget) (bool, error) {
	q := r.queue
	cfg := q.config

	if budget.RemainingSeconds() <= cfg.IDGuardMinRemainingSeconds {
		return false, nil
	}
	queued, err := q.store.Count(ctx, SetQueued, Query{}, time.Time{})
	if err != nil {
		return false, fmt.Errorf("failed to count queued tasks: %w", err)
	}
	if queued > 0 {
		return false, nil
	}
	next, err := q.store.NextID(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read next task id: %w", err)
	}
	if float64(next) < cfg.IDGuardFraction*float64(cfg.IDSpaceMax) {
		return false, nil
	}

	reset, err := q.store.ResetQueued(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reset task id space: %w", err)
	}
	if reset {
		r.logger.WarnContext(ctx, "task identifier space reset",
			"next_id", next,
			"id_space_max", cfg.IDSpaceMax)
		q.emit(ctx, events.TypeIDSpaceReset, &Task{})
	}
	return reset, nil
}
