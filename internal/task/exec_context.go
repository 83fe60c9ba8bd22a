package task

import (
	"context"
	"sync/atomic"
)

// ExecContext describes the task currently being executed. The executor
// creates one per execution, hands it to the task body through the context and
// reads the requeue request back once the body returns.
type ExecContext struct {
	task    Task
	requeue atomic.Bool
}

func newExecContext(t *Task) *ExecContext {
	return &ExecContext{task: *t}
}

// Task returns a copy of the executing task.
func (e *ExecContext) Task() Task {
	return e.task
}

// RequestSelfRequeue asks the executor to move the task back to the queued
// set instead of deleting it once the body returns.
func (e *ExecContext) RequestSelfRequeue() {
	e.requeue.Store(true)
}

// RequeueRequested reports whether the body asked to be requeued.
func (e *ExecContext) RequeueRequested() bool {
	return e.requeue.Load()
}

type execContextKey struct{}

func withExecContext(ctx context.Context, ec *ExecContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// ExecutionFromContext returns the execution context of the running task body.
func ExecutionFromContext(ctx context.Context) (*ExecContext, bool) {
	ec, ok := ctx.Value(execContextKey{}).(*ExecContext)
	return ec, ok && ec != nil
}

// RequestSelfRequeue requeues the task executing in ctx once it returns. It
// fails with ErrNoExecution when ctx does not belong to a task body.
func RequestSelfRequeue(ctx context.Context) error {
	ec, ok := ExecutionFromContext(ctx)
	if !ok {
		return ErrNoExecution
	}
	ec.RequestSelfRequeue()
	return nil
}
