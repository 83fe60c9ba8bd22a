package task

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedExecutor(t *testing.T) (*Executor, *Queue, *MemoryStore, *Registry, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewMemoryStore()
	r := NewRegistry()
	q := NewQueue(s, r, newFakeBudget(), DefaultConfig(), logger)
	return NewExecutor(q, logger), q, s, r, &buf
}

func claimOne(t *testing.T, q *Queue, s *MemoryStore, cb Callback, params Params) *Task {
	t.Helper()
	ctx := context.Background()
	_, err := q.Enqueue(ctx, cb, params, PriorityMedium, "")
	require.NoError(t, err)
	claimed, err := s.Claim(ctx, 10, q.now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func TestExecutor_UnresolvableCallbackStaysRunning(t *testing.T) {
	t.Parallel()
	e, q, s, _, buf := newBufferedExecutor(t)
	claimed := claimOne(t, q, s, MethodRef("Foo", "bar"), Params{1, `x"y`, true, nil})

	err := e.Execute(context.Background(), claimed, newFakeBudget())
	require.NoError(t, err)

	exists, err := s.RunningExists(context.Background(), claimed.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), "Foo::bar(1, ")
	assert.Contains(t, buf.String(), "TRUE, NULL)")
}

func TestExecutor_ReportsMemoryGrowth(t *testing.T) {
	t.Parallel()
	e, q, s, r, buf := newBufferedExecutor(t)
	r.RegisterFunc("hog", func(ctx context.Context, p Params) error { return nil })
	claimed := claimOne(t, q, s, FunctionRef("hog"), nil)

	budget := newFakeBudget()
	budget.ceiling = 1000
	budget.freeBytes = []uint64{900, 700}

	require.NoError(t, e.Execute(context.Background(), claimed, budget))
	assert.Contains(t, buf.String(), "task may be leaking memory")
	assert.Contains(t, buf.String(), `"synopsis":"hog()"`)
}

func TestExecutor_SmallGrowthIsQuiet(t *testing.T) {
	t.Parallel()
	e, q, s, r, buf := newBufferedExecutor(t)
	r.RegisterFunc("small", func(ctx context.Context, p Params) error { return nil })
	claimed := claimOne(t, q, s, FunctionRef("small"), nil)

	budget := newFakeBudget()
	budget.ceiling = 1000
	budget.freeBytes = []uint64{900, 850}

	require.NoError(t, e.Execute(context.Background(), claimed, budget))
	assert.NotContains(t, buf.String(), "task may be leaking memory")
}

func TestExecutor_ExecContext(t *testing.T) {
	t.Parallel()
	e, q, s, r, _ := newBufferedExecutor(t)

	var seen Task
	r.RegisterFunc("inspect", func(ctx context.Context, p Params) error {
		ec, ok := ExecutionFromContext(ctx)
		if ok {
			seen = ec.Task()
		}
		return nil
	})
	claimed := claimOne(t, q, s, FunctionRef("inspect"), Params{"a"})

	require.NoError(t, e.Execute(context.Background(), claimed, newFakeBudget()))
	assert.Equal(t, claimed.ID, seen.ID)
	assert.Equal(t, Params{"a"}, seen.Params)

	assert.ErrorIs(t, RequestSelfRequeue(context.Background()), ErrNoExecution)
}
