package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/taskpump/internal/events"
	"github.com/phrazzld/taskpump/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*events.TaskEvent
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHandler) types() []events.Type {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Type, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

func withRecorder(h *testHarness) *recordingHandler {
	rec := &recordingHandler{}
	emitter := events.NewInMemoryEventEmitter(testLogger())
	emitter.RegisterHandler(rec)
	h.queue.SetEventEmitter(emitter)
	return rec
}

func TestQueue_EnqueueClampsPriority(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newTestHarness()

	a, err := h.queue.Enqueue(ctx, FunctionRef("a"), nil, 0, "")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, a.Priority)
	assert.NotNil(t, a.Params)

	b, err := h.queue.Enqueue(ctx, FunctionRef("b"), Params{1}, 99, "nightly")
	require.NoError(t, err)
	assert.Equal(t, PriorityBackground, b.Priority)
	assert.Equal(t, "nightly", b.Description)

	_, err = h.queue.Enqueue(ctx, Callback{Target: "T"}, nil, PriorityHigh, "")
	assert.True(t, errors.Is(err, ErrInvalidCallback))
}

func TestQueue_EnqueueEmitsEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newTestHarness()
	rec := withRecorder(h)

	saved, err := h.queue.Enqueue(ctx, MethodRef("Foo", "bar"), Params{1}, PriorityMedium, "")
	require.NoError(t, err)

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.TypeEnqueued, rec.events[0].Type)
	assert.Equal(t, saved.ID, rec.events[0].TaskID)
	assert.Equal(t, "Foo::bar(1)", rec.events[0].Synopsis)
}

func TestQueue_EnqueueUnique(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("duplicate is not inserted", func(t *testing.T) {
		h := newTestHarness()
		rec := withRecorder(h)

		inserted, err := h.queue.EnqueueUnique(ctx, FunctionRef("sync"), Params{"a"}, PriorityLow, "")
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = h.queue.EnqueueUnique(ctx, FunctionRef("sync"), Params{"a"}, PriorityLow, "")
		require.NoError(t, err)
		assert.False(t, inserted)

		n, err := h.queue.CountQueued(ctx, Query{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []events.Type{events.TypeEnqueued}, rec.types())

		queued, err := h.queue.ListQueued(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, queued, 1)
		assert.NotZero(t, rec.events[0].TaskID)
		assert.Equal(t, queued[0].ID, rec.events[0].TaskID, "event names the stored task")
		assert.Equal(t, `sync("a")`, rec.events[0].Synopsis)
	})

	t.Run("queued duplicate is escalated", func(t *testing.T) {
		h := newTestHarness()

		_, err := h.queue.EnqueueUnique(ctx, FunctionRef("sync"), Params{"a"}, PriorityBackground, "")
		require.NoError(t, err)
		inserted, err := h.queue.EnqueueUnique(ctx, FunctionRef("sync"), Params{"a"}, PriorityHigh, "")
		require.NoError(t, err)
		assert.False(t, inserted)

		rows, err := h.queue.ListQueued(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, PriorityHigh, rows[0].Priority)
	})

	t.Run("lower urgency never demotes", func(t *testing.T) {
		h := newTestHarness()

		_, err := h.queue.EnqueueUnique(ctx, FunctionRef("sync"), nil, PriorityHigh, "")
		require.NoError(t, err)
		_, err = h.queue.EnqueueUnique(ctx, FunctionRef("sync"), nil, PriorityBackground, "")
		require.NoError(t, err)

		rows, err := h.queue.ListQueued(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, PriorityHigh, rows[0].Priority)
	})

	t.Run("running duplicate is untouched", func(t *testing.T) {
		h := newTestHarness()

		_, err := h.queue.Enqueue(ctx, FunctionRef("sync"), Params{"a"}, PriorityLow, "")
		require.NoError(t, err)
		claimed, err := h.store.Claim(ctx, 5, h.clock.Now())
		require.NoError(t, err)
		require.NotNil(t, claimed)

		inserted, err := h.queue.EnqueueUnique(ctx, FunctionRef("sync"), Params{"a"}, PriorityHigh, "")
		require.NoError(t, err)
		assert.False(t, inserted)

		running, err := h.queue.ListRunning(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, running, 1)
		assert.Equal(t, PriorityLow, running[0].Priority)

		queued, err := h.queue.CountQueued(ctx, Query{})
		require.NoError(t, err)
		assert.Zero(t, queued)
	})

	t.Run("nil params match any parameters", func(t *testing.T) {
		h := newTestHarness()

		_, err := h.queue.Enqueue(ctx, FunctionRef("sync"), Params{"a"}, PriorityLow, "")
		require.NoError(t, err)
		inserted, err := h.queue.EnqueueUnique(ctx, FunctionRef("sync"), nil, PriorityLow, "")
		require.NoError(t, err)
		assert.False(t, inserted)

		inserted, err = h.queue.EnqueueUnique(ctx, FunctionRef("sync"), Params{}, PriorityLow, "")
		require.NoError(t, err)
		assert.True(t, inserted, "empty params only match empty params")
	})
}

func TestQueue_TaskExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newTestHarness()

	_, err := h.queue.Enqueue(ctx, FunctionRef("f"), Params{1, "x"}, PriorityMedium, "")
	require.NoError(t, err)

	exists, err := h.queue.TaskExists(ctx, FunctionRef("f"), nil)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = h.queue.TaskExists(ctx, FunctionRef("f"), Params{1, "x"})
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = h.queue.TaskExists(ctx, FunctionRef("f"), Params{2})
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = h.queue.TaskExists(ctx, FunctionRef("g"), nil)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestQueue_Orphans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newTestHarness()
	h.budget.maxExec = 60
	rec := withRecorder(h)

	_, err := h.queue.Enqueue(ctx, FunctionRef("stale"), nil, PriorityMedium, "")
	require.NoError(t, err)
	stale, err := h.store.Claim(ctx, 5, h.clock.Now())
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)

	_, err = h.queue.Enqueue(ctx, FunctionRef("fresh"), nil, PriorityMedium, "")
	require.NoError(t, err)
	fresh, err := h.store.Claim(ctx, 5, h.clock.Now())
	require.NoError(t, err)

	n, err := h.queue.CountOrphaned(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	orphans, err := h.queue.ListOrphaned(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, stale.ID, orphans[0].ID)
	assert.True(t, h.queue.IsOrphan(orphans[0]))

	err = h.queue.RequeueOrphan(ctx, fresh.ID, nil)
	assert.True(t, errors.Is(err, ErrNotOrphaned))

	high := PriorityHigh
	require.NoError(t, h.queue.RequeueOrphan(ctx, stale.ID, &high))

	got, err := h.queue.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, PriorityHigh, got.Priority)
	assert.Contains(t, rec.types(), events.TypeOrphanRequeued)

	err = h.queue.RequeueOrphan(ctx, stale.ID, nil)
	assert.True(t, errors.Is(err, ErrNotRunning))

	err = h.queue.RequeueOrphan(ctx, 9999, nil)
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestQueue_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newTestHarness()
	rec := withRecorder(h)

	saved, err := h.queue.Enqueue(ctx, FunctionRef("f"), nil, PriorityMedium, "")
	require.NoError(t, err)

	n, err := h.queue.Delete(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []events.Type{events.TypeEnqueued, events.TypeDeleted}, rec.types())

	_, err = h.queue.GetByID(ctx, saved.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestQueue_Settings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newTestHarness()

	n, err := h.queue.MaxConcurrentTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, h.queue.SetMaxConcurrentTasks(ctx, 7))
	n, err = h.queue.MaxConcurrentTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	err = h.queue.SetMaxConcurrentTasks(ctx, 0)
	assert.True(t, errors.Is(err, store.ErrInvalidEntity))

	require.NoError(t, h.store.SetSetting(ctx, SettingMaxConcurrentTasks, "garbage"))
	n, err = h.queue.MaxConcurrentTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	enabled, err := h.queue.AutoExecutionEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
	require.NoError(t, h.queue.SetAutoExecution(ctx, false))
	enabled, err = h.queue.AutoExecutionEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	_, ok, err := h.queue.LastRunAt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
