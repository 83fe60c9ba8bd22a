// Package storetest holds behaviour tests shared by every task.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/taskpump/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty, ready store. Database-backed factories reset
// their tables on every call, so the subtests run sequentially.
type Factory func(t *testing.T) task.Store

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// Run exercises the task.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ready", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ready(context.Background()))
	})
	t.Run("insert and get", func(t *testing.T) { testInsertAndGet(t, newStore(t)) })
	t.Run("claim order", func(t *testing.T) { testClaimOrder(t, newStore(t)) })
	t.Run("claim cap", func(t *testing.T) { testClaimCap(t, newStore(t)) })
	t.Run("requeue", func(t *testing.T) { testRequeue(t, newStore(t)) })
	t.Run("insert unique", func(t *testing.T) { testInsertUnique(t, newStore(t)) })
	t.Run("count and list", func(t *testing.T) { testCountAndList(t, newStore(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("prune running", func(t *testing.T) { testPruneRunning(t, newStore(t)) })
	t.Run("id space reset", func(t *testing.T) { testResetQueued(t, newStore(t)) })
	t.Run("settings", func(t *testing.T) { testSettings(t, newStore(t)) })
}

func insert(t *testing.T, s task.Store, cb task.Callback, params task.Params, p task.Priority) *task.Task {
	t.Helper()
	saved, err := s.Insert(context.Background(), &task.Task{
		Kind:     task.KindDirect,
		Callback: cb,
		Params:   params,
		Priority: p,
	})
	require.NoError(t, err)
	return saved
}

func claim(t *testing.T, s task.Store, at time.Time) *task.Task {
	t.Helper()
	claimed, err := s.Claim(context.Background(), 1000, at)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func testInsertAndGet(t *testing.T, s task.Store) {
	ctx := context.Background()
	first := insert(t, s, task.FunctionRef("a"), task.Params{1, "x"}, task.PriorityMedium)
	second := insert(t, s, task.MethodRef("Mailer", "send"), nil, task.PriorityHigh)
	assert.Greater(t, second.ID, first.ID)

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, task.FunctionRef("a"), got.Callback)
	assert.True(t, got.Params.Equal(task.Params{1, "x"}))
	assert.Equal(t, task.PriorityMedium, got.Priority)
	assert.Nil(t, got.StartedAt)

	_, err = s.Get(ctx, second.ID+100)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func testClaimOrder(t *testing.T, s task.Store) {
	ctx := context.Background()
	low := insert(t, s, task.FunctionRef("low"), nil, task.PriorityLow)
	high := insert(t, s, task.FunctionRef("high"), nil, task.PriorityHigh)
	medium := insert(t, s, task.FunctionRef("medium"), nil, task.PriorityMedium)

	for _, want := range []int64{high.ID, medium.ID, low.ID} {
		got := claim(t, s, base)
		assert.Equal(t, want, got.ID)
		require.NotNil(t, got.StartedAt)
		assert.True(t, base.Equal(*got.StartedAt))
	}

	claimed, err := s.Claim(ctx, 1000, base)
	require.NoError(t, err)
	assert.Nil(t, claimed, "empty queue claims nothing")

	running, err := s.RunningExists(ctx, high.ID)
	require.NoError(t, err)
	assert.True(t, running)

	lastRun, ok, err := s.Setting(ctx, task.SettingLastRunAt)
	require.NoError(t, err)
	require.True(t, ok)
	at, err := time.Parse(time.RFC3339Nano, lastRun)
	require.NoError(t, err)
	assert.True(t, base.Equal(at))
}

func testClaimCap(t *testing.T, s task.Store) {
	ctx := context.Background()
	insert(t, s, task.FunctionRef("a"), nil, task.PriorityMedium)
	insert(t, s, task.FunctionRef("b"), nil, task.PriorityMedium)

	first, err := s.Claim(ctx, 1, base)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.Claim(ctx, 1, base)
	require.NoError(t, err)
	assert.Nil(t, second, "cap of one running task")

	n, err := s.Count(ctx, task.SetQueued, task.Query{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testRequeue(t *testing.T, s task.Store) {
	ctx := context.Background()
	saved := insert(t, s, task.FunctionRef("again"), task.Params{"p"}, task.PriorityMedium)
	claim(t, s, base)

	p := task.PriorityBackground
	moved, err := s.Requeue(ctx, saved.ID, &p)
	require.NoError(t, err)
	assert.True(t, moved)

	got, err := s.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, task.PriorityBackground, got.Priority)
	assert.Nil(t, got.StartedAt)

	moved, err = s.Requeue(ctx, saved.ID, nil)
	require.NoError(t, err)
	assert.False(t, moved, "only running tasks can be requeued")
}

func testInsertUnique(t *testing.T, s task.Store) {
	ctx := context.Background()
	cb := task.FunctionRef("sync")
	existing := insert(t, s, cb, task.Params{1}, task.PriorityLow)

	inserted, err := s.InsertUnique(ctx, &task.Task{
		Kind: task.KindDirect, Callback: cb, Params: task.Params{1}, Priority: task.PriorityHigh,
	}, true)
	require.NoError(t, err)
	assert.Nil(t, inserted)

	got, err := s.Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, task.PriorityHigh, got.Priority, "queued duplicate is escalated")

	inserted, err = s.InsertUnique(ctx, &task.Task{
		Kind: task.KindDirect, Callback: cb, Params: task.Params{2}, Priority: task.PriorityMedium,
	}, true)
	require.NoError(t, err)
	require.NotNil(t, inserted, "different params are a different task")
	assert.Greater(t, inserted.ID, existing.ID)
	assert.Equal(t, task.Params{2}, inserted.Params)

	stored, err := s.Get(ctx, inserted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.PriorityMedium, stored.Priority)

	inserted, err = s.InsertUnique(ctx, &task.Task{
		Kind: task.KindDirect, Callback: cb, Params: task.Params{3}, Priority: task.PriorityMedium,
	}, false)
	require.NoError(t, err)
	assert.Nil(t, inserted, "callback-only match ignores params")

	exists, err := s.Exists(ctx, cb, nil)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.Exists(ctx, cb, task.Params{9})
	require.NoError(t, err)
	assert.False(t, exists)
}

func testCountAndList(t *testing.T, s task.Store) {
	ctx := context.Background()
	cb := task.FunctionRef("report")
	for i := 0; i < 5; i++ {
		insert(t, s, cb, task.Params{i}, task.PriorityMedium)
	}
	insert(t, s, task.FunctionRef("other"), nil, task.PriorityHigh)

	n, err := s.Count(ctx, task.SetQueued, task.Query{Callback: &cb}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	page, err := s.List(ctx, task.SetQueued, task.Query{Callback: &cb, Count: 2, Offset: 1}, time.Time{})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].Params.Equal(task.Params{1}))
	assert.True(t, page[1].Params.Equal(task.Params{2}))

	all, err := s.List(ctx, task.SetQueued, task.Query{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, task.FunctionRef("other"), all[0].Callback, "queued listing follows claim order")

	old := claim(t, s, base)
	claim(t, s, base.Add(10*time.Minute))

	orphans, err := s.Count(ctx, task.SetRunning, task.Query{}, base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, orphans)

	listed, err := s.List(ctx, task.SetRunning, task.Query{}, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, old.ID, listed[0].ID)
}

func testDelete(t *testing.T, s task.Store) {
	ctx := context.Background()
	running := insert(t, s, task.FunctionRef("r"), nil, task.PriorityHigh)
	claimed := claim(t, s, base)
	assert.Equal(t, running.ID, claimed.ID)
	queued := insert(t, s, task.FunctionRef("q"), nil, task.PriorityLow)

	n, err := s.DeleteRunning(ctx, queued.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "DeleteRunning leaves queued rows alone")

	n, err = s.DeleteRunning(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Delete(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Delete(ctx, queued.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testPruneRunning(t *testing.T, s task.Store) {
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, insert(t, s, task.FunctionRef("stuck"), task.Params{i}, task.PriorityMedium).ID)
	}
	for i := range ids {
		claim(t, s, base.Add(time.Duration(i)*time.Minute))
	}

	n, err := s.PruneRunning(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for i, id := range ids {
		exists, err := s.RunningExists(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i >= 2, exists, "oldest rows are pruned first (id %d)", id)
	}
}

func testResetQueued(t *testing.T, s task.Store) {
	ctx := context.Background()
	insert(t, s, task.FunctionRef("a"), nil, task.PriorityMedium)
	second := insert(t, s, task.FunctionRef("b"), nil, task.PriorityMedium)

	next, err := s.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID+1, next)

	reset, err := s.ResetQueued(ctx)
	require.NoError(t, err)
	assert.False(t, reset, "non-empty queue is not reset")

	claim(t, s, base)
	claim(t, s, base)

	reset, err = s.ResetQueued(ctx)
	require.NoError(t, err)
	assert.True(t, reset)

	next, err = s.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

func testSettings(t *testing.T, s task.Store) {
	ctx := context.Background()
	_, ok, err := s.Setting(ctx, task.SettingMaxConcurrentTasks)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, task.SettingMaxConcurrentTasks, "4"))
	require.NoError(t, s.SetSetting(ctx, task.SettingMaxConcurrentTasks, "8"))

	v, ok, err := s.Setting(ctx, task.SettingMaxConcurrentTasks)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "8", v)
}
