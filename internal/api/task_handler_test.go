package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/taskpump/internal/api/shared"
	"github.com/phrazzld/taskpump/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskHandler_RequiresToken(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/queued", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authorization header required", decode[shared.ErrorResponse](t, rec).Error)
}

func TestTaskHandler_ListQueued(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.enqueue(t, "record", task.Params{1}, task.PriorityMedium)
	high := a.enqueue(t, "record", task.Params{2}, task.PriorityHigh)
	a.enqueue(t, "other", nil, task.PriorityLow)

	t.Run("first page in claim order", func(t *testing.T) {
		rec := a.do(t, http.MethodGet, "/api/tasks/queued?count=1", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[TaskListResponse](t, rec)
		assert.Equal(t, 3, resp.Total, "total ignores paging")
		require.Len(t, resp.Tasks, 1)
		assert.Equal(t, high.ID, resp.Tasks[0].ID)
		assert.Equal(t, StateQueued, resp.Tasks[0].State)
		assert.Equal(t, "high", resp.Tasks[0].PriorityName)
		assert.Equal(t, "record(2)", resp.Tasks[0].Synopsis)
		assert.Nil(t, resp.Tasks[0].StartedAt)
	})

	t.Run("filters", func(t *testing.T) {
		rec := a.do(t, http.MethodGet, "/api/tasks/queued?function=record&priority=2", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[TaskListResponse](t, rec)
		assert.Equal(t, 1, resp.Total)
		require.Len(t, resp.Tasks, 1)
		assert.Equal(t, "record(1)", resp.Tasks[0].Synopsis)
	})

	t.Run("empty result is an empty list", func(t *testing.T) {
		rec := a.do(t, http.MethodGet, "/api/tasks/queued?function=missing", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"total":0,"tasks":[]}`, rec.Body.String())
	})

	bad := []struct {
		name  string
		query string
		want  string
	}{
		{"priority out of range", "priority=9", "Invalid priority: must be between 1 and 4"},
		{"method without target", "method=run", "Invalid callback filter: use function, or target with method"},
		{"negative offset", "offset=-1", "Invalid offset: must be a non-negative integer"},
		{"page too large", "count=501", "Invalid count: at most 500"},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(t, http.MethodGet, "/api/tasks/queued?"+tc.query, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.want, decode[shared.ErrorResponse](t, rec).Error)
		})
	}
}

func TestTaskHandler_ListRunningAndOrphaned(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.enqueue(t, "record", task.Params{"stale"}, task.PriorityHigh)
	a.enqueue(t, "record", task.Params{"fresh"}, task.PriorityMedium)
	stale := a.claimAt(t, testNow.Add(-10*time.Minute))
	fresh := a.claimAt(t, testNow.Add(-time.Minute))

	rec := a.do(t, http.MethodGet, "/api/tasks/running", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	running := decode[TaskListResponse](t, rec)
	assert.Equal(t, 2, running.Total)
	require.Len(t, running.Tasks, 2)
	assert.Equal(t, stale.ID, running.Tasks[0].ID, "oldest first")
	assert.Equal(t, StateOrphaned, running.Tasks[0].State)
	assert.Equal(t, fresh.ID, running.Tasks[1].ID)
	assert.Equal(t, StateRunning, running.Tasks[1].State)
	require.NotNil(t, running.Tasks[1].StartedAt)
	assert.True(t, testNow.Add(-time.Minute).Equal(*running.Tasks[1].StartedAt))

	rec = a.do(t, http.MethodGet, "/api/tasks/orphaned", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orphaned := decode[TaskListResponse](t, rec)
	assert.Equal(t, 1, orphaned.Total)
	require.Len(t, orphaned.Tasks, 1)
	assert.Equal(t, stale.ID, orphaned.Tasks[0].ID)
}

func TestTaskHandler_GetAndDelete(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	saved := a.enqueue(t, "record", task.Params{"x\"y", true, nil}, task.PriorityLow)
	path := "/api/tasks/" + itoa(saved.ID)

	rec := a.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[TaskResponse](t, rec)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, task.KindDirect, got.Kind)
	assert.Equal(t, task.FunctionRef("record"), got.Callback)
	assert.Equal(t, `record("x&quot;y", TRUE, NULL)`, got.Synopsis)

	rec = a.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = a.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task not found", decode[shared.ErrorResponse](t, rec).Error)

	rec = a.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/tasks/0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskHandler_CreateTask(t *testing.T) {
	t.Parallel()

	t.Run("direct task with clamped priority", func(t *testing.T) {
		t.Parallel()
		a := newTestAPI(t)

		rec := a.do(t, http.MethodPost, "/api/tasks",
			`{"callback":{"function":"record"},"params":[1.5,"a"],"priority":99,"description":"nightly"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		resp := decode[EnqueueResponse](t, rec)
		assert.True(t, resp.Inserted)
		require.NotNil(t, resp.Task)
		assert.Equal(t, int(task.PriorityBackground), resp.Task.Priority)
		assert.Equal(t, "nightly", resp.Task.Description)
		assert.Equal(t, `record(1.5, "a")`, resp.Task.Synopsis)

		stored, err := a.queue.GetByID(context.Background(), resp.Task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.PriorityBackground, stored.Priority)
	})

	t.Run("default priority is medium", func(t *testing.T) {
		t.Parallel()
		a := newTestAPI(t)

		rec := a.do(t, http.MethodPost, "/api/tasks", `{"callback":{"target":"Mailer","method":"flush"}}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[EnqueueResponse](t, rec)
		require.NotNil(t, resp.Task)
		assert.Equal(t, int(task.PriorityMedium), resp.Task.Priority)
		assert.Equal(t, "Mailer::flush()", resp.Task.Synopsis)
	})

	t.Run("periodic task", func(t *testing.T) {
		t.Parallel()
		a := newTestAPI(t)

		rec := a.do(t, http.MethodPost, "/api/tasks", `{"callback":{"function":"record"},"params":["daily"],"periodic":true}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[EnqueueResponse](t, rec)
		require.NotNil(t, resp.Task)
		assert.Equal(t, task.KindPeriodic, resp.Task.Kind)
	})

	t.Run("unique", func(t *testing.T) {
		t.Parallel()
		a := newTestAPI(t)
		existing := a.enqueue(t, "record", task.Params{7}, task.PriorityLow)

		rec := a.do(t, http.MethodPost, "/api/tasks", `{"callback":{"function":"record"},"params":[7],"priority":1,"unique":true}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"inserted":false}`, rec.Body.String())

		stored, err := a.queue.GetByID(context.Background(), existing.ID)
		require.NoError(t, err)
		assert.Equal(t, task.PriorityHigh, stored.Priority, "queued duplicate escalated")

		rec = a.do(t, http.MethodPost, "/api/tasks", `{"callback":{"function":"record"},"params":[8],"unique":true}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"inserted":true}`, rec.Body.String())

		rec = a.do(t, http.MethodPost, "/api/tasks", `{"callback":{"function":"record"},"unique":true}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"inserted":false}`, rec.Body.String(), "omitted params match on callback only")
	})

	bad := []struct {
		name string
		body string
		want string
	}{
		{"no callback", `{"params":[]}`, "Invalid callback"},
		{"both callback forms", `{"callback":{"function":"a","target":"B","method":"c"}}`, "Invalid callback"},
		{"unknown field", `{"callback":{"function":"a"},"queue":"x"}`, "Invalid request format"},
		{"unique periodic", `{"callback":{"function":"a"},"periodic":true,"unique":true}`, "Periodic tasks cannot be enqueued as unique"},
		{"description too long", `{"callback":{"function":"a"},"description":"` + strings.Repeat("d", 256) + `"}`, "Invalid Description: too large"},
		{"empty body", ``, "Invalid request format"},
	}
	for _, tc := range bad {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAPI(t)
			rec := a.do(t, http.MethodPost, "/api/tasks", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.want, decode[shared.ErrorResponse](t, rec).Error)
		})
	}
}

func TestTaskHandler_TaskExists(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.enqueue(t, "record", task.Params{1}, task.PriorityMedium)

	rec := a.do(t, http.MethodPost, "/api/tasks/exists", `{"callback":{"function":"record"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"exists":true}`, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/tasks/exists", `{"callback":{"function":"record"},"params":[2]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"exists":false}`, rec.Body.String())
}

func TestTaskHandler_RequeueTask(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	orphan := a.enqueue(t, "record", task.Params{"o"}, task.PriorityMedium)
	a.claimAt(t, testNow.Add(-time.Hour))
	recent := a.enqueue(t, "record", task.Params{"r"}, task.PriorityMedium)
	a.claimAt(t, testNow.Add(-time.Minute))
	queued := a.enqueue(t, "record", task.Params{"q"}, task.PriorityMedium)

	rec := a.do(t, http.MethodPost, "/api/tasks/"+itoa(orphan.ID)+"/requeue", `{"priority":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[TaskResponse](t, rec)
	assert.Equal(t, StateQueued, got.State)
	assert.Equal(t, int(task.PriorityHigh), got.Priority)
	assert.Nil(t, got.StartedAt)

	rec = a.do(t, http.MethodPost, "/api/tasks/"+itoa(recent.ID)+"/requeue", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Task is not orphaned", decode[shared.ErrorResponse](t, rec).Error)

	rec = a.do(t, http.MethodPost, "/api/tasks/"+itoa(queued.ID)+"/requeue", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Task is not running", decode[shared.ErrorResponse](t, rec).Error)

	rec = a.do(t, http.MethodPost, "/api/tasks/999/requeue", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
