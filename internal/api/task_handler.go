package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/taskpump/internal/api/shared"
	"github.com/phrazzld/taskpump/internal/task"
)

// TaskQueue is the part of task.Queue the admin API uses.
type TaskQueue interface {
	Enqueue(ctx context.Context, cb task.Callback, params task.Params, priority task.Priority, description string) (*task.Task, error)
	EnqueuePeriodic(ctx context.Context, cb task.Callback, params task.Params, priority task.Priority, description string) (*task.Task, error)
	EnqueueUnique(ctx context.Context, cb task.Callback, params task.Params, priority task.Priority, description string) (bool, error)
	TaskExists(ctx context.Context, cb task.Callback, params task.Params) (bool, error)

	CountQueued(ctx context.Context, filter task.Query) (int, error)
	ListQueued(ctx context.Context, filter task.Query) ([]*task.Task, error)
	CountRunning(ctx context.Context, filter task.Query) (int, error)
	ListRunning(ctx context.Context, filter task.Query) ([]*task.Task, error)
	CountOrphaned(ctx context.Context, filter task.Query) (int, error)
	ListOrphaned(ctx context.Context, filter task.Query) ([]*task.Task, error)
	IsOrphan(t *task.Task) bool

	GetByID(ctx context.Context, id int64) (*task.Task, error)
	Delete(ctx context.Context, id int64) (int64, error)
	RequeueOrphan(ctx context.Context, id int64, priority *task.Priority) error

	MaxConcurrentTasks(ctx context.Context) (int, error)
	SetMaxConcurrentTasks(ctx context.Context, n int) error
	AutoExecutionEnabled(ctx context.Context) (bool, error)
	SetAutoExecution(ctx context.Context, enabled bool) error
	LastRunAt(ctx context.Context) (time.Time, bool, error)

	Registry() *task.Registry
}

// TaskHandler serves task inspection and management requests.
type TaskHandler struct {
	queue  TaskQueue
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(queue TaskQueue, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: logger.With("component", "task_handler"),
	}
}

// ListTasks returns the handler for GET /api/tasks/{set}, where set is
// queued, running or orphaned. The total ignores count and offset.
func (h *TaskHandler) ListTasks(set string) http.HandlerFunc {
	var (
		count func(ctx context.Context, filter task.Query) (int, error)
		list  func(ctx context.Context, filter task.Query) ([]*task.Task, error)
	)
	switch set {
	case StateQueued:
		count, list = h.queue.CountQueued, h.queue.ListQueued
	case StateRunning:
		count, list = h.queue.CountRunning, h.queue.ListRunning
	case StateOrphaned:
		count, list = h.queue.CountOrphaned, h.queue.ListOrphaned
	default:
		panic("api: unknown task set " + set)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseTaskQuery(r.URL.Query())
		if err != nil {
			HandleAPIError(w, r, err, SanitizeValidationError(err))
			return
		}

		unpaged := filter
		unpaged.Count, unpaged.Offset = 0, 0
		total, err := count(r.Context(), unpaged)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		tasks, err := list(r.Context(), filter)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}

		resp := TaskListResponse{Total: total, Tasks: make([]TaskResponse, 0, len(tasks))}
		for _, t := range tasks {
			resp.Tasks = append(resp.Tasks, h.toResponse(t))
		}
		shared.RespondWithJSON(w, r, http.StatusOK, resp)
	}
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, SanitizeValidationError(err))
		return
	}

	t, err := h.queue.GetByID(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, h.toResponse(t))
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, SanitizeValidationError(err))
		return
	}

	n, err := h.queue.Delete(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if n == 0 {
		HandleAPIError(w, r, task.ErrTaskNotFound, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateTask handles POST /api/tasks. With unique set, an existing match is
// reported with 200 and inserted=false; otherwise the new task is returned
// with 201.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()
	params := paramsFrom(req.Params)

	if req.Unique {
		inserted, err := h.queue.EnqueueUnique(ctx, req.Callback, params, req.TaskPriority(), req.Description)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		status := http.StatusOK
		if inserted {
			status = http.StatusCreated
		}
		shared.RespondWithJSON(w, r, status, EnqueueResponse{Inserted: inserted})
		return
	}

	enqueue := h.queue.Enqueue
	if req.Periodic {
		enqueue = h.queue.EnqueuePeriodic
	}
	saved, err := enqueue(ctx, req.Callback, params, req.TaskPriority(), req.Description)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := h.toResponse(saved)
	shared.RespondWithJSON(w, r, http.StatusCreated, EnqueueResponse{Inserted: true, Task: &resp})
}

// TaskExists handles POST /api/tasks/exists.
func (h *TaskHandler) TaskExists(w http.ResponseWriter, r *http.Request) {
	var req ExistsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	exists, err := h.queue.TaskExists(r.Context(), req.Callback, paramsFrom(req.Params))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ExistsResponse{Exists: exists})
}

// RequeueTask handles POST /api/tasks/{id}/requeue: an orphaned task goes
// back to the queue, optionally with a new priority.
func (h *TaskHandler) RequeueTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, SanitizeValidationError(err))
		return
	}
	var req RequeueRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	if err := h.queue.RequeueOrphan(r.Context(), id, priorityFrom(req.Priority)); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.queue.GetByID(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, h.toResponse(t))
}

func (h *TaskHandler) toResponse(t *task.Task) TaskResponse {
	state := StateQueued
	if t.StartedAt != nil {
		state = StateRunning
		if h.queue.IsOrphan(t) {
			state = StateOrphaned
		}
	}
	return TaskResponse{
		ID:           t.ID,
		State:        state,
		Kind:         t.Kind,
		Callback:     t.Callback,
		Params:       t.Params,
		Priority:     int(t.Priority),
		PriorityName: t.Priority.String(),
		Description:  t.Description,
		Synopsis:     h.queue.Registry().Synopsis(t),
		StartedAt:    t.StartedAt,
	}
}
