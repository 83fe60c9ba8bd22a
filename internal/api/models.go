package api

import (
	"time"

	"github.com/phrazzld/taskpump/internal/task"
)

// TokenRequest defines the payload for the admin token endpoint.
type TokenRequest struct {
	Password string `json:"password" validate:"required,max=72"`
}

// TokenResponse defines the successful response of the admin token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`

	// ExpiresAt is the RFC 3339 expiry of AccessToken.
	ExpiresAt string `json:"expires_at"`
}

// EnqueueRequest defines the payload for POST /api/tasks.
//
// A missing or null Params is distinct from an empty list: with Unique set it
// matches existing tasks on the callback alone.
type EnqueueRequest struct {
	Callback    task.Callback `json:"callback"`
	Params      []any         `json:"params"`
	Priority    *int          `json:"priority"`
	Description string        `json:"description" validate:"max=255"`
	Periodic    bool          `json:"periodic"`
	Unique      bool          `json:"unique"`
}

// Validate checks the callback form and the flag combination.
func (r *EnqueueRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if err := r.Callback.Validate(); err != nil {
		return err
	}
	if r.Periodic && r.Unique {
		return badRequest("Periodic tasks cannot be enqueued as unique")
	}
	return nil
}

// TaskPriority returns the requested priority, medium when omitted.
func (r *EnqueueRequest) TaskPriority() task.Priority {
	if r.Priority == nil {
		return task.PriorityMedium
	}
	return task.Priority(*r.Priority)
}

// EnqueueResponse reports the outcome of POST /api/tasks. Task is omitted when
// a unique enqueue found an existing task.
type EnqueueResponse struct {
	Inserted bool          `json:"inserted"`
	Task     *TaskResponse `json:"task,omitempty"`
}

// ExistsRequest defines the payload for POST /api/tasks/exists.
type ExistsRequest struct {
	Callback task.Callback `json:"callback"`
	Params   []any         `json:"params"`
}

// Validate checks the callback form.
func (r *ExistsRequest) Validate() error {
	return r.Callback.Validate()
}

// ExistsResponse reports whether a matching task is queued or running.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// RequeueRequest defines the optional payload for POST /api/tasks/{id}/requeue.
type RequeueRequest struct {
	Priority *int `json:"priority"`
}

// TaskResponse is the JSON form of a task.
type TaskResponse struct {
	ID           int64         `json:"id"`
	State        string        `json:"state"`
	Kind         task.Kind     `json:"kind"`
	Callback     task.Callback `json:"callback"`
	Params       task.Params   `json:"params"`
	Priority     int           `json:"priority"`
	PriorityName string        `json:"priority_name"`
	Description  string        `json:"description"`
	Synopsis     string        `json:"synopsis"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
}

// Task states reported in TaskResponse.State.
const (
	StateQueued   = "queued"
	StateRunning  = "running"
	StateOrphaned = "orphaned"
)

// TaskListResponse is one page of a task listing together with the total
// number of matching tasks.
type TaskListResponse struct {
	Total int            `json:"total"`
	Tasks []TaskResponse `json:"tasks"`
}

// SettingsResponse reports the persisted queue settings.
type SettingsResponse struct {
	MaxConcurrentTasks   int        `json:"max_concurrent_tasks"`
	AutoExecutionEnabled bool       `json:"auto_execution_enabled"`
	LastRunAt            *time.Time `json:"last_run_at"`
}

// UpdateSettingsRequest defines the payload for PUT /api/settings. Omitted
// fields are left unchanged.
type UpdateSettingsRequest struct {
	MaxConcurrentTasks   *int  `json:"max_concurrent_tasks" validate:"omitempty,gte=1"`
	AutoExecutionEnabled *bool `json:"auto_execution_enabled"`
}

// PumpResponse reports one pump activation.
type PumpResponse struct {
	task.PumpResult
	RemainingSeconds   float64 `json:"remaining_seconds"`
	FreeMemoryFraction float64 `json:"free_memory_fraction"`
}
