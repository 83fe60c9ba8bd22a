package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened to a task.
type Type string

// Lifecycle event types
const (
	TypeEnqueued       Type = "enqueued"
	TypeClaimed        Type = "claimed"
	TypeCompleted      Type = "completed"
	TypeRequeued       Type = "requeued"
	TypeStuck          Type = "stuck"
	TypeDeleted        Type = "deleted"
	TypeOrphanRequeued Type = "orphan_requeued"
	TypeIDSpaceReset   Type = "id_space_reset"
)

// TaskEvent describes a single lifecycle transition.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type Type `json:"type"`

	// TaskID is zero for events that do not concern a single task.
	TaskID int64 `json:"task_id,omitempty"`

	// Synopsis is the human-readable rendering of the task's call.
	Synopsis string `json:"synopsis,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// NewTaskEvent creates a TaskEvent stamped with the current time.
func NewTaskEvent(eventType Type, taskID int64, synopsis string) *TaskEvent {
	return &TaskEvent{
		ID:         uuid.New(),
		Type:       eventType,
		TaskID:     taskID,
		Synopsis:   synopsis,
		OccurredAt: time.Now().UTC(),
	}
}

// EventHandler processes emitted events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *TaskEvent) error

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}

// EventEmitter publishes events to registered handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *TaskEvent) error
}
