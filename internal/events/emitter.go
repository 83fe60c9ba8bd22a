package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/taskpump/internal/redact"
)

// InMemoryEventEmitter delivers events synchronously, in registration order,
// to the handlers of the current process. Emitting happens on the pump's
// goroutine, so handlers should be quick.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		logger: logger.With("component", "event_emitter"),
	}
}

// RegisterHandler subscribes handler to every later event.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("event handler registered", "handler_count", len(e.handlers))
}

// EmitEvent hands event to every handler. A failing or panicking handler does
// not stop delivery to the rest; all failures are joined into the result.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskEvent) error {
	e.mu.RLock()
	handlers := append([]EventHandler(nil), e.handlers...)
	e.mu.RUnlock()

	var errs []error
	for i, handler := range handlers {
		if err := deliver(ctx, handler, event); err != nil {
			e.logger.ErrorContext(ctx, "event handler failed",
				redact.Attr(err),
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type,
				"task_id", event.TaskID)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, handler EventHandler, event *TaskEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("event handler panicked: %v", p)
		}
	}()
	return handler.HandleEvent(ctx, event)
}

// LoggingHandler returns a handler that writes every event to logger at debug level.
func LoggingHandler(logger *slog.Logger) EventHandler {
	return EventHandlerFunc(func(ctx context.Context, event *TaskEvent) error {
		logger.DebugContext(ctx, "task event",
			"event_id", event.ID,
			"event_type", event.Type,
			"task_id", event.TaskID,
			"synopsis", event.Synopsis)
		return nil
	})
}
