package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskpump/internal/platform/logger"
	"github.com/phrazzld/taskpump/internal/redact"
	"github.com/phrazzld/taskpump/internal/task"
)

// Pumper runs one pump activation within budget.
type Pumper interface {
	Pump(ctx context.Context, budget task.Budget) (task.PumpResult, error)
}

// AutoExecutionSetting reports the persisted automatic execution flag.
type AutoExecutionSetting interface {
	AutoExecutionEnabled(ctx context.Context) (bool, error)
}

// PumpMiddleware turns every wrapped request into a host activation: once the
// handler has written its response, the queue is pumped within the budget
// that started when the request arrived.
type PumpMiddleware struct {
	pumper   Pumper
	settings AutoExecutionSetting
	begin    func() task.Budget
	logger   *slog.Logger
}

// NewPumpMiddleware creates a PumpMiddleware. begin is called as each request
// arrives and must return a budget whose deadline counts from that moment.
func NewPumpMiddleware(
	pumper Pumper,
	settings AutoExecutionSetting,
	begin func() task.Budget,
	logger *slog.Logger,
) *PumpMiddleware {
	return &PumpMiddleware{
		pumper:   pumper,
		settings: settings,
		begin:    begin,
		logger:   logger.With("component", "pump_middleware"),
	}
}

// PumpAfterRequest serves the request, delivers the complete response and
// then runs a pump activation when automatic execution is enabled. Pump
// failures are logged and never change the response.
//
// The handler's output is buffered so it can be sent with a Content-Length
// and "Connection: close"; the client sees a finished response while the
// activation is still running on this goroutine.
func (m *PumpMiddleware) PumpAfterRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		budget := m.begin()

		var body bytes.Buffer
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Discard()
		ww.Tee(&body)
		next.ServeHTTP(ww, r)
		deliver(w, ww.Status(), body.Bytes())

		// The client may hang up once it has its response; the budget still
		// bounds the activation.
		ctx := context.WithoutCancel(r.Context())
		log := logger.FromContextOrDefault(ctx, m.logger)

		enabled, err := m.settings.AutoExecutionEnabled(ctx)
		if err != nil {
			log.ErrorContext(ctx, "failed to read automatic execution setting", redact.Attr(err))
			return
		}
		if !enabled {
			return
		}

		result, err := m.pumper.Pump(ctx, budget)
		if err != nil {
			log.ErrorContext(ctx, "pump after request failed",
				"pump_id", result.PumpID,
				"claimed", result.Claimed,
				redact.Attr(err))
			return
		}
		if result.Claimed > 0 || result.IDSpaceReset {
			log.InfoContext(ctx, "pump after request finished",
				"pump_id", result.PumpID,
				"claimed", result.Claimed,
				"stop_reason", result.StopReason,
				"id_space_reset", result.IDSpaceReset)
		}
	})
}

// deliver writes a buffered response in one piece and flushes it.
func deliver(w http.ResponseWriter, status int, body []byte) {
	if status == 0 {
		status = http.StatusOK
	}
	h := w.Header()
	h.Set("Connection", "close")
	if bodyAllowed(status) {
		h.Set("Content-Length", strconv.Itoa(len(body)))
	} else {
		h.Del("Content-Length")
		body = nil
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func bodyAllowed(status int) bool {
	return status >= http.StatusOK && status != http.StatusNoContent && status != http.StatusNotModified
}
