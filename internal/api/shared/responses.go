package shared

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/taskpump/internal/platform/logger"
	"github.com/phrazzld/taskpump/internal/redact"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// ResponseOption customizes error responses.
type ResponseOption func(*responseOptions)

type responseOptions struct {
	elevated bool
}

// WithElevatedLogLevel logs a 4xx response at WARN. Used for failed logins
// and rejected tokens.
func WithElevatedLogLevel() ResponseOption {
	return func(o *responseOptions) { o.elevated = true }
}

// RespondWithJSON writes data as JSON with the given status code.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		requestLogger(r).Error("failed to encode JSON response", "error", err)
	}
}

// RespondWithError writes message as a JSON error carrying the request trace ID.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, message string) {
	requestLogger(r).Debug("sending error response",
		"status_code", status,
		"message", message,
		"method", r.Method,
		"path", r.URL.Path)
	writeError(w, r, status, message)
}

// RespondWithErrorAndLog writes userMessage to the client and logs the
// redacted err at a level chosen by status.
func RespondWithErrorAndLog(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	userMessage string,
	err error,
	opts ...ResponseOption,
) {
	var o responseOptions
	for _, opt := range opts {
		opt(&o)
	}

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status_code", status),
		slog.String("user_message", userMessage),
	}
	if err != nil {
		attrs = append(attrs,
			redact.Attr(err),
			slog.String("error_type", fmt.Sprintf("%T", err)))
	}
	requestLogger(r).LogAttrs(r.Context(), logLevel(status, o.elevated), "API error response", attrs...)

	writeError(w, r, status, userMessage)
}

// logLevel maps a response status to a log level: 5xx is an ERROR, a
// conflict with the queue state is INFO, other client errors are DEBUG
// unless elevated to WARN.
func logLevel(status int, elevated bool) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case elevated:
		return slog.LevelWarn
	case status == http.StatusConflict:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	RespondWithJSON(w, r, status, ErrorResponse{
		Error:   message,
		TraceID: GetTraceID(r.Context()),
	})
}

func requestLogger(r *http.Request) *slog.Logger {
	return logger.FromContextOrDefault(r.Context(), slog.Default())
}
