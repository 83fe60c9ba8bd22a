package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrazzld/taskpump/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLoggedRequest returns a request whose context carries a trace ID and a
// text logger writing to buf.
func newLoggedRequest(buf *strings.Builder) *http.Request {
	l := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.WithValue(context.Background(), TraceIDKey, "test-trace-id")
	ctx = logger.WithLogger(ctx, l)
	return httptest.NewRequest(http.MethodGet, "/test", nil).WithContext(ctx)
}

func TestRespondWithJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	RespondWithJSON(w, req, http.StatusCreated, map[string]interface{}{"id": 7})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":7}`, w.Body.String())
}

func TestRespondWithJSONEncodingError(t *testing.T) {
	var logBuf strings.Builder
	req := newLoggedRequest(&logBuf)
	w := httptest.NewRecorder()

	RespondWithJSON(w, req, http.StatusOK, map[string]interface{}{"ch": make(chan int)})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, logBuf.String(), "failed to encode JSON response")
}

func TestRespondWithError(t *testing.T) {
	var logBuf strings.Builder
	w := httptest.NewRecorder()

	RespondWithError(w, newLoggedRequest(&logBuf), http.StatusBadRequest, "Invalid request")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Invalid request", response.Error)
	assert.Equal(t, "test-trace-id", response.TraceID)
	assert.NotContains(t, w.Body.String(), "400", "status code is not serialized")
}

func TestRespondWithErrorNoTraceID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	RespondWithError(w, req, http.StatusUnauthorized, "Unauthorized")

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Unauthorized", response.Error)
	assert.Empty(t, response.TraceID)
}

func TestRespondWithErrorAndLog(t *testing.T) {
	tests := []struct {
		name             string
		statusCode       int
		message          string
		err              error
		elevate          bool
		expectedLogLevel string
	}{
		{
			name:             "server error",
			statusCode:       http.StatusInternalServerError,
			message:          "Failed to pump",
			err:              errors.New("connection reset"),
			expectedLogLevel: "level=ERROR",
		},
		{
			name:             "client error",
			statusCode:       http.StatusBadRequest,
			message:          "Bad request",
			err:              errors.New("invalid input"),
			expectedLogLevel: "level=DEBUG",
		},
		{
			name:             "elevated client error",
			statusCode:       http.StatusUnauthorized,
			message:          "Invalid credentials",
			err:              errors.New("password mismatch"),
			elevate:          true,
			expectedLogLevel: "level=WARN",
		},
		{
			name:             "queue state conflict",
			statusCode:       http.StatusConflict,
			message:          "Task is not orphaned",
			err:              errors.New("task 7 is not orphaned"),
			expectedLogLevel: "level=INFO",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var logBuf strings.Builder
			w := httptest.NewRecorder()

			var opts []ResponseOption
			if tc.elevate {
				opts = append(opts, WithElevatedLogLevel())
			}
			RespondWithErrorAndLog(w, newLoggedRequest(&logBuf), tc.statusCode, tc.message, tc.err, opts...)

			assert.Equal(t, tc.statusCode, w.Code)
			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tc.message, response.Error)
			assert.Equal(t, "test-trace-id", response.TraceID)
			assert.NotContains(t, w.Body.String(), tc.err.Error(), "raw errors never reach the client")

			logOutput := logBuf.String()
			assert.Contains(t, logOutput, tc.expectedLogLevel)
			assert.Contains(t, logOutput, "error_type=")
		})
	}
}

func TestRespondWithErrorAndLog_RedactsSecrets(t *testing.T) {
	var logBuf strings.Builder
	w := httptest.NewRecorder()

	err := errors.New("dial postgres://admin:hunter2@db:5432/tasks failed")
	RespondWithErrorAndLog(w, newLoggedRequest(&logBuf), http.StatusInternalServerError, "Storage error", err)

	assert.NotContains(t, logBuf.String(), "hunter2")
	assert.NotContains(t, w.Body.String(), "postgres://")
}
