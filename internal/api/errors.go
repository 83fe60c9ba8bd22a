package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/taskpump/internal/api/shared"
	"github.com/phrazzld/taskpump/internal/service/auth"
	"github.com/phrazzld/taskpump/internal/store"
	"github.com/phrazzld/taskpump/internal/task"
)

// ErrBadRequest marks request parsing failures raised by the handlers.
var ErrBadRequest = errors.New("bad request")

// requestError is a request failure whose message is safe to show clients.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Unwrap() error { return ErrBadRequest }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking the error itself to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized

	case errors.Is(err, auth.ErrLoginDisabled):
		return http.StatusForbidden

	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, task.ErrNotRunning),
		errors.Is(err, task.ErrNotOrphaned),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, ErrBadRequest),
		errors.Is(err, task.ErrInvalidCallback),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrLockUnavailable),
		errors.Is(err, task.ErrStoreNotReady):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrWrongTokenType):
		return "Invalid token"

	case errors.Is(err, auth.ErrInvalidCredentials):
		return "Invalid credentials"

	case errors.Is(err, auth.ErrLoginDisabled):
		return "Admin login is disabled"

	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return "Task not found"

	case errors.Is(err, task.ErrNotRunning):
		return "Task is not running"

	case errors.Is(err, task.ErrNotOrphaned):
		return "Task is not orphaned"

	case errors.Is(err, task.ErrInvalidCallback):
		return "Invalid callback"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	case errors.Is(err, store.ErrDuplicate):
		return "Task already exists"

	case errors.Is(err, store.ErrLockUnavailable):
		return "Task store is busy, retry later"

	case errors.Is(err, task.ErrStoreNotReady):
		return "Task store is not initialized"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err. A non-empty
// message overrides the safe message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError turns validator errors into a short message that
// names the failing field without echoing its value.
func SanitizeValidationError(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		fe := validationErrors[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.msg
	}
	if errors.Is(err, task.ErrInvalidCallback) {
		return "Invalid callback"
	}
	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte", "gt":
		return "too small"
	case "max", "lte", "lt":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
