package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/taskpump/internal/service/auth"
	"github.com/phrazzld/taskpump/internal/store"
	"github.com/phrazzld/taskpump/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid token", auth.ErrInvalidToken, http.StatusUnauthorized},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized},
		{"invalid credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{"login disabled", auth.ErrLoginDisabled, http.StatusForbidden},
		{"task not found", task.ErrTaskNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", store.ErrNotFound), http.StatusNotFound},
		{"not running", fmt.Errorf("%w: task 4", task.ErrNotRunning), http.StatusConflict},
		{"not orphaned", task.ErrNotOrphaned, http.StatusConflict},
		{"duplicate", store.ErrDuplicate, http.StatusConflict},
		{"bad request", badRequest("Invalid count"), http.StatusBadRequest},
		{"invalid callback", task.FunctionRef("").Validate(), http.StatusBadRequest},
		{"invalid entity", store.ErrInvalidEntity, http.StatusBadRequest},
		{"lock unavailable", store.ErrLockUnavailable, http.StatusServiceUnavailable},
		{"store not ready", task.ErrStoreNotReady, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Task not found", GetSafeErrorMessage(fmt.Errorf("get 9: %w", task.ErrTaskNotFound)))
	assert.Equal(t, "Task store is busy, retry later", GetSafeErrorMessage(store.ErrLockUnavailable))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))

	leaky := errors.New(`pq: relation "queue_tasks" does not exist`)
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(leaky))
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name  string `validate:"required"`
		Limit int    `validate:"gte=1"`
	}
	err := validator.New().Struct(payload{Limit: 1})
	require.Error(t, err)
	assert.Equal(t, "Invalid Name: required field", SanitizeValidationError(err))

	err = validator.New().Struct(payload{Name: "secret-value", Limit: 0})
	require.Error(t, err)
	msg := SanitizeValidationError(err)
	assert.Equal(t, "Invalid Limit: too small", msg)
	assert.NotContains(t, msg, "secret-value")

	assert.Equal(t, "Invalid offset: must be a non-negative integer",
		SanitizeValidationError(badRequest("Invalid %s: must be a non-negative integer", "offset")))
	assert.Equal(t, "Invalid callback", SanitizeValidationError(task.MethodRef("Mailer", "").Validate()))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("database password=hunter2")))
}
