package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/phrazzld/taskpump/internal/api/middleware"
	"github.com/phrazzld/taskpump/internal/api/shared"
	"github.com/phrazzld/taskpump/internal/task"
)

// AdminHandler serves manual pumping and the queue settings.
type AdminHandler struct {
	queue  TaskQueue
	pumper middleware.Pumper
	begin  func() task.Budget
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. begin supplies the budget of a
// manual pump activation.
func NewAdminHandler(
	queue TaskQueue,
	pumper middleware.Pumper,
	begin func() task.Budget,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		queue:  queue,
		pumper: pumper,
		begin:  begin,
		logger: logger.With("component", "admin_handler"),
	}
}

// Pump handles POST /api/pump. Manual pumping ignores the automatic
// execution flag.
func (h *AdminHandler) Pump(w http.ResponseWriter, r *http.Request) {
	budget := h.begin()

	result, err := h.pumper.Pump(r.Context(), budget)
	if err != nil {
		status := MapErrorToStatusCode(err)
		message := GetSafeErrorMessage(err)
		if errors.Is(err, task.ErrTaskPanicked) {
			message = "A task panicked; it was left running"
		}
		shared.RespondWithErrorAndLog(w, r, status, message, err)
		return
	}

	h.logger.InfoContext(r.Context(), "manual pump finished",
		"pump_id", result.PumpID,
		"claimed", result.Claimed,
		"stop_reason", result.StopReason)
	shared.RespondWithJSON(w, r, http.StatusOK, PumpResponse{
		PumpResult:         result,
		RemainingSeconds:   budget.RemainingSeconds(),
		FreeMemoryFraction: budget.FreeMemoryFraction(),
	})
}

// GetSettings handles GET /api/settings.
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	resp, err := h.settings(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// UpdateSettings handles PUT /api/settings and returns the settings in
// effect afterwards.
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()

	if req.MaxConcurrentTasks != nil {
		if err := h.queue.SetMaxConcurrentTasks(ctx, *req.MaxConcurrentTasks); err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
	}
	if req.AutoExecutionEnabled != nil {
		if err := h.queue.SetAutoExecution(ctx, *req.AutoExecutionEnabled); err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
	}
	h.logger.InfoContext(ctx, "queue settings updated",
		"max_concurrent_tasks", req.MaxConcurrentTasks,
		"auto_execution_enabled", req.AutoExecutionEnabled)

	resp, err := h.settings(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

func (h *AdminHandler) settings(r *http.Request) (*SettingsResponse, error) {
	ctx := r.Context()
	maxTasks, err := h.queue.MaxConcurrentTasks(ctx)
	if err != nil {
		return nil, err
	}
	auto, err := h.queue.AutoExecutionEnabled(ctx)
	if err != nil {
		return nil, err
	}
	resp := &SettingsResponse{MaxConcurrentTasks: maxTasks, AutoExecutionEnabled: auto}

	lastRun, ok, err := h.queue.LastRunAt(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		resp.LastRunAt = &lastRun
	}
	return resp, nil
}
