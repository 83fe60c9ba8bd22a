package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/taskpump/internal/api/shared"
	"github.com/phrazzld/taskpump/internal/task"
)

var validate = validator.New()

// maxPageSize caps the count query parameter of task listings.
const maxPageSize = 500

// getPathID extracts a positive task ID from the URL path parameter name.
func getPathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, badRequest("Invalid %s: required field", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest("Invalid %s: must be a positive integer", name)
	}
	return id, nil
}

// decodeAndValidate decodes the JSON body into v and validates it, writing a
// 400 response and returning false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := shared.DecodeJSON(r, v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}

// decodeOptional behaves like decodeAndValidate but accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	err := shared.DecodeJSON(r, v)
	if errors.Is(err, shared.ErrEmptyBody) {
		return true
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	return true
}

// parseTaskQuery builds a task filter from the listing query string:
// function | target+method, priority, description, count, offset.
func parseTaskQuery(values url.Values) (task.Query, error) {
	var q task.Query

	function, target, method := values.Get("function"), values.Get("target"), values.Get("method")
	if function != "" || target != "" || method != "" {
		cb := task.Callback{Function: function, Target: target, Method: method}
		if err := cb.Validate(); err != nil {
			return task.Query{}, badRequest("Invalid callback filter: use function, or target with method")
		}
		q.Callback = &cb
	}

	if raw := values.Get("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < int(task.PriorityHigh) || p > int(task.PriorityBackground) {
			return task.Query{}, badRequest("Invalid priority: must be between 1 and 4")
		}
		priority := task.Priority(p)
		q.Priority = &priority
	}

	if values.Has("description") {
		description := values.Get("description")
		q.Description = &description
	}

	var err error
	if q.Count, err = nonNegativeInt(values, "count"); err != nil {
		return task.Query{}, err
	}
	if q.Count > maxPageSize {
		return task.Query{}, badRequest("Invalid count: at most %d", maxPageSize)
	}
	if q.Offset, err = nonNegativeInt(values, "offset"); err != nil {
		return task.Query{}, err
	}
	return q, nil
}

func nonNegativeInt(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("Invalid %s: must be a non-negative integer", name)
	}
	return n, nil
}

// priorityFrom converts an optional request priority.
func priorityFrom(p *int) *task.Priority {
	if p == nil {
		return nil
	}
	priority := task.Priority(*p)
	return &priority
}

// paramsFrom keeps the nil/empty distinction of decoded JSON arrays.
func paramsFrom(raw []any) task.Params {
	if raw == nil {
		return nil
	}
	return task.Params(raw)
}
