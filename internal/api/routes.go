package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes bundles the admin API handlers and the middleware guarding them.
type Routes struct {
	Auth  *AuthHandler
	Tasks *TaskHandler
	Admin *AdminHandler

	// Authenticate protects everything except the token endpoint.
	Authenticate func(http.Handler) http.Handler

	// PumpAfterRequest, when set, wraps every route except POST /pump,
	// which pumps on its own.
	PumpAfterRequest func(http.Handler) http.Handler
}

// Mount registers the admin API on r, typically under /api.
func (rt Routes) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		if rt.PumpAfterRequest != nil {
			r.Use(rt.PumpAfterRequest)
		}

		r.Post("/auth/token", rt.Auth.IssueToken)

		r.Group(func(r chi.Router) {
			r.Use(rt.Authenticate)

			r.Get("/tasks/queued", rt.Tasks.ListTasks(StateQueued))
			r.Get("/tasks/running", rt.Tasks.ListTasks(StateRunning))
			r.Get("/tasks/orphaned", rt.Tasks.ListTasks(StateOrphaned))
			r.Post("/tasks", rt.Tasks.CreateTask)
			r.Post("/tasks/exists", rt.Tasks.TaskExists)
			r.Get("/tasks/{id:[0-9]+}", rt.Tasks.GetTask)
			r.Delete("/tasks/{id:[0-9]+}", rt.Tasks.DeleteTask)
			r.Post("/tasks/{id:[0-9]+}/requeue", rt.Tasks.RequeueTask)

			r.Get("/settings", rt.Admin.GetSettings)
			r.Put("/settings", rt.Admin.UpdateSettings)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(rt.Authenticate)
		r.Post("/pump", rt.Admin.Pump)
	})
}
