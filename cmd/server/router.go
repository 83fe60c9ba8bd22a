package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskpump/internal/api"
	apiMiddleware "github.com/phrazzld/taskpump/internal/api/middleware"
)

// setupRouter creates the router with the admin API under /api and the
// health check.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	pump := apiMiddleware.NewPumpMiddleware(app.runner, app.queue, app.beginActivation, app.logger)
	routes := api.Routes{
		Auth:             api.NewAuthHandler(app.admin, app.logger),
		Tasks:            api.NewTaskHandler(app.queue, app.logger),
		Admin:            api.NewAdminHandler(app.queue, app.runner, app.beginActivation, app.logger),
		Authenticate:     apiMiddleware.NewAuthMiddleware(app.jwtService).Authenticate,
		PumpAfterRequest: pump.PumpAfterRequest,
	}
	r.Route("/api", routes.Mount)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
