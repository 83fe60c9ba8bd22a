package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskpump/internal/api/shared"
	"github.com/phrazzld/taskpump/internal/platform/logger"
	"github.com/phrazzld/taskpump/internal/platform/tracing"
)

// NewTraceMiddleware opens an "http.request" span for each request and puts
// a trace ID plus a request logger carrying it into the context. The trace
// ID is the span's when a tracer provider is installed, so log lines and
// exported spans share it. Apply it early so later handlers and the pump see
// the same trace ID.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), "http.request")
			span.SetString("http.method", r.Method)
			span.SetString("http.path", r.URL.Path)

			ctx = shared.WithTraceID(ctx, span.TraceID())
			log := base.With(slog.String("trace_id", shared.GetTraceID(ctx)))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			span.SetInt("http.status_code", int64(status))
			var spanErr error
			if status >= http.StatusInternalServerError {
				spanErr = fmt.Errorf("%d %s", status, http.StatusText(status))
			}
			span.End(spanErr)
		})
	}
}
