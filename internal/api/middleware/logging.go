package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/genrelay/internal/api/response"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logger writes one line per request. Requests on a job route carry the
// job id, and requests that started or named a run carry its run id.
// Server errors are logged at error level.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		attrs = append(attrs, routeAttrs(r)...)
		if id := rec.Header().Get(response.RunIDHeader); id != "" {
			attrs = append(attrs, "run_id", id)
		}

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "request", attrs...)
	})
}

// routeAttrs returns the matched chi route and job id of r, if any.
func routeAttrs(r *http.Request) []any {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	var attrs []any
	if p := rctx.RoutePattern(); p != "" {
		attrs = append(attrs, "route", p)
	}
	if id := rctx.URLParam("jobID"); id != "" {
		attrs = append(attrs, "job_id", id)
	}
	return attrs
}
