package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/genrelay/internal/api/middleware"
	"github.com/kiranshivaraju/genrelay/internal/api/response"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateJob  http.HandlerFunc
	ListJobs   http.HandlerFunc
	GetJob     http.HandlerFunc
	SetValues  http.HandlerFunc
	TriggerRun http.HandlerFunc
	GetStatus  http.HandlerFunc
	ListRuns   http.HandlerFunc
	ClearCache http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJob))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
		r.Patch("/api/v1/jobs/{jobID}/values", orNotImplemented(deps.SetValues))
		r.Post("/api/v1/jobs/{jobID}/runs", orNotImplemented(deps.TriggerRun))
		r.Get("/api/v1/jobs/{jobID}/runs", orNotImplemented(deps.ListRuns))
		r.Get("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.GetStatus))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Delete("/api/v1/jobs/{jobID}/cache", orNotImplemented(deps.ClearCache))

			r.Post("/api/v1/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
