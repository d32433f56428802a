package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/genrelay/internal/host"
	"github.com/kiranshivaraju/genrelay/internal/orchestrator"
)

// Error codes shared by the handlers.
const (
	CodeInternal         = "INTERNAL_ERROR"
	CodeJobNotFound      = "JOB_NOT_FOUND"
	CodeRunActive        = "RUN_ACTIVE"
	CodeNoWorkflow       = "NO_WORKFLOW"
	CodeUnknownParameter = "UNKNOWN_PARAMETER"
	CodeShuttingDown     = "SHUTTING_DOWN"
)

// retryAfterSecs is sent with 503 while the server drains in-flight runs.
const retryAfterSecs = "30"

type failure struct {
	target  error
	status  int
	code    string
	message string
}

// failures is matched in order. An empty message reports err.Error().
var failures = []failure{
	{host.ErrNodeNotFound, http.StatusNotFound, CodeJobNotFound, "Job not found"},
	{orchestrator.ErrNotAJob, http.StatusNotFound, CodeJobNotFound, "Job not found"},
	{orchestrator.ErrRunActive, http.StatusConflict, CodeRunActive, "Job already has an active run"},
	{orchestrator.ErrNoWorkflow, http.StatusUnprocessableEntity, CodeNoWorkflow, "Job has no usable workflow"},
	{orchestrator.ErrUnknownParameter, http.StatusBadRequest, CodeUnknownParameter, ""},
	{host.ErrDispatcherStopped, http.StatusServiceUnavailable, CodeShuttingDown, "Server is shutting down"},
}

// StatusFor returns the HTTP status and error code err maps to.
func StatusFor(err error) (int, string) {
	if f, ok := lookup(err); ok {
		return f.status, f.code
	}
	return http.StatusInternalServerError, CodeInternal
}

// FromError writes the error envelope for a job or run failure. Errors
// outside the job taxonomy are logged and reported as INTERNAL_ERROR.
func FromError(w http.ResponseWriter, err error) {
	f, ok := lookup(err)
	if !ok {
		slog.Error("job request failed", "error", err)
		Internal(w)
		return
	}
	msg := f.message
	if msg == "" {
		msg = err.Error()
	}
	if f.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSecs)
	}
	Error(w, f.status, f.code, msg, nil)
}

// Internal writes the generic 500 envelope.
func Internal(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred", nil)
}

func lookup(err error) (failure, bool) {
	for _, f := range failures {
		if errors.Is(err, f.target) {
			return f, true
		}
	}
	return failure{}, false
}
