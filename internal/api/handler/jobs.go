package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/genrelay/internal/api/response"
	"github.com/kiranshivaraju/genrelay/internal/orchestrator"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// JobService is the orchestrator surface the job handlers depend on.
type JobService interface {
	CreateJob(ctx context.Context, spec orchestrator.JobSpec) (string, error)
	Job(ctx context.Context, jobID string) (models.JobSummary, error)
	Jobs(ctx context.Context) ([]models.JobSummary, error)
	SetValues(ctx context.Context, jobID string, values map[string]string) error
	Trigger(ctx context.Context, jobID string) (string, error)
	Status(ctx context.Context, jobID string) (models.StatusPayload, bool, error)
	ClearCache(ctx context.Context, jobID string) error
}

// StatusResponse is the body of GET /jobs/{jobID}/status.
type StatusResponse struct {
	JobID  string               `json:"job_id"`
	Stale  bool                 `json:"stale"`
	Status models.StatusPayload `json:"status"`
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec orchestrator.JobSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(spec.Workflow) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "workflow is required", nil)
			return
		}
		if spec.BatchCount < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "batch_count must not be negative", nil)
			return
		}

		id, err := svc.CreateJob(r.Context(), spec)
		if err != nil {
			response.FromError(w, err)
			return
		}
		sum, err := svc.Job(r.Context(), id)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.Created(w, sum)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := svc.Jobs(r.Context())
		if err != nil {
			response.FromError(w, err)
			return
		}
		page, limit := pagination(r)
		total := len(jobs)
		from := min((page-1)*limit, total)
		to := min(from+limit, total)
		response.Collection(w, jobs[from:to], response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: to < total,
		})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := svc.Job(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, sum)
	}
}

// NewSetValuesHandler returns an http.HandlerFunc for
// PATCH /api/v1/jobs/{jobID}/values. The body is a flat object of parameter
// keys or knob names to values; numbers and booleans are accepted as is.
func NewSetValuesHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(body) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "at least one value is required", nil)
			return
		}
		values := make(map[string]string, len(body))
		for k, v := range body {
			s, ok := valueString(v)
			if !ok {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "value of "+k+" must be a string, number or boolean", nil)
				return
			}
			values[k] = s
		}

		jobID := chi.URLParam(r, "jobID")
		if err := svc.SetValues(r.Context(), jobID, values); err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, map[string]any{"job_id": jobID, "updated": len(values)})
	}
}

// NewTriggerRunHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/runs. The run continues after the response.
func NewTriggerRunHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		runID, err := svc.Trigger(r.Context(), jobID)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.Accepted(w, runID, "/api/v1/jobs/"+jobID+"/status", map[string]string{
			"job_id": jobID,
			"run_id": runID,
			"status": "queued",
		})
	}
}

// NewStatusHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/status.
func NewStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		p, stale, err := svc.Status(r.Context(), jobID)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, StatusResponse{JobID: jobID, Stale: stale, Status: p})
	}
}

// NewListRunsHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/runs, newest first.
func NewListRunsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _, err := svc.Status(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			response.FromError(w, err)
			return
		}
		runs := make([]models.RunRecord, 0, len(p.Runs)+1)
		if p.CurrentRun != nil {
			runs = append(runs, *p.CurrentRun)
		}
		for i := len(p.Runs) - 1; i >= 0; i-- {
			runs = append(runs, p.Runs[i])
		}
		response.JSON(w, runs)
	}
}

// NewClearCacheHandler returns an http.HandlerFunc for
// DELETE /api/v1/jobs/{jobID}/cache.
func NewClearCacheHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearCache(r.Context(), chi.URLParam(r, "jobID")); err != nil {
			response.FromError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func valueString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func pagination(r *http.Request) (page, limit int) {
	page, limit = 1, 50
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 200)
	}
	return page, limit
}
