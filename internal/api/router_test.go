package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genrelay/internal/api"
	mw "github.com/kiranshivaraju/genrelay/internal/api/middleware"
	cachemock "github.com/kiranshivaraju/genrelay/internal/cache/mock"
	storemock "github.com/kiranshivaraju/genrelay/internal/store/mock"
	"github.com/kiranshivaraju/genrelay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const runsKey = "gr_runs_1234567890abcdef"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(runsKey), bcrypt.MinCost)
	require.NoError(t, err)
	s := storemock.NewMockStore(&models.APIKey{
		ID:        uuid.New(),
		KeyHash:   string(hash),
		KeyPrefix: runsKey[:8],
		Scopes:    []string{models.ScopeRuns},
	})
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(s),
		RateLimit: mw.NewRateLimit(cachemock.NewMemoryCache(), 60),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
	})
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/jobs"},
		{"GET", "/api/v1/jobs/1"},
		{"PATCH", "/api/v1/jobs/1/values"},
		{"POST", "/api/v1/jobs/1/runs"},
		{"GET", "/api/v1/jobs/1/status"},
		{"DELETE", "/api/v1/jobs/1/cache"},
		{"POST", "/api/v1/keys"},
		{"GET", "/api/v1/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_AdminEndpoints_RequireAdminScope(t *testing.T) {
	router := newTestRouter(t)

	for _, ep := range []struct{ method, path string }{
		{"DELETE", "/api/v1/jobs/1/cache"},
		{"GET", "/api/v1/keys"},
		{"DELETE", "/api/v1/keys/" + uuid.NewString()},
	} {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			req.Header.Set("Authorization", "Bearer "+runsKey)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusForbidden, w.Code)
		})
	}
}

func TestRouter_UnwiredHandlerIsNotImplemented(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+runsKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
