package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/genrelay/internal/api/response"
	"github.com/kiranshivaraju/genrelay/internal/store"
	"github.com/kiranshivaraju/genrelay/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix starts every raw API key.
const KeyPrefix = "gr_"

// keyPrefixLen matches the prefix length the auth middleware indexes on.
const keyPrefixLen = 8

var validScopes = []string{models.ScopeRuns, models.ScopeAdmin}

// KeyStore is the part of the store the key handlers use.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// CreatedKey is returned once, when a key is created. Key is never stored.
type CreatedKey struct {
	Key    string         `json:"key"`
	APIKey *models.APIKey `json:"api_key"`
}

// GenerateKey builds a new API key record and its raw secret.
func GenerateKey(name string, scopes []string) (string, *models.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generating key: %w", err)
	}
	return newKey(name, KeyPrefix+hex.EncodeToString(buf), scopes)
}

// KeyFromSecret builds a key record for a raw secret chosen by the operator.
func KeyFromSecret(name, raw string, scopes []string) (*models.APIKey, error) {
	_, key, err := newKey(name, raw, scopes)
	return key, err
}

func newKey(name, raw string, scopes []string) (string, *models.APIKey, error) {
	if len(raw) < keyPrefixLen {
		return "", nil, fmt.Errorf("key must be at least %d characters", keyPrefixLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key: %w", err)
	}
	now := time.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:keyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/keys.
func NewCreateKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{models.ScopeRuns}
		}
		for _, sc := range req.Scopes {
			if !slices.Contains(validScopes, sc) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown scope "+sc, validScopes)
				return
			}
		}

		raw, key, err := GenerateKey(req.Name, req.Scopes)
		if err != nil {
			slog.Error("api key generation failed", "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to create API key", nil)
			return
		}
		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "API key already exists", nil)
				return
			}
			slog.Error("api key create failed", "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to create API key", nil)
			return
		}
		slog.Info("api key created", "key_id", key.ID, "name", key.Name, "scopes", key.Scopes)
		response.Created(w, CreatedKey{Key: raw, APIKey: key})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/keys.
func NewListKeysHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.ListAPIKeys(r.Context())
		if err != nil {
			slog.Error("api key list failed", "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to list API keys", nil)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for
// DELETE /api/v1/keys/{keyID}.
func NewRevokeKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "keyID must be a UUID", nil)
			return
		}
		if err := s.RevokeAPIKey(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
				return
			}
			slog.Error("api key revoke failed", "key_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to revoke API key", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
