package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/genrelay/internal/host"
	"github.com/kiranshivaraju/genrelay/internal/store"
	"github.com/kiranshivaraju/genrelay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("genrelay_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	// Re-running is a no-op
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// --- Document Tests ---

func TestDocument_CreateAndAttributes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	id, err := s.CreateNode(ctx, models.NodeTypeJob)
	require.NoError(t, err)

	typ, err := s.NodeType(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeJob, typ)

	_, found, err := s.GetAttribute(ctx, id, models.AttrStatus)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetAttribute(ctx, id, models.AttrStatus, "Ready"))
	require.NoError(t, s.SetAttribute(ctx, id, models.AttrStatus, "Processing"))

	v, found, err := s.GetAttribute(ctx, id, models.AttrStatus)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Processing", v)

	require.NoError(t, s.SetAttribute(ctx, id, models.AttrBatchCount, "3"))
	attrs, err := s.Attributes(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		models.AttrStatus:     "Processing",
		models.AttrBatchCount: "3",
	}, attrs)
}

func TestDocument_UnknownNode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	_, _, err := s.GetAttribute(ctx, "missing", "status")
	assert.ErrorIs(t, err, host.ErrNodeNotFound)

	err = s.SetAttribute(ctx, "missing", "status", "x")
	assert.ErrorIs(t, err, host.ErrNodeNotFound)

	_, err = s.Attributes(ctx, "missing")
	assert.ErrorIs(t, err, host.ErrNodeNotFound)
}

func TestDocument_ListNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job, err := s.CreateNode(ctx, models.NodeTypeJob)
	require.NoError(t, err)
	read, err := s.CreateNode(ctx, models.NodeTypeRead)
	require.NoError(t, err)

	jobs, err := s.ListNodes(ctx, models.NodeTypeJob)
	require.NoError(t, err)
	assert.Equal(t, []string{job}, jobs)

	all, err := s.ListNodes(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{job, read}, all)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "nuke-plugin",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "gr_abcd1",
		Scopes:    []string{models.ScopeRuns},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "gr_abcd1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{models.ScopeRuns}, keys[0].Scopes)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "gr_abcd1")
	require.NoError(t, err)
	require.NotNil(t, keys[0].LastUsedAt)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{ID: uuid.New(), Name: "a", KeyHash: "h", KeyPrefix: "gr_dup00", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	assert.ErrorIs(t, s.CreateAPIKey(ctx, key), store.ErrDuplicateKey)
}

func TestAPIKey_ListAndRevoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, name := range []string{"one", "two"} {
		require.NoError(t, s.CreateAPIKey(ctx, &models.APIKey{
			ID: uuid.New(), Name: name, KeyHash: "h", KeyPrefix: "gr_" + name,
			Scopes: []string{models.ScopeAdmin}, CreatedAt: now, UpdatedAt: now,
		}))
	}

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	require.NoError(t, s.RevokeAPIKey(ctx, keys[0].ID))
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, keys[0].ID), store.ErrNotFound)

	keys, err = s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}
