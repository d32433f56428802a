package archive_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/genrelay/internal/archive"
	"github.com/kiranshivaraju/genrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "7/run-1/genrelay_v001.png", archive.ObjectKey("7", "run-1", "/out/Job_7/2D/genrelay_v001.png"))
	assert.Equal(t, "a_b/unknown/x.obj", archive.ObjectKey("a/b", " ", "x.obj"))
	assert.Equal(t, "_/r/f.png", archive.ObjectKey("..", "r", "f.png"))
}

func TestNewMinIOArchiver_RejectsScheme(t *testing.T) {
	_, err := archive.NewMinIOArchiver(context.Background(), config.ArchiveConfig{
		Endpoint: "http://localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")
}

func setupMinIO(t *testing.T) config.ArchiveConfig {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "genrelay",
			"MINIO_ROOT_PASSWORD": "genrelay-secret",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	return config.ArchiveConfig{
		Endpoint:  host + ":" + port.Port(),
		AccessKey: "genrelay",
		SecretKey: "genrelay-secret",
		Bucket:    "genrelay-test",
		Region:    "us-east-1",
	}
}

func TestMinIOArchiver_Put(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	cfg := setupMinIO(t)
	ctx := context.Background()

	a, err := archive.NewMinIOArchiver(ctx, cfg)
	require.NoError(t, err)

	// Second construction sees the existing bucket.
	_, err = archive.NewMinIOArchiver(ctx, cfg)
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "genrelay_v001.png")
	require.NoError(t, os.WriteFile(local, []byte("png"), 0o644))

	key, err := a.Put(ctx, "7", "run-1", local)
	require.NoError(t, err)
	assert.Equal(t, "7/run-1/genrelay_v001.png", key)

	ok, err := a.Stat(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Stat(ctx, "7/run-1/missing.png")
	require.NoError(t, err)
	assert.False(t, ok)
}
