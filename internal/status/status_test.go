package status_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/kiranshivaraju/genrelay/internal/cache/mock"
	"github.com/kiranshivaraju/genrelay/internal/host"
	"github.com/kiranshivaraju/genrelay/internal/status"
	"github.com/kiranshivaraju/genrelay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(t *testing.T) (*host.MemoryDocument, string) {
	t.Helper()
	doc := host.NewMemoryDocument()
	id, err := doc.CreateNode(context.Background(), models.NodeTypeJob)
	require.NoError(t, err)
	return doc, id
}

func TestStore_LoadDefaults(t *testing.T) {
	doc, id := newJob(t)
	p, err := status.NewStore(doc, nil).Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, p.State)
	assert.Empty(t, p.Runs)
}

func TestStore_LoadUnreadablePayload(t *testing.T) {
	doc, id := newJob(t)
	require.NoError(t, doc.SetAttribute(context.Background(), id, models.AttrStatusPayload, "{not json"))

	p, err := status.NewStore(doc, nil).Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, p.State)
}

func TestStore_LoadUnknownJob(t *testing.T) {
	_, err := status.NewStore(host.NewMemoryDocument(), nil).Load(context.Background(), "nope")
	assert.ErrorIs(t, err, host.ErrNodeNotFound)
}

func TestStore_SaveMirrors(t *testing.T) {
	ctx := context.Background()
	doc, id := newJob(t)
	c := mock.NewMemoryCache()
	s := status.NewStore(doc, c)

	p := models.NewStatusPayload()
	p.State = models.StateProcessing
	p.Message = "Run: processing"
	p.Progress = 0.6
	require.NoError(t, s.Save(ctx, id, p))

	display, _, err := doc.GetAttribute(ctx, id, models.AttrStatus)
	require.NoError(t, err)
	assert.Equal(t, "Run: processing", display)

	mirrored, ok, err := c.GetJobStatus(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Run: processing", mirrored)

	loaded, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.6, loaded.Progress)
	assert.Equal(t, models.StateProcessing, loaded.State)
}

func TestStore_SaveIgnoresCacheFailure(t *testing.T) {
	doc, id := newJob(t)
	c := mock.NewMemoryCache()
	c.Err = fmt.Errorf("redis down")

	err := status.NewStore(doc, c).Save(context.Background(), id, models.NewStatusPayload())
	assert.NoError(t, err)
}

func TestRecordTerminal_KeepsNewestTen(t *testing.T) {
	p := models.NewStatusPayload()
	p.CurrentRun = &models.RunRecord{ID: "live"}
	for i := 0; i < 12; i++ {
		status.RecordTerminal(&p, models.RunRecord{ID: fmt.Sprintf("run-%d", i)})
	}
	require.Len(t, p.Runs, models.HistoryLimit)
	assert.Equal(t, "run-2", p.Runs[0].ID)
	assert.Equal(t, "run-11", p.Runs[9].ID)
	assert.Nil(t, p.CurrentRun)
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, models.StateReady, status.Aggregate())
	assert.Equal(t, models.StateCompleted, status.Aggregate(models.StateCompleted, models.StateReady))
	assert.Equal(t, models.StateProcessing, status.Aggregate(models.StateCompleted, models.StateProcessing))
	assert.Equal(t, models.StateError, status.Aggregate(models.StateProcessing, models.StateError, models.StateCompleted))
}

func TestLifecycleFor(t *testing.T) {
	assert.Equal(t, models.StateProcessing, status.LifecycleFor(0.05, "Starting processing"))
	assert.Equal(t, models.StateCompleted, status.LifecycleFor(0.9995, "Run: completed"))
	assert.Equal(t, models.StateError, status.LifecycleFor(-1, "Error: boom"))
	assert.Equal(t, models.StateError, status.LifecycleFor(0.3, "error: lowercase"))
	assert.Equal(t, 1.0, status.ClampProgress(3))
	assert.Equal(t, -1.0, status.ClampProgress(-5))
}

func TestApply_RunLifecycle(t *testing.T) {
	p := models.NewStatusPayload()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	state := status.Apply(&p, status.Update{RunID: "r1", StartedAt: started, Progress: 0.05, Message: "Starting processing"}, started)
	assert.Equal(t, models.StateProcessing, state)
	require.NotNil(t, p.CurrentRun)
	assert.Equal(t, "r1", p.CurrentRun.ID)

	state = status.Apply(&p, status.Update{
		RunID: "r1", StartedAt: started, Progress: 1, Message: "Run: completed",
		Mutate: func(rec *models.RunRecord) { rec.OutputPath = "/out/genrelay_v001.png" },
	}, started.Add(time.Minute))
	assert.Equal(t, models.StateCompleted, state)
	assert.Nil(t, p.CurrentRun)
	require.Len(t, p.Runs, 1)
	assert.Equal(t, started, p.Runs[0].StartedAt)
	require.NotNil(t, p.Runs[0].CompletedAt)
	assert.Equal(t, "/out/genrelay_v001.png", p.LastOutput)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "current_run")
}

func TestApply_ErrorClearsLastOutput(t *testing.T) {
	p := models.NewStatusPayload()
	p.LastOutput = "/out/old.png"
	now := time.Now()

	state := status.Apply(&p, status.Update{RunID: "r2", Progress: -1, Message: "Error: Processing timed out", Error: "Processing timed out"}, now)
	assert.Equal(t, models.StateError, state)
	assert.Equal(t, "Processing timed out", p.LastError)
	assert.Empty(t, p.LastOutput)
	require.Len(t, p.Runs, 1)
	assert.Equal(t, -1.0, p.Runs[0].Progress)
	assert.Equal(t, "Processing timed out", p.Runs[0].Error)
}
