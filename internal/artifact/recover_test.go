package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/kiranshivaraju/genrelay/internal/comfy"
	"github.com/kiranshivaraju/genrelay/internal/comfy/mock"
	"github.com/kiranshivaraju/genrelay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submittedGraph() models.ExecutionGraph {
	return models.ExecutionGraph{
		"3": {ClassType: "KSampler", Inputs: map[string]any{"seed": float64(42)}},
		"9": {ClassType: "SaveImage", Inputs: map[string]any{"filename_prefix": "shot", "images": []any{"3", float64(0)}}},
	}
}

func TestRecoverer_HashMatch(t *testing.T) {
	submitted := submittedGraph()
	older := mock.SuccessEntry("p-1", "9", "shot_00001_.png")
	older.Graph = submitted.Clone()
	other := mock.SuccessEntry("p-0", "9", "shot_00000_.png")
	other.Graph = models.ExecutionGraph{"1": {ClassType: "SaveImage", Inputs: map[string]any{}}}

	client := &mock.MockClient{
		FullHistoryFunc: func(ctx context.Context, maxItems int) ([]comfy.HistoryEntry, error) {
			assert.Equal(t, 16, maxItems)
			current := mock.SuccessEntry("p-2", "9")
			current.Graph = submitted.Clone()
			return []comfy.HistoryEntry{*current, *other, *older}, nil
		},
	}

	got, err := NewRecoverer(client, NewCollector(nil), 16, "").Recover(context.Background(), submitted, "p-2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "shot_00001_.png", got[0].Filename)
}

func TestRecoverer_PrefixFallback(t *testing.T) {
	entry := mock.SuccessEntry("p-5", "9", "unrelated.png", "shot_00007_.png")
	client := &mock.MockClient{
		FullHistoryFunc: func(ctx context.Context, maxItems int) ([]comfy.HistoryEntry, error) {
			return []comfy.HistoryEntry{*entry}, nil
		},
	}

	got, err := NewRecoverer(client, NewCollector(nil), 0, "").Recover(context.Background(), submittedGraph(), "p-9")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "shot_00007_.png", got[0].Filename)
}

func TestRecoverer_ConfiguredPrefixWins(t *testing.T) {
	entry := mock.SuccessEntry("p-5", "9", "shot_00007_.png", "beauty_0001.png")
	client := &mock.MockClient{
		FullHistoryFunc: func(ctx context.Context, maxItems int) ([]comfy.HistoryEntry, error) {
			return []comfy.HistoryEntry{*entry}, nil
		},
	}

	got, err := NewRecoverer(client, NewCollector(nil), 0, "beauty_").Recover(context.Background(), submittedGraph(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "beauty_0001.png", got[0].Filename)
}

func TestRecoverer_SkipsFailedAndExcluded(t *testing.T) {
	failed := mock.SuccessEntry("p-1", "9", "shot_00001_.png")
	failed.Status.StatusStr = comfy.StatusError
	excluded := mock.SuccessEntry("p-2", "9", "shot_00002_.png")

	client := &mock.MockClient{
		FullHistoryFunc: func(ctx context.Context, maxItems int) ([]comfy.HistoryEntry, error) {
			return []comfy.HistoryEntry{*excluded, *failed}, nil
		},
	}

	got, err := NewRecoverer(client, NewCollector(nil), 0, "").Recover(context.Background(), submittedGraph(), "p-2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecoverer_HistoryError(t *testing.T) {
	client := &mock.MockClient{
		FullHistoryFunc: func(ctx context.Context, maxItems int) ([]comfy.HistoryEntry, error) {
			return nil, comfy.ErrUnreachable
		},
	}
	_, err := NewRecoverer(client, NewCollector(nil), 0, "").Recover(context.Background(), submittedGraph(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, comfy.ErrUnreachable))
}
