package orchestrator

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/genrelay/internal/status"
	"github.com/kiranshivaraju/genrelay/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StagePreparing, StageConverting, true},
		{StagePreparing, StageSubmitting, true},
		{StageConverting, StageUploading, true},
		{StageSubmitting, StageQueued, true},
		{StageQueued, StageDownloading, true},
		{StageDownloading, StageSubmitting, true},
		{StageDownloading, StageCompleted, true},
		{StageProcessing, StageProcessing, true},
		{StageQueued, StageError, true},
		{StagePreparing, StageCompleted, false},
		{StageSubmitting, StageDownloading, false},
		{StageProcessing, StageQueued, false},
		{StageCompleted, StageError, false},
		{StageError, StageError, false},
		{StageCompleted, StageSubmitting, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestRunContext_AdvanceRejectsSkips(t *testing.T) {
	rc := newRunContext("job", "run", nil, time.Time{}, models.NewStatusPayload())
	assert.NoError(t, rc.advance(StageSubmitting))
	assert.Error(t, rc.advance(StageCompleted))
	assert.Equal(t, StageSubmitting, rc.Stage())
}

func TestProgressFor_MonotonicAcrossBatches(t *testing.T) {
	locals := []float64{localSubmit, localQueued, processingFraction(0), processingFraction(0.5), processingFraction(1), localDownloading, localDone}
	for _, n := range []int{1, 2, 3, 7, 50, 64, 500} {
		prev := 0.0
		for i := 0; i < n; i++ {
			for _, l := range locals {
				p := ProgressFor(i, n, l)
				assert.GreaterOrEqual(t, p, prev, "batch %d/%d local %v", i, n, l)
				assert.LessOrEqual(t, p, 1.0)
				prev = p
			}
		}
		assert.Equal(t, 1.0, prev)
	}
}

func TestProgressFor_Values(t *testing.T) {
	assert.Equal(t, 0.5, ProgressFor(0, 1, localSubmit))
	assert.InDelta(t, 0.75, ProgressFor(0, 2, localDone), 1e-9)
	assert.InDelta(t, 0.75, ProgressFor(1, 2, localSubmit), 1e-9)
	assert.Equal(t, 1.0, ProgressFor(0, 1, 5))
	assert.Equal(t, 0.5, ProgressFor(0, 0, -1))
}

func TestProgressFor_OnlyFinalUpdateIsTerminal(t *testing.T) {
	locals := []float64{localSubmit, localQueued, processingFraction(1), localDownloading, localDone}
	for _, n := range []int{1, 49, 50, 64, 1000} {
		for i := 0; i < n; i++ {
			for _, l := range locals {
				p := ProgressFor(i, n, l)
				final := i == n-1 && l == localDone
				if final {
					assert.Equal(t, 1.0, p)
					continue
				}
				assert.Less(t, p, 0.999, "batch %d/%d local %v", i, n, l)
				assert.Equal(t, models.StateProcessing, status.LifecycleFor(p, "Batch: downloading result"))
			}
		}
	}
}

func TestBatchLabel(t *testing.T) {
	assert.Equal(t, "Run", batchLabel(0, 1))
	assert.Equal(t, "Batch 2/3", batchLabel(1, 3))
}
