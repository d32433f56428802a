package orchestrator

import (
	"fmt"
	"math"
)

// liveCeiling bounds every update except the last iteration's completion.
// Progress at or above 0.999 is terminal, so only that update may reach it.
const liveCeiling = 0.998

// ProgressFor maps a batch iteration's local fraction into the second half
// of the overall progress range.
func ProgressFor(index, batchCount int, local float64) float64 {
	n := max(1, batchCount)
	span := 0.5 / float64(n)
	local = math.Max(0, math.Min(1, local))
	if index >= n-1 && local >= 1 {
		return 1
	}
	return math.Min(0.5+span*float64(index)+span*local, liveCeiling)
}

// Local fractions of one iteration.
const (
	localSubmit      = 0.0
	localQueued      = 0.1
	localDownloading = 0.9
	localDone        = 1.0
)

// processingFraction maps the remote queue progress p into the iteration.
func processingFraction(p float64) float64 {
	return 0.2 + 0.6*p
}

func batchLabel(index, batchCount int) string {
	if batchCount > 1 {
		return fmt.Sprintf("Batch %d/%d", index+1, batchCount)
	}
	return "Run"
}
