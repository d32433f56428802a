package orchestrator

import "fmt"

// Stage is where one run currently is.
type Stage string

const (
	StagePreparing   Stage = "Preparing"
	StageConverting  Stage = "Converting"
	StageUploading   Stage = "Uploading"
	StageSubmitting  Stage = "Submitting"
	StageQueued      Stage = "Queued"
	StageProcessing  Stage = "Processing"
	StageDownloading Stage = "Downloading"
	StageCompleted   Stage = "Completed"
	StageError       Stage = "Error"
)

// Downloading leads back to Submitting for the next batch iteration.
var transitions = map[Stage][]Stage{
	StagePreparing:   {StageConverting, StageUploading, StageSubmitting},
	StageConverting:  {StageUploading, StageSubmitting},
	StageUploading:   {StageSubmitting},
	StageSubmitting:  {StageQueued},
	StageQueued:      {StageProcessing, StageDownloading},
	StageProcessing:  {StageDownloading},
	StageDownloading: {StageSubmitting, StageCompleted},
}

// CanTransition reports whether a run may move from one stage to another.
// Any non-terminal stage may fail.
func CanTransition(from, to Stage) bool {
	if from == to {
		return from != StageCompleted && from != StageError
	}
	if to == StageError {
		return from != StageCompleted && from != StageError
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Stage) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid stage transition %s -> %s", from, to)
	}
	return nil
}
