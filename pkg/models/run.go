package models

import "time"

// State is the user-visible lifecycle of a job.
type State string

const (
	StateReady      State = "Ready"
	StateProcessing State = "Processing"
	StateCompleted  State = "Completed"
	StateError      State = "Error"
)

// HistoryLimit is how many terminal RunRecords a StatusPayload keeps.
const HistoryLimit = 10

// RunRecord describes one run of a job. While the run is live it is the
// payload's CurrentRun; once terminal it is appended to Runs.
type RunRecord struct {
	ID             string        `json:"id"`
	Status         State         `json:"status"`
	Message        string        `json:"message,omitempty"`
	Progress       float64       `json:"progress"`
	StartedAt      time.Time     `json:"started_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Error          string        `json:"error,omitempty"`
	PromptID       string        `json:"prompt_id,omitempty"`
	BatchIndex     int           `json:"batch_index,omitempty"`
	BatchTotal     int           `json:"batch_total,omitempty"`
	OutputPath     string        `json:"output_path,omitempty"`
	OutputKind     ArtifactKind  `json:"output_kind,omitempty"`
	ElapsedSeconds float64       `json:"elapsed_time,omitempty"`
	ConvertedPath  string        `json:"converted_prompt_path,omitempty"`
	ConversionHit  bool          `json:"conversion_cached,omitempty"`
	AutoImport     bool          `json:"auto_import"`
	Artifacts      []Artifact    `json:"outputs,omitempty"`
	Outputs        []BatchOutput `json:"batch_outputs,omitempty"`
}

// BatchOutput is one materialized result of one batch iteration.
type BatchOutput struct {
	BatchIndex     int          `json:"batch_index"`
	BatchTotal     int          `json:"batch_total"`
	PromptID       string       `json:"prompt_id,omitempty"`
	OutputPath     string       `json:"output_path"`
	Kind           ArtifactKind `json:"kind"`
	ConvertedFrom  string       `json:"converted_from,omitempty"`
	ElapsedSeconds float64      `json:"elapsed_time"`
	SeedOffset     int64        `json:"seed_offset"`
}

// StatusPayload is the durable, host-document-resident status of a job.
type StatusPayload struct {
	Status     string      `json:"status"`
	State      State       `json:"state"`
	Message    string      `json:"message"`
	Progress   float64     `json:"progress"`
	RunID      string      `json:"run_id,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
	CurrentRun *RunRecord  `json:"current_run,omitempty"`
	Runs       []RunRecord `json:"runs"`
	LastError  string      `json:"last_error,omitempty"`
	AutoImport bool        `json:"auto_import"`
	ReadNodeID string      `json:"read_node_id,omitempty"`
	LastOutput string      `json:"last_output,omitempty"`
}

// NewStatusPayload returns the payload of a job that has never run.
func NewStatusPayload() StatusPayload {
	return StatusPayload{
		Status:  string(StateReady),
		State:   StateReady,
		Message: string(StateReady),
		Runs:    []RunRecord{},
	}
}
