package comfy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// --- compute service wire types ---

type submitResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     float64                    `json:"number"`
	Error      *submitError               `json:"error,omitempty"`
	NodeErrors map[string]json.RawMessage `json:"node_errors,omitempty"`
}

type submitError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (e *submitError) describe() string {
	parts := []string{e.Message}
	if e.Details != "" {
		parts = append(parts, e.Details)
	}
	return strings.Join(parts, ": ")
}

type uploadResponse struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type queueResponse struct {
	Running []json.RawMessage `json:"queue_running"`
	Pending []json.RawMessage `json:"queue_pending"`
}

type rawHistoryEntry struct {
	Prompt  []json.RawMessage         `json:"prompt"`
	Outputs map[string]map[string]any `json:"outputs"`
	Status  rawStatus                 `json:"status"`
}

type rawStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Message   string            `json:"status_message"`
	Messages  []json.RawMessage `json:"messages"`
}

func (e rawHistoryEntry) decode(promptID string) HistoryEntry {
	he := HistoryEntry{
		PromptID: promptID,
		Outputs:  e.Outputs,
		Status: RunStatus{
			StatusStr: e.Status.StatusStr,
			Completed: e.Status.Completed,
			Message:   e.Status.Message,
		},
	}
	if he.Outputs == nil {
		he.Outputs = map[string]map[string]any{}
	}
	if len(e.Prompt) > 0 {
		_ = json.Unmarshal(e.Prompt[0], &he.Number)
	}
	if len(e.Prompt) > 2 {
		var g models.ExecutionGraph
		if err := json.Unmarshal(e.Prompt[2], &g); err == nil && g.Validate() == nil {
			he.Graph = g
		}
	}
	if he.Status.Message == "" && he.Status.StatusStr == StatusError {
		he.Status.Message = executionErrorMessage(e.Status.Messages)
	}
	return he
}

// executionErrorMessage pulls the exception text out of an
// ["execution_error", {...}] status message.
func executionErrorMessage(messages []json.RawMessage) string {
	for _, raw := range messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var kind string
		if err := json.Unmarshal(pair[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var detail struct {
			NodeID    string `json:"node_id"`
			NodeType  string `json:"node_type"`
			Exception string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &detail); err != nil {
			continue
		}
		msg := strings.TrimSpace(detail.Exception)
		if detail.NodeType != "" {
			msg = fmt.Sprintf("%s (node %s %s)", msg, detail.NodeID, detail.NodeType)
		}
		return msg
	}
	return ""
}

func queueItemID(raw json.RawMessage) string {
	var item []json.RawMessage
	if err := json.Unmarshal(raw, &item); err != nil || len(item) < 2 {
		return ""
	}
	var id string
	_ = json.Unmarshal(item[1], &id)
	return id
}
