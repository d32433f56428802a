// Package status keeps a job's durable StatusPayload in the host document.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/genrelay/internal/cache"
	"github.com/kiranshivaraju/genrelay/internal/host"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// displayTTL bounds how long the Redis mirror of a display status lives.
const displayTTL = 24 * time.Hour

// Store reads and writes StatusPayloads. The Redis mirror is optional.
type Store struct {
	doc   host.Document
	cache cache.Cache
}

func NewStore(doc host.Document, c cache.Cache) *Store {
	return &Store{doc: doc, cache: c}
}

// Load returns the persisted payload, or a fresh Ready payload when the job
// has none or it cannot be decoded.
func (s *Store) Load(ctx context.Context, jobID string) (models.StatusPayload, error) {
	raw, ok, err := s.doc.GetAttribute(ctx, jobID, models.AttrStatusPayload)
	if err != nil {
		return models.StatusPayload{}, fmt.Errorf("reading status payload: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return models.NewStatusPayload(), nil
	}
	var p models.StatusPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("discarding unreadable status payload", "job_id", jobID, "error", err)
		return models.NewStatusPayload(), nil
	}
	if p.Runs == nil {
		p.Runs = []models.RunRecord{}
	}
	return p, nil
}

// Save writes the payload and mirrors its display status onto the job's
// status attribute and Redis.
func (s *Store) Save(ctx context.Context, jobID string, p models.StatusPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding status payload: %w", err)
	}
	if err := s.doc.SetAttribute(ctx, jobID, models.AttrStatusPayload, string(data)); err != nil {
		return fmt.Errorf("writing status payload: %w", err)
	}
	display := Display(p)
	if err := s.doc.SetAttribute(ctx, jobID, models.AttrStatus, display); err != nil {
		return fmt.Errorf("writing status display: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetJobStatus(ctx, jobID, display, displayTTL); err != nil {
			slog.Warn("failed to mirror job status", "job_id", jobID, "error", err)
		}
	}
	return nil
}

// Display is the short string shown on the job node.
func Display(p models.StatusPayload) string {
	if p.Message != "" {
		return p.Message
	}
	if p.State != "" {
		return string(p.State)
	}
	return string(models.StateReady)
}

// RecordTerminal appends rec to the history ring, keeping the newest
// HistoryLimit entries, and clears the current run.
func RecordTerminal(p *models.StatusPayload, rec models.RunRecord) {
	p.Runs = append(p.Runs, rec)
	if over := len(p.Runs) - models.HistoryLimit; over > 0 {
		p.Runs = append([]models.RunRecord(nil), p.Runs[over:]...)
	}
	p.CurrentRun = nil
}

var statePriority = map[models.State]int{
	models.StateReady:      0,
	models.StateCompleted:  1,
	models.StateProcessing: 2,
	models.StateError:      3,
}

// Aggregate folds iteration states into one job state.
func Aggregate(states ...models.State) models.State {
	out := models.StateReady
	for _, s := range states {
		if statePriority[s] > statePriority[out] {
			out = s
		}
	}
	return out
}

// ClampProgress limits progress to [-1, 1] and snaps values at or above
// 0.999 to 1.
func ClampProgress(progress float64) float64 {
	if progress < -1 {
		return -1
	}
	if progress >= 0.999 {
		return 1
	}
	return progress
}

// LifecycleFor derives the lifecycle state of an update.
func LifecycleFor(progress float64, message string) models.State {
	progress = ClampProgress(progress)
	if progress < 0 || strings.HasPrefix(strings.ToLower(message), "error") {
		return models.StateError
	}
	if progress >= 1 {
		return models.StateCompleted
	}
	return models.StateProcessing
}
