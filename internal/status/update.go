package status

import (
	"time"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// Update is one observable change of a live run.
type Update struct {
	RunID      string
	StartedAt  time.Time
	Progress   float64
	Message    string
	Error      string
	AutoImport bool
	// Mutate, when set, adds run specific fields to the current record.
	Mutate func(rec *models.RunRecord)
}

// Apply folds u into p. A terminal update moves the run into history.
func Apply(p *models.StatusPayload, u Update, now time.Time) models.State {
	progress := ClampProgress(u.Progress)
	state := LifecycleFor(progress, u.Message)

	rec := p.CurrentRun
	if rec == nil || rec.ID != u.RunID {
		rec = &models.RunRecord{ID: u.RunID, StartedAt: u.StartedAt}
	}
	rec.Status = state
	rec.Message = u.Message
	rec.Progress = progress
	rec.UpdatedAt = now
	rec.AutoImport = u.AutoImport
	if u.Error != "" {
		rec.Error = u.Error
	}
	if u.Mutate != nil {
		u.Mutate(rec)
	}
	if state == models.StateCompleted && rec.CompletedAt == nil {
		rec.CompletedAt = &now
	}

	p.Status = u.Message
	p.State = state
	p.Message = u.Message
	p.Progress = progress
	p.RunID = u.RunID
	p.UpdatedAt = now
	p.AutoImport = u.AutoImport
	if u.Error != "" {
		p.LastError = u.Error
	}
	if rec.OutputPath != "" {
		p.LastOutput = rec.OutputPath
	}

	switch state {
	case models.StateCompleted, models.StateError:
		if state == models.StateError {
			p.LastOutput = ""
			if rec.CompletedAt == nil {
				rec.CompletedAt = &now
			}
		}
		RecordTerminal(p, *rec)
	default:
		p.CurrentRun = rec
	}
	return state
}
