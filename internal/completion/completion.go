// Package completion hands a run's terminal result from its worker to the
// watcher that ingests it on the privileged thread.
package completion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kiranshivaraju/genrelay/internal/fsutil"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// ErrNoResult is returned when a watcher gives up without seeing a result.
var ErrNoResult = errors.New("no completion result")

// Result is the terminal outcome of a run.
type Result struct {
	RunID          string               `json:"run_id"`
	Success        bool                 `json:"success"`
	Outputs        []models.BatchOutput `json:"outputs,omitempty"`
	BatchTotal     int                  `json:"batch_total,omitempty"`
	OutputPath     string               `json:"output_path,omitempty"`
	ElapsedSeconds float64              `json:"elapsed_time,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Channel carries Results. budget is the longest the run may still take;
// Wait returns ErrNoResult once it is spent.
type Channel interface {
	Signal(ctx context.Context, r Result) error
	Wait(ctx context.Context, runID string, budget time.Duration) (Result, error)
}

// MarkerChannel writes each result to <root>/results/<runID>.json and polls
// for it with a bounded number of attempts.
type MarkerChannel struct {
	dir      string
	attempts int
	interval time.Duration
}

func NewMarkerChannel(tempRoot string, attempts int, interval time.Duration) *MarkerChannel {
	if attempts < 1 {
		attempts = 300
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &MarkerChannel{dir: filepath.Join(tempRoot, "results"), attempts: attempts, interval: interval}
}

// MarkerPath is where the result of runID is written.
func (c *MarkerChannel) MarkerPath(runID string) string {
	return filepath.Join(c.dir, runID+".json")
}

func (c *MarkerChannel) Signal(_ context.Context, r Result) error {
	if r.RunID == "" {
		return fmt.Errorf("result has no run id")
	}
	if err := fsutil.WriteJSONAtomic(c.MarkerPath(r.RunID), r); err != nil {
		return fmt.Errorf("writing completion marker: %w", err)
	}
	return nil
}

// Wait polls for the marker, reads it and deletes it.
func (c *MarkerChannel) Wait(ctx context.Context, runID string, budget time.Duration) (Result, error) {
	path := c.MarkerPath(runID)
	interval := WatchInterval(c.interval, c.attempts, budget)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.attempts; attempt++ {
		if fsutil.Exists(path) {
			var r Result
			if err := fsutil.ReadJSON(path, &r); err != nil {
				return Result{}, fmt.Errorf("reading completion marker: %w", err)
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return r, fmt.Errorf("removing completion marker: %w", err)
			}
			return r, nil
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
	return Result{}, fmt.Errorf("%w after %d attempts", ErrNoResult, c.attempts)
}

// WatchInterval stretches base so that attempts polls cover budget.
func WatchInterval(base time.Duration, attempts int, budget time.Duration) time.Duration {
	if attempts < 1 {
		return base
	}
	need := (budget + time.Duration(attempts) - 1) / time.Duration(attempts)
	if need > base {
		return need
	}
	return base
}

// MemChannel passes results through buffered Go channels. It suits a single
// process where worker and watcher share memory.
type MemChannel struct {
	mu    sync.Mutex
	slots map[string]chan Result
}

func NewMemChannel() *MemChannel {
	return &MemChannel{slots: make(map[string]chan Result)}
}

func (c *MemChannel) slot(runID string) chan Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.slots[runID]
	if !ok {
		ch = make(chan Result, 1)
		c.slots[runID] = ch
	}
	return ch
}

func (c *MemChannel) Signal(_ context.Context, r Result) error {
	select {
	case c.slot(r.RunID) <- r:
		return nil
	default:
		return fmt.Errorf("run %s already signalled", r.RunID)
	}
}

func (c *MemChannel) Wait(ctx context.Context, runID string, budget time.Duration) (Result, error) {
	ch := c.slot(runID)
	defer func() {
		c.mu.Lock()
		delete(c.slots, runID)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		return Result{}, ErrNoResult
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

var (
	_ Channel = (*MarkerChannel)(nil)
	_ Channel = (*MemChannel)(nil)
)
