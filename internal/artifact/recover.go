package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/genrelay/internal/comfy"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// Recoverer finds outputs of an earlier run that the compute service
// reused instead of re-emitting.
type Recoverer struct {
	client    comfy.Client
	collector *Collector
	lookback  int
	prefix    string
}

// NewRecoverer searches at most lookback history entries. prefix, when set,
// is the output filename prefix used by the secondary match.
func NewRecoverer(client comfy.Client, collector *Collector, lookback int, prefix string) *Recoverer {
	if lookback <= 0 {
		lookback = 64
	}
	return &Recoverer{client: client, collector: collector, lookback: lookback, prefix: prefix}
}

// Recover searches history most recent first, skipping excludePromptID, for
// a successful run whose graph hashes equal to submitted and which has
// outputs. Failing that it matches outputs by filename prefix. No match
// returns an empty slice and no error.
func (r *Recoverer) Recover(ctx context.Context, submitted models.ExecutionGraph, excludePromptID string) ([]models.Artifact, error) {
	want, err := submitted.Hash()
	if err != nil {
		return nil, fmt.Errorf("hashing submitted graph: %w", err)
	}
	entries, err := r.client.FullHistory(ctx, r.lookback)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	for _, e := range entries {
		if e.PromptID == excludePromptID || e.Status.StatusStr != comfy.StatusSuccess || e.Graph == nil {
			continue
		}
		h, err := e.Graph.Hash()
		if err != nil || h != want {
			continue
		}
		if found := r.collector.Collect(e.Outputs, submitted); len(found) > 0 {
			slog.Info("recovered outputs by graph hash", "prompt_id", e.PromptID, "count", len(found))
			return found, nil
		}
	}

	prefixes := r.prefixes(submitted)
	if len(prefixes) == 0 {
		return nil, nil
	}
	for _, e := range entries {
		if e.PromptID == excludePromptID || e.Status.StatusStr != comfy.StatusSuccess {
			continue
		}
		var matched []models.Artifact
		for _, a := range r.collector.Collect(e.Outputs, submitted) {
			if hasAnyPrefix(path.Base(filepath.ToSlash(a.Filename)), prefixes) {
				matched = append(matched, a)
			}
		}
		if len(matched) > 0 {
			slog.Info("recovered outputs by filename prefix", "prompt_id", e.PromptID, "count", len(matched))
			return matched, nil
		}
	}
	return nil, nil
}

// prefixes is the configured prefix, else the filename_prefix inputs of
// the submitted graph's output nodes.
func (r *Recoverer) prefixes(g models.ExecutionGraph) []string {
	if r.prefix != "" {
		return []string{r.prefix}
	}
	var out []string
	for _, id := range g.NodeIDs() {
		n := g[id]
		if n == nil {
			continue
		}
		if p, ok := n.Inputs["filename_prefix"].(string); ok && strings.TrimSpace(p) != "" {
			out = append(out, path.Base(filepath.ToSlash(p)))
		}
	}
	return out
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
