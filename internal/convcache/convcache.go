// Package convcache stores converted execution graphs keyed by the content
// hash of the authoring graph they came from.
package convcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiranshivaraju/genrelay/internal/cache"
	"github.com/kiranshivaraju/genrelay/internal/fsutil"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

const (
	// DirName is the cache directory created next to a workflow file.
	DirName         = ".genrelay_cache"
	indexFile       = "conversion.json"
	convertedSuffix = "_converted.json"
	indexTTL        = 7 * 24 * time.Hour
)

// Index is the content of conversion.json.
type Index struct {
	WorkflowHash string    `json:"workflow_hash"`
	ConvertedAt  time.Time `json:"converted_at"`
	PromptFile   string    `json:"prompt_file"`
}

// Hit is a cached execution graph and the file it was loaded from.
type Hit struct {
	Graph models.ExecutionGraph
	Path  string
}

// Manager reads and writes conversion cache entries. The Redis tier is
// optional; a nil cache disables it.
type Manager struct {
	cache    cache.Cache
	tempRoot string
}

func NewManager(c cache.Cache, tempRoot string) *Manager {
	return &Manager{cache: c, tempRoot: tempRoot}
}

// Dir returns the cache directory for a workflow folder.
func (m *Manager) Dir(folder string) string {
	return filepath.Join(folder, DirName)
}

// PromptPath is the deterministic file name for a conversion of workflowPath
// with the given hash.
func (m *Manager) PromptPath(folder, workflowPath, hash string) string {
	stem := strings.TrimSuffix(filepath.Base(workflowPath), filepath.Ext(workflowPath))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "workflow"
	}
	short := hash
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(m.Dir(folder), stem+"_"+short+convertedSuffix)
}

// Get returns the cached graph for hash. Validity is hash equality plus the
// prompt file being present and decodable; nothing else is compared.
func (m *Manager) Get(ctx context.Context, folder, hash string) (Hit, bool) {
	if hash == "" {
		return Hit{}, false
	}

	if m.cache != nil {
		raw, ok, err := m.cache.Get(ctx, cache.ConversionKey(hash))
		if err != nil {
			slog.Warn("conversion index lookup failed", "hash", hash, "error", err)
		} else if ok {
			if hit, ok := load(string(raw)); ok {
				return hit, true
			}
		}
	}

	var idx Index
	if err := fsutil.ReadJSON(filepath.Join(m.Dir(folder), indexFile), &idx); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("conversion index unreadable", "folder", folder, "error", err)
		}
		return Hit{}, false
	}
	if idx.WorkflowHash != hash || idx.PromptFile == "" {
		return Hit{}, false
	}
	return load(filepath.Join(m.Dir(folder), idx.PromptFile))
}

// FromPointer checks a job's own prompt_path/prompt_hash pointer.
func (m *Manager) FromPointer(path, pointerHash, hash string) (Hit, bool) {
	if path == "" || pointerHash == "" || pointerHash != hash {
		return Hit{}, false
	}
	return load(path)
}

// Put persists g as the conversion of workflowPath under hash and returns
// the stored path.
func (m *Manager) Put(ctx context.Context, folder, workflowPath, hash string, g models.ExecutionGraph) (string, error) {
	path := m.PromptPath(folder, workflowPath, hash)
	if err := fsutil.WriteJSONAtomic(path, g); err != nil {
		return "", fmt.Errorf("writing converted graph: %w", err)
	}
	idx := Index{
		WorkflowHash: hash,
		ConvertedAt:  time.Now().UTC(),
		PromptFile:   filepath.Base(path),
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(m.Dir(folder), indexFile), idx); err != nil {
		return "", fmt.Errorf("writing conversion index: %w", err)
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, cache.ConversionKey(hash), []byte(path), indexTTL); err != nil {
			slog.Warn("conversion index mirror failed", "hash", hash, "error", err)
		}
	}
	return path, nil
}

// Fallback writes g to the process-scoped debug location. It is used when
// Put fails so the run can still reference a file on disk.
func (m *Manager) Fallback(runID string, g models.ExecutionGraph) (string, error) {
	path := filepath.Join(m.tempRoot, "debug", "converted_"+runID+".json")
	if err := fsutil.WriteJSONAtomic(path, g); err != nil {
		return "", fmt.Errorf("writing debug conversion: %w", err)
	}
	return path, nil
}

// Clear removes the cache directory of folder and its Redis index entry.
// Clearing an empty cache is not an error.
func (m *Manager) Clear(ctx context.Context, folder string) error {
	dir := m.Dir(folder)
	var idx Index
	if err := fsutil.ReadJSON(filepath.Join(dir, indexFile), &idx); err == nil && idx.WorkflowHash != "" && m.cache != nil {
		if err := m.cache.Delete(ctx, cache.ConversionKey(idx.WorkflowHash)); err != nil {
			slog.Warn("conversion index delete failed", "hash", idx.WorkflowHash, "error", err)
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing conversion cache: %w", err)
	}
	return nil
}

func load(path string) (Hit, bool) {
	if !fsutil.Exists(path) {
		return Hit{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("cached conversion unreadable", "path", path, "error", err)
		return Hit{}, false
	}
	g, err := models.ParseExecutionGraph(data)
	if err != nil {
		slog.Warn("cached conversion invalid", "path", path, "error", err)
		return Hit{}, false
	}
	return Hit{Graph: g, Path: path}, true
}
