package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genrelay/internal/config"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// stderrTail bounds how much converter output ends up in an error message.
const stderrTail = 2048

// ExternalConverter runs a converter program that reads an authoring graph
// file and writes the execution graph file. The program is invoked as
//
//	<command> <args...> <input.json> <output.json> <servicePath>
type ExternalConverter struct {
	command  string
	args     []string
	timeout  time.Duration
	scratchDir string
}

// NewExternalConverter creates a converter that stages files under
// tempRoot/temp.
func NewExternalConverter(cfg config.ConverterConfig, tempRoot string) *ExternalConverter {
	return &ExternalConverter{
		command:  cfg.Command,
		args:     cfg.Args,
		timeout:  cfg.Timeout,
		scratchDir: filepath.Join(tempRoot, "temp"),
	}
}

func (c *ExternalConverter) Name() string { return "external" }

func (c *ExternalConverter) Convert(ctx context.Context, g *models.AuthoringGraph, servicePath string) (models.ExecutionGraph, error) {
	if strings.TrimSpace(servicePath) == "" {
		return nil, ErrServicePathUnset
	}
	if _, err := os.Stat(servicePath); err != nil {
		return nil, fmt.Errorf("%w: %s does not exist", ErrServicePathUnset, servicePath)
	}
	if g == nil || g.Doc == nil {
		return nil, fmt.Errorf("%w: no workflow data", ErrConversionFailed)
	}

	if err := os.MkdirAll(c.scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating converter scratch dir: %w", err)
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	inputPath := filepath.Join(c.scratchDir, "workflow_input_"+token+".json")
	outputPath := filepath.Join(c.scratchDir, "workflow_output_"+token+".json")
	defer func() {
		for _, p := range []string{inputPath, outputPath} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("failed to remove converter scratch file", "path", p, "error", err)
			}
		}
	}()

	data, err := json.Marshal(g.Doc)
	if err != nil {
		return nil, fmt.Errorf("encoding workflow: %w", err)
	}
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing converter input: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.args...), inputPath, outputPath, servicePath)
	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Info("launching external conversion", "command", c.command, "service_path", servicePath)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v%s", ErrConversionFailed, err, formatStderr(stderr.Bytes()))
	}

	out, err := os.ReadFile(outputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: converter did not produce an output file", ErrConversionFailed)
		}
		return nil, fmt.Errorf("reading converter output: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGraph, err)
	}
	if !models.LooksLikeExecutionGraph(doc) {
		return nil, fmt.Errorf("%w: output is not an execution graph", ErrMalformedGraph)
	}
	graph, err := models.ExecutionGraphFromDoc(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGraph, err)
	}

	slog.Info("external conversion succeeded", "nodes", len(graph), "duration_ms", time.Since(start).Milliseconds())
	return graph, nil
}

func formatStderr(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return ""
	}
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return ": " + s
}

var _ models.Converter = (*ExternalConverter)(nil)
