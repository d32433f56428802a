package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/genrelay/internal/host"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// JobSpec is what a client supplies to create a job node.
type JobSpec struct {
	WorkflowPath string                 `json:"workflow_path"`
	Workflow     map[string]any         `json:"workflow"`
	Parameters   []models.ParameterSpec `json:"parameters"`
	BatchCount   int                    `json:"batch_count"`
	AutoImport   *bool                  `json:"auto_import"`
	ReuseOutput  *bool                  `json:"reuse_output"`
	InputMapping []models.InputMapping  `json:"input_mapping"`
	InputAssets  []models.InputAsset    `json:"input_assets"`
	ModelPaths   map[string]string      `json:"model_paths"`
}

// LoadJob reads a job definition from the document. maxBatch caps the batch
// count.
func LoadJob(ctx context.Context, doc host.Document, jobID string, maxBatch int) (*models.JobDefinition, error) {
	nodeType, err := doc.NodeType(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if nodeType != models.NodeTypeJob {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotAJob, jobID, nodeType)
	}
	attrs, err := doc.Attributes(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("reading job attributes: %w", err)
	}

	raw := strings.TrimSpace(attrs[models.AttrWorkflowData])
	if raw == "" {
		return nil, ErrNoWorkflow
	}
	authoring, err := models.ParseAuthoringGraph([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoWorkflow, err)
	}
	specs, err := models.ParseParameterSpecs(attrs[models.AttrParameters])
	if err != nil {
		return nil, err
	}

	def := &models.JobDefinition{
		ID:           jobID,
		WorkflowPath: attrs[models.AttrWorkflowPath],
		Authoring:    authoring,
		Parameters:   specs,
		Values:       attrs,
		BatchCount:   batchCount(attrs[models.AttrBatchCount], maxBatch),
		AutoImport:   boolAttr(attrs[models.AttrAutoImport], true),
		ReuseOutput:  boolAttr(attrs[models.AttrReuseOutput], true),
		PromptPath:   attrs[models.AttrPromptPath],
		PromptHash:   attrs[models.AttrPromptHash],
	}
	if err := decodeAttr(attrs, models.AttrInputMapping, &def.InputMapping); err != nil {
		return nil, err
	}
	if err := decodeAttr(attrs, models.AttrInputAssets, &def.InputAssets); err != nil {
		return nil, err
	}
	if err := decodeAttr(attrs, models.AttrModelPaths, &def.ModelPaths); err != nil {
		return nil, err
	}
	return def, nil
}

// CreateJob writes a new job node and returns its id.
func CreateJob(ctx context.Context, doc host.Document, spec JobSpec) (string, error) {
	if len(spec.Workflow) == 0 {
		return "", ErrNoWorkflow
	}
	workflow, err := json.Marshal(spec.Workflow)
	if err != nil {
		return "", fmt.Errorf("encoding workflow: %w", err)
	}

	id, err := doc.CreateNode(ctx, models.NodeTypeJob)
	if err != nil {
		return "", fmt.Errorf("creating job node: %w", err)
	}
	if spec.BatchCount < 1 {
		spec.BatchCount = 1
	}
	attrs := map[string]string{
		models.AttrNodeType:     models.NodeTypeJob,
		models.AttrNodeID:       id,
		models.AttrWorkflowData: string(workflow),
		models.AttrWorkflowPath: spec.WorkflowPath,
		models.AttrBatchCount:   strconv.Itoa(spec.BatchCount),
		models.AttrAutoImport:   strconv.FormatBool(spec.AutoImport == nil || *spec.AutoImport),
		models.AttrReuseOutput:  strconv.FormatBool(spec.ReuseOutput == nil || *spec.ReuseOutput),
		models.AttrStatus:       string(models.StateReady),
	}
	for key, v := range map[string]any{
		models.AttrParameters:   spec.Parameters,
		models.AttrInputMapping: spec.InputMapping,
		models.AttrInputAssets:  spec.InputAssets,
		models.AttrModelPaths:   spec.ModelPaths,
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encoding %s: %w", key, err)
		}
		attrs[key] = string(data)
	}
	for _, p := range spec.Parameters {
		if p.Default != nil {
			attrs[p.KnobName()] = fmt.Sprint(p.Default)
		}
	}
	for k, v := range attrs {
		if err := doc.SetAttribute(ctx, id, k, v); err != nil {
			return "", fmt.Errorf("writing %s: %w", k, err)
		}
	}
	return id, nil
}

// SetValues writes live parameter values. Keys are either knob names or
// ParameterSpec keys.
func SetValues(ctx context.Context, doc host.Document, jobID string, values map[string]string) error {
	nodeType, err := doc.NodeType(ctx, jobID)
	if err != nil {
		return err
	}
	if nodeType != models.NodeTypeJob {
		return fmt.Errorf("%w: %s", ErrNotAJob, jobID)
	}
	raw, _, err := doc.GetAttribute(ctx, jobID, models.AttrParameters)
	if err != nil {
		return err
	}
	specs, err := models.ParseParameterSpecs(raw)
	if err != nil {
		return err
	}
	knobs := make(map[string]string, len(specs)*2)
	for _, s := range specs {
		knobs[s.KnobName()] = s.KnobName()
		knobs[s.Key()] = s.KnobName()
	}
	for key, v := range values {
		knob, ok := knobs[key]
		if !ok {
			return fmt.Errorf("%w %q", ErrUnknownParameter, key)
		}
		if err := doc.SetAttribute(ctx, jobID, knob, v); err != nil {
			return err
		}
	}
	return nil
}

// cacheFolder is the folder whose conversion cache a job uses.
func cacheFolder(tempRoot string, def *models.JobDefinition) string {
	if def.WorkflowPath != "" {
		return filepath.Dir(def.WorkflowPath)
	}
	return filepath.Join(tempRoot, "jobs", def.ID)
}

func batchCount(raw string, maxBatch int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	if maxBatch > 0 && n > maxBatch {
		slog.Warn("batch count capped", "requested", n, "max", maxBatch)
		return maxBatch
	}
	return n
}

func boolAttr(raw string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return b
}

func decodeAttr(attrs map[string]string, key string, v any) error {
	raw := strings.TrimSpace(attrs[key])
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}
