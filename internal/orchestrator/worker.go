package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/kiranshivaraju/genrelay/internal/artifact"
	"github.com/kiranshivaraju/genrelay/internal/comfy"
	"github.com/kiranshivaraju/genrelay/internal/completion"
	"github.com/kiranshivaraju/genrelay/internal/convert"
	"github.com/kiranshivaraju/genrelay/internal/seed"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// work runs one job to a terminal state and signals the watcher. It never
// lets a failure or panic escape.
func (o *Orchestrator) work(rc *RunContext) {
	ctx := context.Background()
	log := rc.logger()

	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in run worker", "error", r, "stack", string(debug.Stack()))
			o.fail(ctx, rc, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := o.execute(ctx, rc); err != nil {
		log.Error("run failed", "stage", rc.Stage(), "error", err)
		o.fail(ctx, rc, err)
		return
	}

	rc.mu.Lock()
	outputs := append([]models.BatchOutput(nil), rc.outputs...)
	rc.mu.Unlock()
	last := outputs[len(outputs)-1]
	res := completion.Result{
		RunID:          rc.RunID,
		Success:        true,
		Outputs:        outputs,
		BatchTotal:     rc.Def.BatchCount,
		OutputPath:     last.OutputPath,
		ElapsedSeconds: last.ElapsedSeconds,
	}
	if err := o.deps.Completion.Signal(ctx, res); err != nil {
		log.Error("failed to signal completion", "error", err)
	}
	log.Info("run completed", "outputs", len(outputs), "elapsed_seconds", time.Since(rc.StartedAt).Seconds())
}

func (o *Orchestrator) fail(ctx context.Context, rc *RunContext, err error) {
	msg := userMessage(err)
	rc.mu.Lock()
	rc.stage = StageError
	rc.mu.Unlock()
	o.publish(rc, -1, "Error: "+msg, msg, nil)
	if serr := o.deps.Completion.Signal(ctx, completion.Result{RunID: rc.RunID, Error: msg}); serr != nil {
		rc.logger().Error("failed to signal completion", "error", serr)
	}
}

func (o *Orchestrator) execute(ctx context.Context, rc *RunContext) error {
	def := rc.Def
	o.publish(rc, 0.05, "Starting processing", "", nil)

	graph, err := o.resolveGraph(ctx, rc)
	if err != nil {
		return err
	}
	execHash, err := graph.Hash()
	if err != nil {
		return runError(ErrConversion, "Converted workflow could not be hashed", err)
	}

	specs, changed := o.deps.Resolver.Resolve(def.Parameters, def.Authoring, graph, execHash)
	if changed {
		if data, err := json.Marshal(specs); err == nil {
			o.setAttributes("bindings", rc.JobID, map[string]string{models.AttrParameters: string(data)})
		}
	}
	res, err := seed.ResolveClientControl(specs, def.Values)
	if err != nil {
		rc.logger().Warn("seed control not resolved", "error", err)
	}
	if res.Refresh {
		o.setAttributes("seed-control", rc.JobID, res.Updates)
	}

	work := graph.Clone()
	applied := o.deps.Resolver.Apply(specs, work, execHash, res.Overrides, def.Values)
	if len(applied) > 0 {
		rc.logger().Debug("parameter overrides applied", "count", len(applied))
	}
	if n := models.ReplaceModelPaths(work, def.ModelPaths); n > 0 {
		rc.logger().Debug("model paths rewritten", "count", n)
	}

	perBatch, err := o.uploadAssets(ctx, rc, work)
	if err != nil {
		return err
	}

	records := seed.Capture(work)
	for i := 0; i < def.BatchCount; i++ {
		iter := work.Clone()
		offset := seed.OffsetFor(i, o.opts.SeedStride)
		seed.ApplyOffset(iter, records, offset)
		for _, up := range perBatch[i] {
			injectAsset(iter, def.Authoring, up.mapping, up.filename)
		}
		if err := o.iterate(ctx, rc, i, iter, offset); err != nil {
			return err
		}
	}

	rc.mu.Lock()
	n := len(rc.outputs)
	rc.mu.Unlock()
	if n == 0 {
		return runError(ErrOutputMissing, "No outputs were generated", nil)
	}
	return nil
}

// resolveGraph returns the execution graph for the job, from its own cache
// pointer, the folder cache, or a fresh conversion.
func (o *Orchestrator) resolveGraph(ctx context.Context, rc *RunContext) (models.ExecutionGraph, error) {
	def := rc.Def
	if models.LooksLikeExecutionGraph(def.Authoring.Doc) {
		g, _, err := convert.ToExecution(ctx, o.deps.Converter, def.Authoring, o.opts.ServicePath)
		if err != nil {
			return nil, runError(ErrConversion, "Workflow is not a valid execution graph", err)
		}
		return g, nil
	}

	hash, err := def.Authoring.Hash()
	if err != nil {
		return nil, runError(ErrConversion, "Workflow could not be hashed", err)
	}
	folder := cacheFolder(o.opts.TempRoot, def)

	hit, ok := o.deps.ConvCache.FromPointer(def.PromptPath, def.PromptHash, hash)
	if !ok {
		hit, ok = o.deps.ConvCache.Get(ctx, folder, hash)
	}
	if ok {
		rc.mu.Lock()
		rc.converted = hit.Path
		rc.mu.Unlock()
		o.publish(rc, 0.1, "Using cached conversion", "", func(rec *models.RunRecord) {
			rec.ConvertedPath = hit.Path
			rec.ConversionHit = true
		})
		if def.PromptPath != hit.Path || def.PromptHash != hash {
			o.setAttributes("cache-pointer", rc.JobID, map[string]string{
				models.AttrPromptPath: hit.Path,
				models.AttrPromptHash: hash,
			})
		}
		return hit.Graph, nil
	}

	if err := rc.advance(StageConverting); err != nil {
		return nil, err
	}
	o.publish(rc, 0.1, "Converting workflow", "", nil)
	g, _, err := convert.ToExecution(ctx, o.deps.Converter, def.Authoring, o.opts.ServicePath)
	if err != nil {
		if errors.Is(err, convert.ErrServicePathUnset) {
			return nil, runError(ErrConfiguration, "Compute service path is not configured", err)
		}
		return nil, runError(ErrConversion, "Workflow conversion failed", err)
	}

	path, err := o.deps.ConvCache.Put(ctx, folder, def.WorkflowPath, hash, g)
	if err != nil {
		rc.logger().Warn("conversion cache write failed, using debug copy", "error", err)
		if path, err = o.deps.ConvCache.Fallback(rc.RunID, g); err != nil {
			rc.logger().Warn("debug conversion copy failed", "error", err)
		}
	} else {
		o.setAttributes("cache-pointer", rc.JobID, map[string]string{
			models.AttrPromptPath: path,
			models.AttrPromptHash: hash,
		})
	}
	rc.mu.Lock()
	rc.converted = path
	rc.mu.Unlock()
	o.publish(rc, 0.15, "Workflow converted", "", func(rec *models.RunRecord) {
		rec.ConvertedPath = path
		rec.ConversionHit = false
	})
	return g, nil
}

type uploaded struct {
	mapping  *models.InputMapping
	filename string
}

// uploadAssets uploads every rendered input. Shared assets are injected into
// g directly; assets bound to one batch iteration are returned by index.
func (o *Orchestrator) uploadAssets(ctx context.Context, rc *RunContext, g models.ExecutionGraph) (map[int][]uploaded, error) {
	assets := rc.Def.InputAssets
	perBatch := make(map[int][]uploaded)
	if len(assets) == 0 {
		return perBatch, nil
	}
	if err := rc.advance(StageUploading); err != nil {
		return nil, err
	}
	o.publish(rc, 0.2, "Uploading images", "", nil)

	for k, asset := range assets {
		m := mappingFor(rc.Def.InputMapping, asset.Index)
		name := fmt.Sprintf("Input %d", asset.Index+1)
		if m != nil && m.Name != "" {
			name = m.Name
		}
		if _, err := os.Stat(asset.Path); err != nil {
			return nil, runError(ErrIO, fmt.Sprintf("Temp file missing for '%s'", name), err)
		}
		remote, err := o.deps.Client.Upload(ctx, asset.Path)
		if err != nil || remote == "" {
			return nil, runError(ErrIO, fmt.Sprintf("Failed to upload '%s' to compute service", name), err)
		}
		rc.mu.Lock()
		rc.tempFiles = append(rc.tempFiles, asset.Path)
		rc.mu.Unlock()

		if asset.BatchIndex != nil {
			perBatch[*asset.BatchIndex] = append(perBatch[*asset.BatchIndex], uploaded{mapping: m, filename: remote})
		} else {
			injectAsset(g, rc.Def.Authoring, m, remote)
		}
		done, total := k+1, len(assets)
		o.publish(rc, 0.2+0.2*float64(done)/float64(total), fmt.Sprintf("Uploaded %d/%d images", done, total), "", nil)
	}
	return perBatch, nil
}

// iterate submits one batch iteration and waits for its artifacts.
func (o *Orchestrator) iterate(ctx context.Context, rc *RunContext, index int, g models.ExecutionGraph, offset int64) error {
	n := rc.Def.BatchCount
	label := batchLabel(index, n)
	log := rc.logger().With("batch_index", index)

	if err := rc.advance(StageSubmitting); err != nil {
		return err
	}
	o.publish(rc, ProgressFor(index, n, localSubmit), "Submitting "+strings.ToLower(label), "", nil)

	rc.mu.Lock()
	converted := rc.converted
	rc.mu.Unlock()
	promptID, err := o.deps.Client.Submit(ctx, g)
	if err == nil && promptID == "" {
		err = errNoPromptID
	}
	if err != nil {
		return runError(ErrSubmission, describeSubmitFailure(converted), err)
	}
	o.setAttributes("prompt-id", rc.JobID, map[string]string{models.AttrPromptID: promptID})

	start := time.Now()
	if err := rc.advance(StageQueued); err != nil {
		return err
	}
	o.publish(rc, ProgressFor(index, n, localQueued), label+": queued on compute service", "", func(rec *models.RunRecord) {
		rec.PromptID = promptID
		rec.BatchIndex = index + 1
		rec.BatchTotal = n
	})
	log.Info("prompt submitted", "prompt_id", promptID)

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	for {
		if p, err := o.deps.Client.Progress(ctx, promptID); err == nil && p > 0 {
			if rc.Stage() == StageQueued {
				if err := rc.advance(StageProcessing); err != nil {
					return err
				}
			}
			o.publish(rc, ProgressFor(index, n, processingFraction(p)), label+": processing", "", nil)
		}

		entry, err := o.deps.Client.PollHistory(ctx, promptID)
		if err != nil {
			if !comfy.IsTransient(err) {
				return runError(ErrRemote, "Failed to read run history from compute service", err)
			}
			log.Warn("history poll failed", "prompt_id", promptID, "error", err)
		} else if entry != nil {
			switch entry.Status.StatusStr {
			case comfy.StatusSuccess:
				arts := o.deps.Collector.Collect(entry.Outputs, g)
				if len(arts) == 0 {
					arts, err = o.deps.Recoverer.Recover(ctx, g, promptID)
					if err != nil {
						log.Warn("history recovery failed", "prompt_id", promptID, "error", err)
					}
				}
				if len(arts) == 0 {
					return runError(ErrOutputMissing, "No outputs were generated", nil)
				}
				return o.download(ctx, rc, index, promptID, arts, start, offset)
			case comfy.StatusError:
				msg := entry.Status.Message
				if msg == "" {
					msg = "Unknown error"
				}
				return runError(ErrRemote, "compute service failed: "+msg, nil)
			}
		}

		if time.Since(start) >= o.opts.RunTimeout {
			return runError(ErrTimeout, "Processing timed out", nil)
		}
		select {
		case <-ctx.Done():
			return runError(ErrTimeout, "Processing timed out", ctx.Err())
		case <-ticker.C:
		}
	}
}

// download materializes an iteration's artifacts into versioned output
// paths and records them on the run.
func (o *Orchestrator) download(ctx context.Context, rc *RunContext, index int, promptID string, arts []models.Artifact, start time.Time, offset int64) error {
	n := rc.Def.BatchCount
	label := batchLabel(index, n)
	if err := rc.advance(StageDownloading); err != nil {
		return err
	}
	o.publish(rc, ProgressFor(index, n, localDownloading), label+": downloading result", "", nil)

	var produced []models.BatchOutput
	for _, a := range arts {
		target, err := artifact.AllocateOutputPath(o.opts.OutputRoot, o.opts.User, rc.JobID, a.Kind, a.Extension)
		if err != nil {
			return runError(ErrIO, "Failed to allocate output path", err)
		}
		m, err := o.deps.Materializer.Materialize(ctx, a, target)
		if err != nil {
			return runError(ErrIO, "Failed to download result from compute service", err)
		}
		elapsed := time.Since(start).Seconds()

		if a.Kind == models.KindImage {
			o.embedMetadata(rc, m.Path, promptID, index, offset)
		}
		o.archive(ctx, rc, m)

		produced = append(produced, models.BatchOutput{
			BatchIndex:     index + 1,
			BatchTotal:     n,
			PromptID:       promptID,
			OutputPath:     m.Path,
			Kind:           m.Kind,
			ConvertedFrom:  m.ConvertedFrom,
			ElapsedSeconds: elapsed,
			SeedOffset:     offset,
		})
	}

	rc.mu.Lock()
	rc.outputs = append(rc.outputs, produced...)
	rc.artifacts = append(rc.artifacts, arts...)
	outputs := append([]models.BatchOutput(nil), rc.outputs...)
	artifacts := append([]models.Artifact(nil), rc.artifacts...)
	rc.mu.Unlock()

	last := produced[len(produced)-1]
	final := index == n-1
	if final {
		if err := rc.advance(StageCompleted); err != nil {
			return err
		}
	}
	o.publish(rc, ProgressFor(index, n, localDone), label+": completed", "", func(rec *models.RunRecord) {
		rec.PromptID = promptID
		rec.BatchIndex = index + 1
		rec.BatchTotal = n
		rec.OutputPath = last.OutputPath
		rec.OutputKind = last.Kind
		rec.ElapsedSeconds = last.ElapsedSeconds
		rec.Outputs = outputs
		rec.Artifacts = artifacts
	})
	return nil
}

func (o *Orchestrator) embedMetadata(rc *RunContext, path, promptID string, index int, offset int64) {
	meta := map[string]any{
		"job_id":        rc.JobID,
		"prompt_id":     promptID,
		"run_id":        rc.RunID,
		"user":          o.opts.User,
		"workflow_path": rc.Def.WorkflowPath,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"batch_index":   index + 1,
		"batch_total":   rc.Def.BatchCount,
		"seed_offset":   offset,
	}
	var workflow any
	if o.opts.EmbedWorkflow {
		workflow = rc.Def.Authoring.Doc
	}
	if err := artifact.EmbedPNGMetadata(path, meta, workflow); err != nil && !errors.Is(err, artifact.ErrNotPNG) {
		rc.logger().Warn("failed to embed image metadata", "path", path, "error", err)
	}
}

func (o *Orchestrator) archive(ctx context.Context, rc *RunContext, m artifact.Materialized) {
	if o.deps.Archiver == nil {
		return
	}
	paths := []string{m.Path}
	if m.ConvertedFrom != "" {
		paths = append(paths, m.ConvertedFrom)
	}
	for _, p := range paths {
		if _, err := o.deps.Archiver.Put(ctx, rc.JobID, rc.RunID, p); err != nil {
			rc.logger().Warn("failed to archive artifact", "path", p, "error", err)
		}
	}
}
