package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/genrelay/internal/completion"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// watch waits for the run's completion result and hands ingestion to the
// privileged thread. The job stays claimed until ingestion has run.
func (o *Orchestrator) watch(rc *RunContext) {
	defer o.wg.Done()
	log := rc.logger()

	res, err := o.deps.Completion.Wait(context.Background(), rc.RunID, o.watchBudget(rc.Def.BatchCount))
	if err != nil {
		log.Error("completion watcher gave up", "error", err)
		o.cleanup(rc)
		o.release(rc.JobID, rc.RunID)
		return
	}

	posted := o.deps.Dispatcher.Post("ingest", func(ctx context.Context) {
		defer o.release(rc.JobID, rc.RunID)
		if res.Success {
			if err := o.ingest(ctx, rc, res); err != nil {
				log.Error("failed to ingest run outputs", "error", err)
			}
		}
		o.cleanup(rc)
	})
	if !posted {
		log.Warn("dispatcher stopped before ingestion")
		o.cleanup(rc)
		o.release(rc.JobID, rc.RunID)
	}
}

// ingest records the outputs on the job and, with auto-import on, points a
// read node at the newest one. It runs on the privileged thread.
func (o *Orchestrator) ingest(ctx context.Context, rc *RunContext, res completion.Result) error {
	doc := o.deps.Doc
	entries := res.Outputs
	if len(entries) == 0 && res.OutputPath != "" {
		entries = []models.BatchOutput{{BatchIndex: 1, BatchTotal: 1, OutputPath: res.OutputPath}}
	}
	if len(entries) == 0 {
		return fmt.Errorf("completion result has no outputs")
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding batch outputs: %w", err)
	}
	if err := doc.SetAttribute(ctx, rc.JobID, models.AttrBatchOutputs, string(data)); err != nil {
		return err
	}
	if !rc.Def.AutoImport {
		return nil
	}

	last := entries[len(entries)-1]
	readID, reused, err := o.readNode(ctx, rc, last.Kind)
	if err != nil {
		return err
	}

	index := len(entries) - 1
	if reused {
		if raw, ok, _ := doc.GetAttribute(ctx, readID, models.AttrBatchIndex); ok {
			if i, err := strconv.Atoi(raw); err == nil && i >= 0 && i < len(entries) {
				index = i
			}
		}
	}
	total := res.BatchTotal
	if total < 1 {
		total = len(entries)
	}
	attrs := map[string]string{
		models.AttrFile:         entries[index].OutputPath,
		models.AttrBatchOutputs: string(data),
		models.AttrBatchIndex:   strconv.Itoa(index),
		models.AttrBatchLabel:   fmt.Sprintf("Batch %d/%d", entries[index].BatchIndex, total),
		models.AttrParentID:     rc.JobID,
	}
	for k, v := range attrs {
		if err := doc.SetAttribute(ctx, readID, k, v); err != nil {
			return fmt.Errorf("writing read node: %w", err)
		}
	}
	for k, v := range map[string]string{
		models.AttrReadNodeID: readID,
		models.AttrLastOutput: last.OutputPath,
	} {
		if err := doc.SetAttribute(ctx, rc.JobID, k, v); err != nil {
			return err
		}
	}

	p, err := o.deps.Status.Load(ctx, rc.JobID)
	if err != nil {
		return err
	}
	p.ReadNodeID = readID
	p.LastOutput = last.OutputPath
	return o.deps.Status.Save(ctx, rc.JobID, p)
}

// readNode returns the node that should show the outputs and whether it
// already existed.
func (o *Orchestrator) readNode(ctx context.Context, rc *RunContext, kind models.ArtifactKind) (string, bool, error) {
	doc := o.deps.Doc
	want := readNodeType(kind)
	if rc.Def.ReuseOutput {
		if id, ok, _ := doc.GetAttribute(ctx, rc.JobID, models.AttrReadNodeID); ok && id != "" {
			if t, err := doc.NodeType(ctx, id); err == nil && t == want {
				return id, true, nil
			}
		}
	}
	id, err := doc.CreateNode(ctx, want)
	if err != nil {
		return "", false, fmt.Errorf("creating read node: %w", err)
	}
	rc.logger().Info("created read node", "read_node_id", id, "type", want)
	return id, false, nil
}

func readNodeType(kind models.ArtifactKind) string {
	switch kind {
	case models.KindMesh:
		return models.NodeTypeReadGeo
	case models.KindCamera:
		return models.NodeTypeCamera
	default:
		return models.NodeTypeRead
	}
}

// cleanup removes uploaded input renders that live under the temp root.
func (o *Orchestrator) cleanup(rc *RunContext) {
	rc.mu.Lock()
	files := append([]string(nil), rc.tempFiles...)
	rc.mu.Unlock()

	root := filepath.Clean(filepath.Join(o.opts.TempRoot, "temp")) + string(filepath.Separator)
	for _, f := range files {
		if !strings.HasPrefix(filepath.Clean(f), root) {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			rc.logger().Warn("could not remove temp file", "path", f, "error", err)
		}
	}
}
