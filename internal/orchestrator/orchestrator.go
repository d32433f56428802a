// Package orchestrator drives runs of a job: it resolves the execution
// graph, submits each batch iteration to the compute service, collects the
// artifacts and hands the terminal result to the privileged thread.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/genrelay/internal/archive"
	"github.com/kiranshivaraju/genrelay/internal/artifact"
	"github.com/kiranshivaraju/genrelay/internal/binding"
	"github.com/kiranshivaraju/genrelay/internal/cache"
	"github.com/kiranshivaraju/genrelay/internal/comfy"
	"github.com/kiranshivaraju/genrelay/internal/completion"
	"github.com/kiranshivaraju/genrelay/internal/config"
	"github.com/kiranshivaraju/genrelay/internal/convcache"
	"github.com/kiranshivaraju/genrelay/internal/host"
	"github.com/kiranshivaraju/genrelay/internal/status"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// watchGrace is added to the per-iteration timeouts when sizing a watcher.
const watchGrace = 2 * time.Minute

// Deps are the collaborators of an Orchestrator. Cache and Archiver may be nil.
type Deps struct {
	Doc          host.Document
	Dispatcher   *host.Dispatcher
	Client       comfy.Client
	Converter    models.Converter
	ConvCache    *convcache.Manager
	Resolver     *binding.Resolver
	Collector    *artifact.Collector
	Recoverer    *artifact.Recoverer
	Materializer *artifact.Materializer
	Status       *status.Store
	Completion   completion.Channel
	Cache        cache.Cache
	Archiver     archive.Archiver
}

// Options tune run behaviour.
type Options struct {
	ServicePath   string
	PollInterval  time.Duration
	RunTimeout    time.Duration
	SeedStride    int64
	MaxBatch      int
	TempRoot      string
	OutputRoot    string
	User          string
	EmbedWorkflow bool
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ServicePath:   cfg.Compute.ServicePath,
		PollInterval:  cfg.Compute.PollInterval,
		RunTimeout:    cfg.Compute.RunTimeout,
		SeedStride:    cfg.Batch.SeedStride,
		MaxBatch:      cfg.Batch.MaxBatch,
		TempRoot:      cfg.Paths.TempRoot,
		OutputRoot:    cfg.Paths.OutputRoot,
		User:          cfg.Paths.User,
		EmbedWorkflow: cfg.Artifacts.EmbedMetadata,
	}
}

// Orchestrator runs jobs. Each run gets one worker goroutine and one watcher
// goroutine; at most one run per job is live at a time.
type Orchestrator struct {
	deps Deps
	opts Options

	mu     sync.Mutex
	active map[string]string
	wg     sync.WaitGroup
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 300 * time.Second
	}
	if opts.SeedStride <= 0 {
		opts.SeedStride = 9973
	}
	return &Orchestrator{deps: deps, opts: opts, active: make(map[string]string)}
}

// Trigger starts a run of jobID and returns its run id without waiting for
// it. It fails with ErrRunActive when the job already has a live run.
func (o *Orchestrator) Trigger(ctx context.Context, jobID string) (string, error) {
	runID := uuid.NewString()
	if err := o.claim(ctx, jobID, runID); err != nil {
		return "", err
	}

	var (
		def     *models.JobDefinition
		payload models.StatusPayload
	)
	started := time.Now().UTC()
	err := o.deps.Dispatcher.Do(ctx, "trigger", func(ctx context.Context) error {
		var err error
		def, err = LoadJob(ctx, o.deps.Doc, jobID, o.opts.MaxBatch)
		if err != nil {
			return err
		}
		payload, err = o.deps.Status.Load(ctx, jobID)
		if err != nil {
			return err
		}
		status.Apply(&payload, status.Update{
			RunID:      runID,
			StartedAt:  started,
			Message:    "Queued for processing",
			AutoImport: def.AutoImport,
			Mutate: func(rec *models.RunRecord) {
				rec.BatchTotal = def.BatchCount
			},
		}, started)
		return o.deps.Status.Save(ctx, jobID, payload)
	})
	if err != nil {
		o.release(jobID, runID)
		return "", err
	}

	rc := newRunContext(jobID, runID, def, started, payload)
	slog.Info("run triggered", "job_id", jobID, "run_id", runID, "batch_count", def.BatchCount)

	o.wg.Add(2)
	go o.work(rc)
	go o.watch(rc)
	return runID, nil
}

// Active reports whether jobID has a live worker in this process.
func (o *Orchestrator) Active(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[jobID]
	return ok
}

// Wait blocks until every worker and watcher has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// claim marks jobID as running locally and, when Redis is configured,
// across processes.
func (o *Orchestrator) claim(ctx context.Context, jobID, runID string) error {
	o.mu.Lock()
	if _, ok := o.active[jobID]; ok {
		o.mu.Unlock()
		return ErrRunActive
	}
	o.active[jobID] = runID
	o.mu.Unlock()

	if o.deps.Cache == nil {
		return nil
	}
	ok, err := o.deps.Cache.SetIfAbsent(ctx, cache.ActiveRunKey(jobID), []byte(runID), o.watchBudget(o.opts.MaxBatch))
	if err != nil {
		slog.Warn("active run marker unavailable", "job_id", jobID, "error", err)
		return nil
	}
	if !ok {
		o.mu.Lock()
		delete(o.active, jobID)
		o.mu.Unlock()
		return ErrRunActive
	}
	return nil
}

// release drops runID's claim on jobID. A claim held by another run is left
// in place.
func (o *Orchestrator) release(jobID, runID string) {
	o.mu.Lock()
	if o.active[jobID] == runID {
		delete(o.active, jobID)
	}
	o.mu.Unlock()
	if o.deps.Cache != nil {
		if _, err := o.deps.Cache.DeleteIfValue(context.Background(), cache.ActiveRunKey(jobID), []byte(runID)); err != nil {
			slog.Warn("failed to clear active run marker", "job_id", jobID, "run_id", runID, "error", err)
		}
	}
}

func (o *Orchestrator) watchBudget(batches int) time.Duration {
	return time.Duration(max(1, batches))*o.opts.RunTimeout + watchGrace
}

// publish folds an update into the run's payload and posts a snapshot of it
// to the privileged thread. It never blocks on the host.
func (o *Orchestrator) publish(rc *RunContext, progress float64, message, errMsg string, mutate func(*models.RunRecord)) models.State {
	rc.mu.Lock()
	state := status.Apply(&rc.payload, status.Update{
		RunID:      rc.RunID,
		StartedAt:  rc.StartedAt,
		Progress:   progress,
		Message:    message,
		Error:      errMsg,
		AutoImport: rc.Def.AutoImport,
		Mutate:     mutate,
	}, time.Now().UTC())
	snapshot := clonePayload(rc.payload)
	rc.mu.Unlock()

	o.deps.Dispatcher.Post("status", func(ctx context.Context) {
		if err := o.deps.Status.Save(ctx, rc.JobID, snapshot); err != nil {
			slog.Warn("failed to save status", "job_id", rc.JobID, "run_id", rc.RunID, "error", err)
		}
	})
	return state
}

// setAttributes posts attribute writes on the job node.
func (o *Orchestrator) setAttributes(name, jobID string, attrs map[string]string) {
	o.deps.Dispatcher.Post(name, func(ctx context.Context) {
		for k, v := range attrs {
			if err := o.deps.Doc.SetAttribute(ctx, jobID, k, v); err != nil {
				slog.Warn("failed to write job attribute", "job_id", jobID, "attribute", k, "error", err)
			}
		}
	})
}

// Status returns the persisted payload and whether it is stale: Processing
// with no live worker in this process.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (models.StatusPayload, bool, error) {
	p, err := o.deps.Status.Load(ctx, jobID)
	if err != nil {
		return models.StatusPayload{}, false, err
	}
	stale := p.State == models.StateProcessing && !o.Active(jobID)
	return p, stale, nil
}

// Job returns the API view of one job.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (models.JobSummary, error) {
	var sum models.JobSummary
	err := o.deps.Dispatcher.Do(ctx, "job", func(ctx context.Context) error {
		var err error
		sum, err = o.summary(ctx, jobID)
		return err
	})
	return sum, err
}

// Jobs lists every job node in the document.
func (o *Orchestrator) Jobs(ctx context.Context) ([]models.JobSummary, error) {
	var out []models.JobSummary
	err := o.deps.Dispatcher.Do(ctx, "jobs", func(ctx context.Context) error {
		ids, err := o.deps.Doc.ListNodes(ctx, models.NodeTypeJob)
		if err != nil {
			return err
		}
		out = make([]models.JobSummary, 0, len(ids))
		for _, id := range ids {
			sum, err := o.summary(ctx, id)
			if err != nil {
				slog.Warn("skipping unreadable job", "job_id", id, "error", err)
				continue
			}
			out = append(out, sum)
		}
		return nil
	})
	return out, err
}

func (o *Orchestrator) summary(ctx context.Context, jobID string) (models.JobSummary, error) {
	def, err := LoadJob(ctx, o.deps.Doc, jobID, o.opts.MaxBatch)
	if err != nil {
		return models.JobSummary{}, err
	}
	p, stale, err := o.Status(ctx, jobID)
	if err != nil {
		return models.JobSummary{}, err
	}
	return models.JobSummary{
		ID:         jobID,
		BatchCount: def.BatchCount,
		AutoImport: def.AutoImport,
		Status:     p,
		Stale:      stale,
	}, nil
}

// ClearCache removes the conversion cache of a job's workflow folder and
// the job's own cache pointer.
func (o *Orchestrator) ClearCache(ctx context.Context, jobID string) error {
	return o.deps.Dispatcher.Do(ctx, "clear-cache", func(ctx context.Context) error {
		def, err := LoadJob(ctx, o.deps.Doc, jobID, o.opts.MaxBatch)
		if err != nil {
			return err
		}
		if err := o.deps.ConvCache.Clear(ctx, cacheFolder(o.opts.TempRoot, def)); err != nil {
			return err
		}
		for _, k := range []string{models.AttrPromptPath, models.AttrPromptHash} {
			if err := o.deps.Doc.SetAttribute(ctx, jobID, k, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateJob adds a job node on the privileged thread.
func (o *Orchestrator) CreateJob(ctx context.Context, spec JobSpec) (string, error) {
	var id string
	err := o.deps.Dispatcher.Do(ctx, "create-job", func(ctx context.Context) error {
		var err error
		id, err = CreateJob(ctx, o.deps.Doc, spec)
		return err
	})
	return id, err
}

// SetValues writes live parameter values on the privileged thread.
func (o *Orchestrator) SetValues(ctx context.Context, jobID string, values map[string]string) error {
	return o.deps.Dispatcher.Do(ctx, "set-values", func(ctx context.Context) error {
		return SetValues(ctx, o.deps.Doc, jobID, values)
	})
}

func clonePayload(p models.StatusPayload) models.StatusPayload {
	data, err := json.Marshal(p)
	if err != nil {
		return p
	}
	var out models.StatusPayload
	if err := json.Unmarshal(data, &out); err != nil {
		return p
	}
	return out
}

// RunContext is everything one run needs, threaded through the worker.
type RunContext struct {
	JobID     string
	RunID     string
	Def       *models.JobDefinition
	StartedAt time.Time

	mu        sync.Mutex
	stage     Stage
	payload   models.StatusPayload
	converted string
	outputs   []models.BatchOutput
	artifacts []models.Artifact
	tempFiles []string
}

func newRunContext(jobID, runID string, def *models.JobDefinition, started time.Time, payload models.StatusPayload) *RunContext {
	return &RunContext{
		JobID:     jobID,
		RunID:     runID,
		Def:       def,
		StartedAt: started,
		stage:     StagePreparing,
		payload:   payload,
	}
}

// Stage returns the run's current stage.
func (rc *RunContext) Stage() Stage {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stage
}

func (rc *RunContext) advance(to Stage) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if err := checkTransition(rc.stage, to); err != nil {
		return err
	}
	rc.stage = to
	return nil
}

func (rc *RunContext) logger() *slog.Logger {
	return slog.With("job_id", rc.JobID, "run_id", rc.RunID)
}

var errNoPromptID = errors.New("compute service returned no prompt id")

func describeSubmitFailure(converted string) string {
	if converted != "" {
		return fmt.Sprintf("Failed to submit workflow (converted prompt saved to %s)", converted)
	}
	return "Failed to submit workflow"
}
