// File: internal/orchestrator/orchestrator.go

// Package orchestrator drives incidents through the remediation pipeline:
// context building, prompt rendering, model calls and patch validation,
// tracking each incident's lifecycle to a terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
	"github.com/xkilldash9x/chisel-cli/internal/config"
	"github.com/xkilldash9x/chisel-cli/internal/contextbuild"
	"github.com/xkilldash9x/chisel-cli/internal/promptgen"
	"github.com/xkilldash9x/chisel-cli/internal/validator"
)

// ModelGateway is the slice of the gateway the orchestrator depends on.
type ModelGateway interface {
	Complete(ctx context.Context, req schemas.GenerationRequest) (*schemas.ModelResponse, error)
}

// Orchestrator schedules incidents across a bounded worker pool. Incidents
// that share a file are processed sequentially within one task so each
// accepted patch is visible to the next incident in that file.
type Orchestrator struct {
	engineCfg config.EngineConfig
	llmCfg    config.LLMRouterConfig

	projectRoot string

	builder   *contextbuild.Builder
	renderer  *promptgen.Renderer
	gateway   ModelGateway
	validator *validator.Validator
	logger    *zap.Logger

	mu          sync.Mutex
	resolutions map[schemas.IncidentKey]*schemas.Resolution

	// abortErr is set when a run-fatal error (cache inconsistency) is
	// observed; abort cancels all remaining work.
	abortOnce sync.Once
	abortErr  error
	abort     context.CancelFunc
}

// New wires an orchestrator from its collaborators.
func New(cfg config.Interface, builder *contextbuild.Builder, renderer *promptgen.Renderer, gw ModelGateway, val *validator.Validator, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		engineCfg:   cfg.Engine(),
		llmCfg:      cfg.LLM(),
		projectRoot: cfg.Analysis().ProjectRoot,
		builder:     builder,
		renderer:    renderer,
		gateway:     gw,
		validator:   val,
		logger:      logger.Named("orchestrator"),
		resolutions: make(map[schemas.IncidentKey]*schemas.Resolution),
	}
}

// fileTask is one unit of pool work: every incident targeting a single file,
// in deterministic order.
type fileTask struct {
	path      string
	incidents []*schemas.Incident
}

// Run processes all incidents to a terminal state and returns the
// resolutions in deterministic order. A nil error does not mean every
// incident was solved; it means the run itself completed. Run returns an
// error only when the run was aborted (cache inconsistency) or the context
// was cancelled before completion.
func (o *Orchestrator) Run(ctx context.Context, incidents []*schemas.Incident) ([]*schemas.Resolution, error) {
	schemas.SortIncidents(incidents)

	o.mu.Lock()
	for _, inc := range incidents {
		if _, exists := o.resolutions[inc.Key()]; !exists {
			o.resolutions[inc.Key()] = schemas.NewResolution(inc)
		}
	}
	o.mu.Unlock()

	err := o.execute(ctx, incidents)
	return o.Results(), err
}

// RetryFailed reopens every Failed resolution and runs the pipeline over
// them again. Solved and Skipped outcomes are untouched.
func (o *Orchestrator) RetryFailed(ctx context.Context) ([]*schemas.Resolution, error) {
	var retry []*schemas.Incident
	o.mu.Lock()
	for _, res := range o.resolutions {
		if res.Status != schemas.StatusFailed {
			continue
		}
		if err := res.Reopen(); err != nil {
			o.mu.Unlock()
			return nil, err
		}
		retry = append(retry, res.Incident)
	}
	o.mu.Unlock()

	if len(retry) == 0 {
		return o.Results(), nil
	}
	schemas.SortIncidents(retry)
	o.logger.Info("Retrying failed incidents", zap.Int("count", len(retry)))

	err := o.execute(ctx, retry)
	return o.Results(), err
}

// execute fans the incidents out to the worker pool, one task per file.
func (o *Orchestrator) execute(ctx context.Context, incidents []*schemas.Incident) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.abort = cancel

	tasks := groupByFile(incidents)

	concurrency := o.engineCfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	queueSize := o.engineCfg.QueueSize
	if queueSize < len(tasks) {
		queueSize = len(tasks)
	}

	o.logger.Info("Starting remediation run",
		zap.Int("incidents", len(incidents)),
		zap.Int("files", len(tasks)),
		zap.Int("concurrency", concurrency))

	taskQueue := make(chan fileTask, queueSize)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go o.runWorker(runCtx, &wg, taskQueue, i+1)
	}
	for _, task := range tasks {
		taskQueue <- task
	}
	close(taskQueue)
	wg.Wait()

	// Anything still non-terminal was left behind by cancellation or abort.
	o.skipRemaining(incidents, "cancelled")

	if o.abortErr != nil {
		return o.abortErr
	}
	return ctx.Err()
}

// runWorker is the main loop for one pool goroutine.
func (o *Orchestrator) runWorker(ctx context.Context, wg *sync.WaitGroup, tasks <-chan fileTask, workerID int) {
	defer wg.Done()
	logger := o.logger.With(zap.Int("worker_id", workerID))

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				continue // drain; the incidents are skipped afterwards
			}
			o.processFile(ctx, task, logger)
		case <-ctx.Done():
			return
		}
	}
}

// processFile walks one file's incidents in order, threading each accepted
// patch into the working copy so later incidents see it.
func (o *Orchestrator) processFile(ctx context.Context, task fileTask, logger *zap.Logger) {
	logger = logger.With(zap.String("file", task.path))

	path := task.path
	if !filepath.IsAbs(path) && o.projectRoot != "" {
		path = filepath.Join(o.projectRoot, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Cannot read target file, skipping its incidents", zap.Error(err))
		for _, inc := range task.incidents {
			o.skip(inc.Key(), fmt.Sprintf("reading target file: %v", err))
		}
		return
	}

	for _, inc := range task.incidents {
		if ctx.Err() != nil {
			return
		}
		patched := o.processIncident(ctx, inc, content, logger)
		if patched != nil {
			content = patched
		}
	}
}

// processIncident runs the full pipeline for one incident against the given
// file content and returns the patched content when the incident is solved.
func (o *Orchestrator) processIncident(ctx context.Context, inc *schemas.Incident, content []byte, logger *zap.Logger) []byte {
	key := inc.Key()
	logger = logger.With(zap.String("incident", key.String()))

	res := o.resolution(key)
	if res == nil || res.Status.Terminal() {
		return nil
	}
	if res.Status == schemas.StatusPending {
		if err := res.Transition(schemas.StatusInProgress); err != nil {
			logger.Error("Resolution state error", zap.Error(err))
			return nil
		}
	}

	timeout := o.engineCfg.DefaultTaskTimeout
	incCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		incCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	win, err := o.builder.BuildFromSource(incCtx, inc, content)
	if err != nil {
		var malformed *schemas.MalformedIncidentError
		var unparsable *schemas.UnparsableSourceError
		if errors.As(err, &malformed) || errors.As(err, &unparsable) {
			logger.Warn("Incident skipped before any model call", zap.Error(err))
			o.skip(key, err.Error())
			return nil
		}
		o.fail(res, fmt.Sprintf("building context: %v", err))
		return nil
	}

	maxAttempts := o.engineCfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var history []promptgen.AttemptFeedback
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if incCtx.Err() != nil {
			return nil
		}

		record, err := o.renderer.Render(inc, win, history)
		if err != nil {
			o.fail(res, fmt.Sprintf("rendering prompt: %v", err))
			return nil
		}

		req := o.requestFor(record)
		resp, err := o.gateway.Complete(incCtx, req)
		if err != nil {
			var inconsistent *schemas.CacheConsistencyError
			if errors.As(err, &inconsistent) {
				logger.Error("Cache consistency violation, aborting run", zap.Error(err))
				o.abortRun(err)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			if incCtx.Err() != nil {
				o.fail(res, fmt.Sprintf("incident timed out: %v", err))
				return nil
			}
			o.fail(res, err.Error())
			return nil
		}

		att := schemas.Attempt{
			Number:     attempt,
			PromptHash: resp.PromptHash,
			ModelID:    resp.ModelID,
			Cached:     resp.Cached,
			Latency:    resp.Latency,
		}

		patch, verdict := o.tryCandidate(incCtx, win, content, key, inc.FilePath, resp.RawText)
		if verdict == nil {
			o.record(res, att)
			o.solve(res, patch)
			logger.Info("Incident solved",
				zap.Int("attempts", attempt),
				zap.Bool("cached", resp.Cached))
			return []byte(patch.PatchedFile)
		}

		var stale *schemas.StaleContextError
		if errors.As(verdict, &stale) {
			// The window no longer matches the working copy; rebuild it and
			// spend the attempt.
			att.Rejection = "stale context window"
			o.record(res, att)
			win, err = o.builder.BuildFromSource(incCtx, inc, content)
			if err != nil {
				o.fail(res, fmt.Sprintf("rebuilding stale context: %v", err))
				return nil
			}
			continue
		}

		var rejected *schemas.PatchRejectedError
		if !errors.As(verdict, &rejected) {
			o.record(res, att)
			o.fail(res, verdict.Error())
			return nil
		}

		att.Rejection = string(rejected.Reason)
		o.record(res, att)
		history = append(history, promptgen.AttemptFeedback{Number: attempt, Rejection: rejected.Error()})
		logger.Debug("Candidate rejected",
			zap.Int("attempt", attempt),
			zap.String("reason", string(rejected.Reason)))
	}

	o.fail(res, fmt.Sprintf("no acceptable patch after %d attempts", maxAttempts))
	return nil
}

// tryCandidate extracts and validates one model response.
func (o *Orchestrator) tryCandidate(ctx context.Context, win *schemas.ContextWindow, content []byte, key schemas.IncidentKey, targetFile, raw string) (*schemas.ValidatedPatch, error) {
	cand, err := validator.ExtractCandidate(key, targetFile, raw)
	if err != nil {
		return nil, err
	}
	return o.validator.Validate(ctx, win, content, cand)
}

// requestFor binds a rendered prompt to the powerful-tier backend and its
// sampling parameters.
func (o *Orchestrator) requestFor(record *schemas.PromptRecord) schemas.GenerationRequest {
	name := o.llmCfg.DefaultPowerfulModel
	mc := o.llmCfg.Models[name]
	return schemas.GenerationRequest{
		SystemPrompt: record.SystemPrompt,
		UserPrompt:   record.UserPrompt,
		ModelID:      name,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     mc.Temperature,
			TopP:            mc.TopP,
			MaxOutputTokens: int32(mc.MaxTokens),
			ForceJSONFormat: true,
		},
	}
}

// Results returns every tracked resolution ordered by (file, line, rule).
func (o *Orchestrator) Results() []*schemas.Resolution {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*schemas.Resolution, 0, len(o.resolutions))
	for _, res := range o.resolutions {
		out = append(out, res)
	}
	sort.Slice(out, func(a, b int) bool {
		ka, kb := out[a].Incident.Key(), out[b].Incident.Key()
		if ka.FilePath != kb.FilePath {
			return ka.FilePath < kb.FilePath
		}
		if ka.StartLine != kb.StartLine {
			return ka.StartLine < kb.StartLine
		}
		return ka.RuleID < kb.RuleID
	})
	return out
}

func (o *Orchestrator) resolution(key schemas.IncidentKey) *schemas.Resolution {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resolutions[key]
}

func (o *Orchestrator) record(res *schemas.Resolution, att schemas.Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res.Attempts = append(res.Attempts, att)
}

func (o *Orchestrator) solve(res *schemas.Resolution, patch *schemas.ValidatedPatch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res.Patch = patch
	if err := res.Transition(schemas.StatusSolved); err != nil {
		o.logger.Error("Resolution state error", zap.Error(err))
	}
}

func (o *Orchestrator) fail(res *schemas.Resolution, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res.FailureReason = reason
	if err := res.Transition(schemas.StatusFailed); err != nil {
		o.logger.Error("Resolution state error", zap.Error(err))
	}
}

func (o *Orchestrator) skip(key schemas.IncidentKey, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res := o.resolutions[key]
	if res == nil || res.Status.Terminal() {
		return
	}
	res.FailureReason = reason
	if err := res.Transition(schemas.StatusSkipped); err != nil {
		o.logger.Error("Resolution state error", zap.Error(err))
	}
}

// skipRemaining marks every incident from this batch that never reached a
// terminal state as Skipped.
func (o *Orchestrator) skipRemaining(incidents []*schemas.Incident, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, inc := range incidents {
		res := o.resolutions[inc.Key()]
		if res == nil || res.Status.Terminal() {
			continue
		}
		res.FailureReason = reason
		if err := res.Transition(schemas.StatusSkipped); err != nil {
			o.logger.Error("Resolution state error", zap.Error(err))
		}
	}
}

func (o *Orchestrator) abortRun(err error) {
	o.abortOnce.Do(func() {
		o.abortErr = err
		if o.abort != nil {
			o.abort()
		}
	})
}

// groupByFile buckets incidents per file path, preserving the incidents'
// sorted order inside each bucket and ordering the buckets by path.
func groupByFile(incidents []*schemas.Incident) []fileTask {
	byFile := make(map[string][]*schemas.Incident)
	var paths []string
	for _, inc := range incidents {
		if _, seen := byFile[inc.FilePath]; !seen {
			paths = append(paths, inc.FilePath)
		}
		byFile[inc.FilePath] = append(byFile[inc.FilePath], inc)
	}
	sort.Strings(paths)

	tasks := make([]fileTask, 0, len(paths))
	for _, path := range paths {
		tasks = append(tasks, fileTask{path: path, incidents: byFile[path]})
	}
	return tasks
}
