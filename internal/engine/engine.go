package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dcastano/ensemble/internal/actions"
	"github.com/dcastano/ensemble/internal/logging"
	"github.com/dcastano/ensemble/internal/plan"
	"github.com/dcastano/ensemble/internal/queue"
	"github.com/dcastano/ensemble/internal/registry"
	"github.com/dcastano/ensemble/internal/store"
	"github.com/dcastano/ensemble/pkg/schema"
)

// Invoker executes one unit of work on a concrete executor. Implementations
// are external collaborators (LLM calls, tool invocations) and must honor
// context cancellation cooperatively.
type Invoker interface {
	Invoke(ctx context.Context, executorID int64, input string) (string, error)
}

// Deps bundles the collaborators an Orchestrator needs.
type Deps struct {
	Registry registry.Registry
	Actions  *actions.Registry
	Queue    queue.Queue
	Store    store.Store
	Invoker  Invoker
	QA       *QAGate // optional; required only for plans with requires_qa
	Logger   *slog.Logger
}

// RunOptions carries per-submission settings.
type RunOptions struct {
	// DedupeKey is an optional idempotency key. A second submission with the
	// same key returns the existing run instead of starting a new one.
	DedupeKey string
}

// RunHandle identifies a submitted run.
type RunHandle struct {
	RunID      string
	Existing   bool // true when the submission deduplicated to an earlier run
	Validation *schema.ValidationResult
}

// RunProgress is the aggregate progress surface for one run.
type RunProgress struct {
	Status    schema.RunStatus `json:"status"`
	Total     int              `json:"total"`
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
	Percent   int              `json:"percent"`
}

// Orchestrator validates planner output, compiles it into chains and batches,
// and drives execution through the task queue. The compiled plan is immutable:
// all mutable run state lives in the store and in per-run accumulators.
type Orchestrator struct {
	registry  registry.Registry
	validator *plan.Validator
	hooks     *actions.Runner
	queue     queue.Queue
	store     store.Store
	timeline  *store.Timeline
	invoker   Invoker
	qa        *QAGate
	logger    *slog.Logger

	mu      sync.Mutex
	handles map[string]queue.Handle
}

// New creates an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Registry == nil || deps.Queue == nil || deps.Store == nil || deps.Invoker == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "registry, queue, store and invoker are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	validator, err := plan.NewValidator(deps.Registry, deps.Actions)
	if err != nil {
		return nil, err
	}

	timeline := store.NewTimeline(deps.Store)

	o := &Orchestrator{
		registry:  deps.Registry,
		validator: validator,
		queue:     deps.Queue,
		store:     deps.Store,
		timeline:  timeline,
		invoker:   deps.Invoker,
		qa:        deps.QA,
		logger:    logger,
		handles:   make(map[string]queue.Handle),
	}

	// Hook failures are isolated; they surface only on the timeline.
	o.hooks = actions.NewRunner(deps.Actions, logger, func(ctx context.Context, method string, err error) {
		runID := logging.RunID(ctx)
		if runID == "" {
			return
		}
		_ = timeline.Record(ctx, runID, logging.TaskID(ctx), schema.EventActionFailed,
			map[string]string{"method": method, "error": err.Error()})
	})

	return o, nil
}

// Run validates, persists and submits a plan for execution. Fatal validation
// errors abort before any side effect; a duplicate dedupe key resolves to the
// existing run.
func (o *Orchestrator) Run(ctx context.Context, p *schema.WorkflowPlan, opts RunOptions) (*RunHandle, error) {
	result := o.validator.Validate(p)
	if !result.Valid() {
		o.logger.WarnContext(ctx, "plan rejected",
			"outcome", result.Outcome, "errors", len(result.Errors))
		return nil, result.ToError()
	}

	if opts.DedupeKey != "" {
		if existing, err := o.store.GetRunByDedupeKey(ctx, opts.DedupeKey); err == nil {
			return &RunHandle{RunID: existing.ID, Existing: true, Validation: result}, nil
		}
	}

	now := time.Now().UTC()
	run := &store.Run{
		ID:            uuid.New().String(),
		DedupeKey:     opts.DedupeKey,
		OriginalQuery: p.OriginalQuery,
		Strategy:      p.Strategy,
		Plan:          *p,
		Status:        schema.RunStatusRunning,
		SynthesizerID: p.SynthesizerID,
		RequiresQA:    p.RequiresQA,
		CreatedAt:     now,
		StartedAt:     &now,
		UpdatedAt:     now,
	}

	if err := o.store.CreateRun(ctx, run); err != nil {
		var ensErr *schema.EnsembleError
		if errors.As(err, &ensErr) && ensErr.Code == schema.ErrCodeConflict {
			// Lost a race on the dedupe key; hand back the winner.
			if existing, gerr := o.store.GetRunByDedupeKey(ctx, opts.DedupeKey); gerr == nil {
				return &RunHandle{RunID: existing.ID, Existing: true, Validation: result}, nil
			}
		}
		return nil, err
	}

	// Execution outlives the submitting request.
	execCtx := logging.WithRunID(context.WithoutCancel(ctx), run.ID)

	_ = o.timeline.Record(execCtx, run.ID, "", schema.EventRunStarted, map[string]any{
		"strategy":   string(p.Strategy),
		"node_count": p.NodeCount(),
		"synthesis":  p.WantsSynthesis(),
	})
	o.recordCorrections(execCtx, run.ID, result)

	o.hooks.Run(execCtx, p.InitialActions, p.OriginalQuery, o.runScope(run), nil)

	elements, _, err := o.compile(execCtx, run, p)
	if err != nil {
		o.failRun(execCtx, run.ID, err)
		return nil, err
	}

	handle, err := o.queue.SubmitChain(execCtx, elements)
	if err != nil {
		o.failRun(execCtx, run.ID, err)
		return nil, err
	}

	o.mu.Lock()
	o.handles[run.ID] = handle
	o.mu.Unlock()

	o.logger.InfoContext(execCtx, "run submitted",
		"strategy", p.Strategy, "nodes", p.NodeCount(), "outcome", result.Outcome)

	return &RunHandle{RunID: run.ID, Validation: result}, nil
}

// RunPlan submits a plan and returns its run id. It adapts Run for callers
// that only need the identifier, such as the scheduler.
func (o *Orchestrator) RunPlan(ctx context.Context, p *schema.WorkflowPlan, dedupeKey string) (string, error) {
	handle, err := o.Run(ctx, p, RunOptions{DedupeKey: dedupeKey})
	if err != nil {
		return "", err
	}
	return handle.RunID, nil
}

// Status returns aggregate progress for a run. An unknown run yields
// not_found with zero progress.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*RunProgress, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		var ensErr *schema.EnsembleError
		if errors.As(err, &ensErr) && ensErr.Code == schema.ErrCodeNotFound {
			return &RunProgress{Status: schema.RunStatusNotFound}, nil
		}
		return nil, err
	}

	tasks, err := o.store.ListTasks(ctx, runID)
	if err != nil {
		return nil, err
	}

	progress := &RunProgress{Status: run.Status, Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case schema.TaskStatusCompleted:
			progress.Completed++
		case schema.TaskStatusFailed:
			progress.Failed++
		}
	}
	if progress.Total > 0 {
		progress.Percent = progress.Completed * 100 / progress.Total
	}
	return progress, nil
}

// Cancel marks a run cancelled and stops dispatching its remaining work.
// Already-dispatched tasks are not forcibly killed; cancellation is
// cooperative via context.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	o.mu.Lock()
	handle, ok := o.handles[runID]
	o.mu.Unlock()
	if ok {
		o.queue.Cancel(handle)
	}

	now := time.Now().UTC()
	cancelled := schema.RunStatusCancelled
	if err := o.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &cancelled, CompletedAt: &now}); err != nil {
		return err
	}
	_ = o.timeline.Record(ctx, runID, "", schema.EventRunCancelled, nil)
	o.logger.InfoContext(ctx, "run cancelled", "run_id", runID)
	return nil
}

// Timeline exposes the run event log.
func (o *Orchestrator) Timeline() *store.Timeline { return o.timeline }

// recordCorrections writes one timeline event per repair the validator made.
func (o *Orchestrator) recordCorrections(ctx context.Context, runID string, result *schema.ValidationResult) {
	for _, c := range result.Corrections {
		eventType := schema.EventNameCorrected
		if c.Kind == schema.CorrectionSynthesizer {
			eventType = schema.EventSynthesizerFallback
		}
		_ = o.timeline.Record(ctx, runID, "", eventType, c)
		o.logger.InfoContext(ctx, "plan repaired",
			"kind", string(c.Kind), "field", c.Field, "was", c.Was, "now", c.Now)
	}
}

// failRun marks a run failed before or during submission.
func (o *Orchestrator) failRun(ctx context.Context, runID string, cause error) {
	now := time.Now().UTC()
	failed := schema.RunStatusFailed
	errJSON, _ := json.Marshal(map[string]string{"error": cause.Error()})
	_ = o.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:      &failed,
		Error:       errJSON,
		CompletedAt: &now,
	})
	_ = o.timeline.Record(ctx, runID, "", schema.EventRunFailed, map[string]string{"error": cause.Error()})
	o.logger.ErrorContext(ctx, "run failed", "error", cause)
}

// runScope is the run-level context map handed to action hooks.
func (o *Orchestrator) runScope(run *store.Run) map[string]any {
	return map[string]any{
		"id":             run.ID,
		"original_query": run.OriginalQuery,
		"strategy":       string(run.Strategy),
		"requires_qa":    run.RequiresQA,
	}
}
