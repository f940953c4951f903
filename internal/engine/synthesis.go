package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dcastano/ensemble/internal/logging"
	"github.com/dcastano/ensemble/internal/queue"
	"github.com/dcastano/ensemble/internal/store"
	"github.com/dcastano/ensemble/pkg/schema"
)

const synthesisNodeKey = "synthesis"

// synthesisTask builds the terminal chain element for plans that request
// synthesis. The chain guarantees it dispatches exactly once, only after
// every upstream element is terminal; the task gathers all successful
// outputs, an accounting of failures, and the original query.
func (o *Orchestrator) synthesisTask(ctx context.Context, run *store.Run, p *schema.WorkflowPlan, state *runState) *queue.Task {
	record := &store.TaskRecord{
		RunID:        run.ID,
		NodeKey:      synthesisNodeKey,
		StageIndex:   len(p.Stages),
		ExecutorID:   p.SynthesizerID,
		ExecutorName: o.executorName(p.SynthesizerID),
		Status:       schema.TaskStatusScheduled,
	}
	_ = o.store.UpsertTask(ctx, record)

	return &queue.Task{
		ID:   run.ID + "/" + synthesisNodeKey,
		Name: "synthesis",
		Run: func(taskCtx context.Context) error {
			return o.runSynthesis(taskCtx, run, p, state)
		},
	}
}

func (o *Orchestrator) runSynthesis(ctx context.Context, run *store.Run, p *schema.WorkflowPlan, state *runState) error {
	ctx = logging.WithTaskID(ctx, synthesisNodeKey)
	ctx = logging.WithExecutorID(ctx, p.SynthesizerID)

	outputs, failures := state.snapshot()
	_ = o.timeline.Record(ctx, run.ID, synthesisNodeKey, schema.EventSynthesisStarted, map[string]any{
		"succeeded": len(outputs),
		"failed":    len(failures),
	})

	started := time.Now().UTC()
	input := synthesisInput(p.OriginalQuery, outputs, failures)
	record := &store.TaskRecord{
		RunID:        run.ID,
		NodeKey:      synthesisNodeKey,
		StageIndex:   len(p.Stages),
		ExecutorID:   p.SynthesizerID,
		ExecutorName: o.executorName(p.SynthesizerID),
		Status:       schema.TaskStatusRunning,
		Input:        input,
		StartedAt:    &started,
	}
	_ = o.store.UpsertTask(ctx, record)

	synthesized, err := o.invoker.Invoke(ctx, p.SynthesizerID, input)
	completed := time.Now().UTC()
	record.CompletedAt = &completed
	record.DurationMs = completed.Sub(started).Milliseconds()

	if err != nil {
		record.Status = schema.TaskStatusFailed
		record.Error = err.Error()
		_ = o.store.UpsertTask(ctx, record)
		_ = o.timeline.Record(ctx, run.ID, synthesisNodeKey, schema.EventTaskFailed, map[string]string{"error": err.Error()})
		o.failRun(ctx, run.ID, err)
		return schema.NewError(schema.ErrCodeExecution, "synthesis failed").WithCause(err)
	}

	record.Status = schema.TaskStatusCompleted
	record.Output = synthesized
	_ = o.store.UpsertTask(ctx, record)
	_ = o.timeline.Record(ctx, run.ID, synthesisNodeKey, schema.EventSynthesisDone, map[string]string{"output": synthesized})

	if p.RequiresQA {
		o.runQAGate(ctx, run, p, synthesized)
	}

	final := o.hooks.Run(ctx, p.FinalActions, synthesized, o.runScope(run), nil)
	o.closeRun(ctx, run.ID, final, failures)
	return nil
}

// finalizeTask is the terminal chain element for plans without synthesis: it
// runs final actions against the last successful output and closes the run.
func (o *Orchestrator) finalizeTask(ctx context.Context, run *store.Run, p *schema.WorkflowPlan, state *runState) *queue.Task {
	return &queue.Task{
		ID:   run.ID + "/finalize",
		Name: "finalize",
		Run: func(taskCtx context.Context) error {
			outputs, failures := state.snapshot()
			var last string
			if len(outputs) > 0 {
				last = outputs[len(outputs)-1].Text
			}
			final := o.hooks.Run(taskCtx, p.FinalActions, last, o.runScope(run), nil)
			o.closeRun(taskCtx, run.ID, final, failures)
			return nil
		},
	}
}

// closeRun stamps the run terminal. Any node failure downgrades the status
// to completed_with_failures.
func (o *Orchestrator) closeRun(ctx context.Context, runID, output string, failures []nodeResult) {
	status := schema.RunStatusCompleted
	if len(failures) > 0 {
		status = schema.RunStatusCompletedWithFailures
	}

	outJSON, _ := json.Marshal(map[string]any{
		"output":       output,
		"failed_nodes": failures,
	})
	now := time.Now().UTC()
	_ = o.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:      &status,
		Output:      outJSON,
		CompletedAt: &now,
	})
	_ = o.timeline.Record(ctx, runID, "", schema.EventRunCompleted, map[string]any{
		"status":       string(status),
		"failed_nodes": len(failures),
	})
	o.logger.InfoContext(ctx, "run finished", "status", status, "failed_nodes", len(failures))
}

// runQAGate evaluates the synthesized response. A failed gate does not abort
// the run: the gap list is the designed feed for a follow-up plan, which is
// external to the engine.
func (o *Orchestrator) runQAGate(ctx context.Context, run *store.Run, p *schema.WorkflowPlan, synthesized string) {
	if o.qa == nil {
		o.logger.WarnContext(ctx, "qa requested but no gate configured")
		return
	}

	report, err := o.qa.Evaluate(ctx, p.OriginalQuery, synthesized)
	if err != nil {
		o.logger.WarnContext(ctx, "qa evaluation failed", "error", err)
		_ = o.timeline.Record(ctx, run.ID, "", schema.EventQAFailed, map[string]string{"error": err.Error()})
		return
	}

	eventType := schema.EventQAPassed
	if !report.Passed {
		eventType = schema.EventQAFailed
	}
	_ = o.timeline.Record(ctx, run.ID, "", eventType, report)
	o.logger.InfoContext(ctx, "qa gate evaluated",
		"passed", report.Passed,
		"completeness", report.Scores.Completeness,
		"depth", report.Scores.Depth,
		"accuracy", report.Scores.Accuracy,
		"coherence", report.Scores.Coherence,
		"gaps", len(report.Gaps))
}

// executorName resolves a display name for audit records.
func (o *Orchestrator) executorName(id int64) string {
	if exec, ok := o.registry.Resolve(id); ok {
		return exec.Name
	}
	return ""
}

// synthesisInput renders the aggregation request handed to the synthesizer.
func synthesisInput(originalQuery string, outputs, failures []nodeResult) string {
	var b strings.Builder
	b.WriteString("Original request:\n")
	b.WriteString(originalQuery)
	b.WriteString("\n\nTask results:\n")
	for i, out := range outputs {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, out.ExecutorName, out.Text)
	}
	if len(failures) > 0 {
		b.WriteString("\nFailed tasks (no output available):\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "- [%s] %s\n", f.ExecutorName, f.Text)
		}
	}
	return b.String()
}
