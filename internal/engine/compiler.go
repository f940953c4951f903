package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dcastano/ensemble/internal/logging"
	"github.com/dcastano/ensemble/internal/queue"
	"github.com/dcastano/ensemble/internal/store"
	"github.com/dcastano/ensemble/pkg/schema"
)

// runState accumulates per-run results for the synthesis step. Each node's
// task is the single writer for its own slot; the mutex only guards the
// slices shared across batch members.
type runState struct {
	mu       sync.Mutex
	outputs  []nodeResult
	failures []nodeResult
}

type nodeResult struct {
	NodeKey      string `json:"node_key"`
	ExecutorName string `json:"executor_name"`
	Text         string `json:"text"`
}

func (s *runState) addOutput(r nodeResult) {
	s.mu.Lock()
	s.outputs = append(s.outputs, r)
	s.mu.Unlock()
}

func (s *runState) addFailure(r nodeResult) {
	s.mu.Lock()
	s.failures = append(s.failures, r)
	s.mu.Unlock()
}

func (s *runState) snapshot() (outputs, failures []nodeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]nodeResult(nil), s.outputs...), append([]nodeResult(nil), s.failures...)
}

// compile translates a validated plan into chain elements. A parallel stage
// becomes a batch tolerating partial member failure; a sequential stage
// becomes inline tasks. The chain gates each element on the previous one
// reaching a terminal state, so batches never leak partial completion into
// the next stage.
func (o *Orchestrator) compile(ctx context.Context, run *store.Run, p *schema.WorkflowPlan) ([]queue.Element, *runState, error) {
	state := &runState{}
	var elements []queue.Element

	for si, stage := range p.Stages {
		tasks := make([]*queue.Task, 0, len(stage.Nodes))
		for ni := range stage.Nodes {
			task, err := o.bindNode(ctx, run, &stage.Nodes[ni], si, ni, state)
			if err != nil {
				return nil, nil, err
			}
			tasks = append(tasks, task)
		}

		if stage.Type == schema.StageParallel {
			group := fmt.Sprintf("%s-stage-%d", run.ID, si)
			elements = append(elements, queue.Element{Batch: &queue.BatchSpec{
				Group:               group,
				Tasks:               tasks,
				AllowPartialFailure: true,
				OnComplete: func(res queue.BatchResult) {
					_ = o.timeline.Record(ctx, run.ID, "", schema.EventBatchCompleted, res)
				},
			}})
			continue
		}

		for _, task := range tasks {
			elements = append(elements, queue.Element{Task: task})
		}
	}

	if p.WantsSynthesis() {
		elements = append(elements, queue.Element{Task: o.synthesisTask(ctx, run, p, state)})
	} else {
		elements = append(elements, queue.Element{Task: o.finalizeTask(ctx, run, p, state)})
	}

	return elements, state, nil
}

// bindNode creates the execution record for one node and wraps it in a queue
// task. The (run_id, node_key) primary key guarantees the same run can never
// double-schedule the same node.
func (o *Orchestrator) bindNode(ctx context.Context, run *store.Run, node *schema.WorkflowNode, si, ni int, state *runState) (*queue.Task, error) {
	nodeKey := fmt.Sprintf("s%d-n%d", si, ni)

	record := &store.TaskRecord{
		RunID:        run.ID,
		NodeKey:      nodeKey,
		StageIndex:   si,
		NodeIndex:    ni,
		ExecutorID:   node.ExecutorID,
		ExecutorName: node.ExecutorName,
		Status:       schema.TaskStatusScheduled,
		Input:        node.Input,
	}
	if err := o.store.UpsertTask(ctx, record); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "bind task record").WithCause(err).WithNode(si, ni)
	}
	_ = o.timeline.Record(ctx, run.ID, nodeKey, schema.EventTaskScheduled, map[string]any{
		"executor_id": node.ExecutorID,
		"stage_index": si,
		"stage_type":  string(run.Plan.Stages[si].Type),
		"node_index":  ni,
	})

	bound := *node // compile-time copy; the plan stays immutable
	return &queue.Task{
		ID:   run.ID + "/" + nodeKey,
		Name: node.ExecutorName,
		Run: func(taskCtx context.Context) error {
			return o.runNode(taskCtx, run, &bound, nodeKey, si, ni, state)
		},
	}, nil
}

// runNode executes one node: input hooks, executor invocation, output hooks,
// record update. Input actions may rewrite the input; output actions may
// rewrite the stored result. Both run in the same scheduling pass as the
// task itself.
func (o *Orchestrator) runNode(ctx context.Context, run *store.Run, node *schema.WorkflowNode, nodeKey string, si, ni int, state *runState) error {
	ctx = logging.WithTaskID(ctx, nodeKey)
	ctx = logging.WithExecutorID(ctx, node.ExecutorID)

	started := time.Now().UTC()
	record := &store.TaskRecord{
		RunID:        run.ID,
		NodeKey:      nodeKey,
		StageIndex:   si,
		NodeIndex:    ni,
		ExecutorID:   node.ExecutorID,
		ExecutorName: node.ExecutorName,
		Status:       schema.TaskStatusRunning,
		Input:        node.Input,
		StartedAt:    &started,
	}
	_ = o.store.UpsertTask(ctx, record)
	_ = o.timeline.Record(ctx, run.ID, nodeKey, schema.EventTaskStarted, nil)

	nodeScope := map[string]any{
		"key":           nodeKey,
		"executor_id":   node.ExecutorID,
		"executor_name": node.ExecutorName,
		"stage_index":   si,
		"node_index":    ni,
	}

	input := o.hooks.Run(ctx, node.InputActions, node.Input, o.runScope(run), nodeScope)
	record.Input = input

	output, err := o.invoker.Invoke(ctx, node.ExecutorID, input)
	completed := time.Now().UTC()
	record.CompletedAt = &completed
	record.DurationMs = completed.Sub(started).Milliseconds()

	if err != nil {
		record.Status = schema.TaskStatusFailed
		record.Error = err.Error()
		_ = o.store.UpsertTask(ctx, record)
		_ = o.timeline.Record(ctx, run.ID, nodeKey, schema.EventTaskFailed, map[string]string{"error": err.Error()})
		state.addFailure(nodeResult{NodeKey: nodeKey, ExecutorName: node.ExecutorName, Text: err.Error()})
		o.logger.WarnContext(ctx, "task failed", "error", err)
		return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err).WithNode(si, ni)
	}

	output = o.hooks.Run(ctx, node.OutputActions, output, o.runScope(run), nodeScope)

	record.Status = schema.TaskStatusCompleted
	record.Output = output
	_ = o.store.UpsertTask(ctx, record)
	_ = o.timeline.Record(ctx, run.ID, nodeKey, schema.EventTaskCompleted, map[string]string{"output": output})
	state.addOutput(nodeResult{NodeKey: nodeKey, ExecutorName: node.ExecutorName, Text: output})
	return nil
}
