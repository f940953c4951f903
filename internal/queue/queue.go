package queue

import (
	"context"
	"time"
)

// TaskFunc is the unit of work dispatched by the runtime. The returned error
// marks the task failed; it never halts siblings or chain progression.
type TaskFunc func(ctx context.Context) error

// Task is one dispatchable unit, bound upstream to exactly one workflow node.
type Task struct {
	ID   string
	Name string
	Run  TaskFunc
}

// BatchSpec is a named group of tasks submitted together. All members are
// eligible for concurrent dispatch at submission time.
type BatchSpec struct {
	Group               string
	Tasks               []*Task
	AllowPartialFailure bool
	// OnComplete fires exactly once, after every member reached a terminal
	// state (success or failure). Nil is allowed.
	OnComplete func(BatchResult)
}

// BatchResult is handed to the batch completion callback.
type BatchResult struct {
	Group     string
	Total     int
	Completed int
	Failed    int
}

// Element is one chain element: exactly one of Task or Batch is set. A batch
// element gates the next chain element until 100% of its members are
// terminal.
type Element struct {
	Task  *Task
	Batch *BatchSpec
}

// Handle is an opaque identifier for a submitted chain or batch.
type Handle string

// Progress is the aggregate state of a submitted chain or batch.
type Progress struct {
	Total      int
	Completed  int
	Failed     int
	Cancelled  int
	FinishedAt *time.Time
}

// Done reports whether every task reached a terminal state.
func (p *Progress) Done() bool {
	return p.Total > 0 && p.Completed+p.Failed+p.Cancelled >= p.Total
}

// Queue is the task-queue runtime the engine submits compiled plans to.
// Implementations must never block the caller: submission returns
// immediately and completion is observed via callbacks and Status polling.
type Queue interface {
	// SubmitChain dispatches elements strictly in order: element n+1 never
	// starts before element n is terminal, even if n failed.
	SubmitChain(ctx context.Context, elements []Element) (Handle, error)

	// SubmitBatch dispatches all tasks concurrently over the worker pool.
	SubmitBatch(ctx context.Context, spec *BatchSpec) (Handle, error)

	// Status returns aggregate progress for a handle.
	Status(handle Handle) (*Progress, bool)

	// Cancel stops dispatching further work for a handle. In-flight tasks
	// are not forcibly killed; they observe context cancellation
	// cooperatively.
	Cancel(handle Handle) bool
}
