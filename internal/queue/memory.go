package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dcastano/ensemble/pkg/schema"
)

// MemoryQueue is the in-process Queue implementation. Chains are walked by a
// dedicated goroutine per submission; batch members run on a shared bounded
// worker pool. Nothing blocks the submitting caller.
type MemoryQueue struct {
	pool *WorkerPool

	mu     sync.Mutex
	states map[Handle]*execState
}

// execState tracks one submitted chain or batch.
type execState struct {
	mu        sync.Mutex
	progress  Progress
	cancel    context.CancelFunc
	cancelled bool
}

// NewMemoryQueue creates a MemoryQueue backed by a worker pool of the given size.
func NewMemoryQueue(poolSize int) *MemoryQueue {
	return &MemoryQueue{
		pool:   NewWorkerPool(poolSize),
		states: make(map[Handle]*execState),
	}
}

// SubmitChain dispatches elements strictly in order. A failed element does
// not halt the chain; a batch element gates progression until every member
// is terminal.
func (q *MemoryQueue) SubmitChain(ctx context.Context, elements []Element) (Handle, error) {
	if len(elements) == 0 {
		return "", schema.NewError(schema.ErrCodeValidation, "chain has no elements")
	}

	total := 0
	for i, el := range elements {
		switch {
		case el.Task != nil && el.Batch == nil:
			total++
		case el.Batch != nil && el.Task == nil:
			if len(el.Batch.Tasks) == 0 {
				return "", schema.NewErrorf(schema.ErrCodeValidation, "chain element %d: batch has no tasks", i)
			}
			total += len(el.Batch.Tasks)
		default:
			return "", schema.NewErrorf(schema.ErrCodeValidation, "chain element %d must set exactly one of task or batch", i)
		}
	}

	handle, st, runCtx := q.register("chain", total, ctx)

	go func() {
		for _, el := range elements {
			if runCtx.Err() != nil {
				break
			}
			if el.Task != nil {
				q.runTask(runCtx, st, el.Task)
				continue
			}
			q.runBatch(runCtx, st, el.Batch)
		}
		q.finish(st)
	}()

	return handle, nil
}

// SubmitBatch dispatches all tasks concurrently.
func (q *MemoryQueue) SubmitBatch(ctx context.Context, spec *BatchSpec) (Handle, error) {
	if spec == nil || len(spec.Tasks) == 0 {
		return "", schema.NewError(schema.ErrCodeValidation, "batch has no tasks")
	}

	handle, st, runCtx := q.register("batch", len(spec.Tasks), ctx)

	go func() {
		q.runBatch(runCtx, st, spec)
		q.finish(st)
	}()

	return handle, nil
}

// Status returns aggregate progress for a handle.
func (q *MemoryQueue) Status(handle Handle) (*Progress, bool) {
	q.mu.Lock()
	st, ok := q.states[handle]
	q.mu.Unlock()
	if !ok {
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	snapshot := st.progress
	return &snapshot, true
}

// Cancel stops dispatching further work for a handle.
func (q *MemoryQueue) Cancel(handle Handle) bool {
	q.mu.Lock()
	st, ok := q.states[handle]
	q.mu.Unlock()
	if !ok {
		return false
	}

	st.mu.Lock()
	st.cancelled = true
	cancel := st.cancel
	st.mu.Unlock()

	cancel()
	return true
}

// Shutdown stops the underlying worker pool after in-flight work drains.
func (q *MemoryQueue) Shutdown() {
	q.pool.Shutdown()
}

// register creates an execState for a new submission.
func (q *MemoryQueue) register(kind string, total int, ctx context.Context) (Handle, *execState, context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	handle := Handle(fmt.Sprintf("%s-%s", kind, uuid.New().String()))

	st := &execState{
		progress: Progress{Total: total},
		cancel:   cancel,
	}

	q.mu.Lock()
	q.states[handle] = st
	q.mu.Unlock()

	return handle, st, runCtx
}

// runTask executes a single chain element inline in the walker goroutine so
// strict ordering holds by construction. Panics count as failures.
func (q *MemoryQueue) runTask(ctx context.Context, st *execState, task *Task) {
	if ctx.Err() != nil {
		q.bump(st, func(p *Progress) { p.Cancelled++ })
		return
	}

	err := safeRun(ctx, task.Run)
	if err != nil {
		q.bump(st, func(p *Progress) { p.Failed++ })
		return
	}
	q.bump(st, func(p *Progress) { p.Completed++ })
}

// runBatch dispatches every member to the worker pool and waits for all of
// them to reach a terminal state, then fires OnComplete exactly once.
func (q *MemoryQueue) runBatch(ctx context.Context, st *execState, spec *BatchSpec) {
	batchCtx, batchCancel := context.WithCancel(ctx)
	defer batchCancel()

	var completed, failed atomic.Int64
	var wg sync.WaitGroup

	for _, task := range spec.Tasks {
		if batchCtx.Err() != nil {
			q.bump(st, func(p *Progress) { p.Cancelled++ })
			continue
		}

		task := task
		wg.Add(1)
		err := q.pool.Submit(batchCtx, func(tctx context.Context) error {
			defer wg.Done()

			runErr := safeRun(tctx, task.Run)
			if runErr != nil {
				failed.Add(1)
				q.bump(st, func(p *Progress) { p.Failed++ })
				if !spec.AllowPartialFailure {
					batchCancel()
				}
				return runErr
			}
			completed.Add(1)
			q.bump(st, func(p *Progress) { p.Completed++ })
			return nil
		})
		if err != nil {
			// Pool rejected the submission (shutdown or cancellation).
			wg.Done()
			q.bump(st, func(p *Progress) { p.Cancelled++ })
		}
	}

	wg.Wait()

	if spec.OnComplete != nil {
		spec.OnComplete(BatchResult{
			Group:     spec.Group,
			Total:     len(spec.Tasks),
			Completed: int(completed.Load()),
			Failed:    int(failed.Load()),
		})
	}
}

// finish marks remaining undispatched tasks cancelled and stamps FinishedAt.
func (q *MemoryQueue) finish(st *execState) {
	st.mu.Lock()
	defer st.mu.Unlock()

	remaining := st.progress.Total - st.progress.Completed - st.progress.Failed - st.progress.Cancelled
	if remaining > 0 {
		st.progress.Cancelled += remaining
	}
	now := time.Now().UTC()
	st.progress.FinishedAt = &now
}

// bump applies a counter mutation under the state lock.
func (q *MemoryQueue) bump(st *execState, fn func(*Progress)) {
	st.mu.Lock()
	fn(&st.progress)
	st.mu.Unlock()
}

// safeRun executes a task function, converting panics into errors.
func safeRun(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "task panicked: %v", r)
		}
	}()
	if fn == nil {
		return schema.NewError(schema.ErrCodeValidation, "task has no run function")
	}
	return fn(ctx)
}

var _ Queue = (*MemoryQueue)(nil)
