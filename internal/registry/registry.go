package registry

import (
	"sort"
	"sync"

	"github.com/dcastano/ensemble/pkg/schema"
)

// Executor is one external capability unit: a stable id bound to a role.
type Executor struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Role        schema.ExecutorRole `json:"role"`
	Description string              `json:"description,omitempty"`
}

// Registry is the lookup the plan validator and the engine resolve executor
// targets against. Implementations must be safe for concurrent use.
type Registry interface {
	Resolve(id int64) (*Executor, bool)
	FirstByRole(role schema.ExecutorRole) (*Executor, bool)
	List() []*Executor
}

// InMemoryRegistry is the concrete thread-safe Registry implementation.
type InMemoryRegistry struct {
	mu        sync.RWMutex
	executors map[int64]*Executor
}

// NewInMemoryRegistry creates an empty InMemoryRegistry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		executors: make(map[int64]*Executor),
	}
}

// Register adds an executor. Returns an error on a duplicate or reserved id.
func (r *InMemoryRegistry) Register(e *Executor) error {
	if e == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	if e.ID == schema.NoopExecutorID {
		return schema.NewErrorf(schema.ErrCodeValidation, "executor id %d is reserved", schema.NoopExecutorID)
	}
	if e.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[e.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor %d already registered", e.ID)
	}

	r.executors[e.ID] = e
	return nil
}

// Resolve retrieves an executor by id.
func (r *InMemoryRegistry) Resolve(id int64) (*Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[id]
	return e, ok
}

// FirstByRole returns the executor with the lowest id among those bound to
// the given role. Used for deterministic synthesizer fallback.
func (r *InMemoryRegistry) FirstByRole(role schema.ExecutorRole) (*Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Executor
	for _, e := range r.executors {
		if e.Role != role {
			continue
		}
		if best == nil || e.ID < best.ID {
			best = e
		}
	}
	return best, best != nil
}

// List returns all registered executors, sorted by id.
func (r *InMemoryRegistry) List() []*Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Executor, 0, len(r.executors))
	for _, e := range r.executors {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of registered executors.
func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
