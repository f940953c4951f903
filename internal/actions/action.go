package actions

import "context"

// Action is an executable side-effect/transform step referenced by hook
// configuration. Actions receive a payload and return the (possibly
// transformed) payload; they may also perform external side effects.
type Action interface {
	Name() string
	Description() string
	Execute(ctx context.Context, in Input) (string, error)
}

// Input is the data provided to an action at execution time.
type Input struct {
	Payload string         // current hook payload
	Params  map[string]any // action-specific configuration
	Run     map[string]any // run metadata (run_id, query, strategy, ...)
	Node    map[string]any // node metadata, nil for workflow-scoped hooks
}

// ActionRegistry manages the lifecycle and lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name string) (Action, error)
	Has(name string) bool
	List() []Info
}

// Info is a summary of a registered action for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
