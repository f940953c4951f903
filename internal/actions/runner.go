package actions

import (
	"context"
	"log/slog"
	"sort"

	"github.com/dcastano/ensemble/pkg/schema"
)

// FailureHook is invoked when a single action fails, after the failure has
// been logged. It must not block; the engine uses it to append a timeline
// event.
type FailureHook func(ctx context.Context, method string, err error)

// Runner executes an ActionConfig list against a payload, in ascending
// priority order (ties keep declaration order). A single action's failure is
// caught and logged; execution continues with the unmodified payload for
// that step. A failing action never aborts the remaining list or the parent
// workflow.
type Runner struct {
	registry  ActionRegistry
	logger    *slog.Logger
	onFailure FailureHook
}

// NewRunner creates a Runner. onFailure may be nil.
func NewRunner(registry ActionRegistry, logger *slog.Logger, onFailure FailureHook) *Runner {
	return &Runner{
		registry:  registry,
		logger:    logger,
		onFailure: onFailure,
	}
}

// Run executes the configs against the payload and returns the (possibly
// transformed) payload. run and node supply metadata for the action scope;
// node is nil for workflow-scoped hooks.
func (r *Runner) Run(ctx context.Context, configs []schema.ActionConfig, payload string, run, node map[string]any) string {
	for _, cfg := range orderByPriority(configs) {
		out, err := r.runOne(ctx, cfg, payload, run, node)
		if err != nil {
			r.logger.WarnContext(ctx, "action hook failed",
				slog.String("method", cfg.Method),
				slog.String("error", err.Error()),
			)
			if r.onFailure != nil {
				r.onFailure(ctx, cfg.Method, err)
			}
			continue // payload stays at its pre-hook value for this step
		}
		payload = out
	}
	return payload
}

// runOne dispatches a single action, converting panics into errors so a
// misbehaving action cannot take down the scheduling pass.
func (r *Runner) runOne(ctx context.Context, cfg schema.ActionConfig, payload string, run, node map[string]any) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "action %q panicked: %v", cfg.Method, rec)
		}
	}()

	action, err := r.registry.Get(cfg.Method)
	if err != nil {
		return "", err
	}

	return action.Execute(ctx, Input{
		Payload: payload,
		Params:  cfg.Params,
		Run:     run,
		Node:    node,
	})
}

// orderByPriority returns the configs sorted by ascending effective priority.
// The sort is stable so equal priorities keep declaration order.
func orderByPriority(configs []schema.ActionConfig) []schema.ActionConfig {
	if len(configs) < 2 {
		return configs
	}
	ordered := make([]schema.ActionConfig, len(configs))
	copy(ordered, configs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EffectivePriority() < ordered[j].EffectivePriority()
	})
	return ordered
}
