package plan

import (
	"fmt"

	"github.com/dcastano/ensemble/internal/registry"
	"github.com/dcastano/ensemble/pkg/schema"
)

// ActionLookup reports whether an action method exists in the action registry.
// May be nil to skip hook method checks.
type ActionLookup interface {
	Has(method string) bool
}

// Validator runs the two-stage validation/repair pipeline over raw planner
// output:
//  1. Structural (JSON Schema)
//  2. Semantic (executor resolution, strategy shape, name repair,
//     synthesizer fallback)
//
// Planner output is untrusted: it may reference nonexistent executors or
// mis-state names. Structural well-formedness never implies semantic trust.
type Validator struct {
	jsonSchema *JSONSchemaValidator
	executors  registry.Registry
	actions    ActionLookup
}

// NewValidator creates a Validator. lookup may be nil to skip action
// existence checks.
func NewValidator(executors registry.Registry, lookup ActionLookup) (*Validator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{
		jsonSchema: jsv,
		executors:  executors,
		actions:    lookup,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: the semantic stage is skipped.
//
// The semantic stage repairs the plan in place: hallucinated executor names
// are overwritten with the registry's authoritative value, and an invalid
// synthesizer target is replaced by the lowest-id synthesizer-role executor.
// Every repair is recorded as a Correction for the audit trail.
func (v *Validator) Validate(p *schema.WorkflowPlan) *schema.ValidationResult {
	result := &schema.ValidationResult{Outcome: schema.OutcomeOK}

	if p == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow plan is nil")
		result.Outcome = schema.OutcomeFatal
		return result
	}

	// Stage 1: Structural (JSON Schema).
	if structural := v.validateStructural(p); !structural.Valid() {
		structural.Outcome = schema.OutcomeFatal
		return structural
	}

	// Stage 2: Semantic.
	v.validateShape(p, result)
	v.resolveNodes(p, result)
	v.resolveSynthesizer(p, result)
	v.checkActionMethods(p, result)

	result.Outcome = deriveOutcome(result)
	return result
}

// validateStructural wraps JSONSchemaValidator.ValidatePlan, converting its
// error output into a ValidationResult.
func (v *Validator) validateStructural(p *schema.WorkflowPlan) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.jsonSchema.ValidatePlan(p)
	if err == nil {
		return result
	}

	ensErr, ok := err.(*schema.EnsembleError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if ensErr.Details != nil {
		if violations, ok := ensErr.Details["violations"].([]string); ok {
			for _, violation := range violations {
				result.AddError("/", schema.ErrCodeValidation, violation)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, ensErr.Message)
	return result
}

// validateShape enforces agreement between the declared strategy and the
// stage structure.
func (v *Validator) validateShape(p *schema.WorkflowPlan, result *schema.ValidationResult) {
	switch p.Strategy {
	case schema.StrategySimple:
		if len(p.Stages) != 1 || len(p.Stages[0].Nodes) != 1 {
			result.AddError("/stages", schema.ErrCodeValidation,
				"simple strategy requires exactly one stage with exactly one node")
		}
	case schema.StrategyParallel:
		if len(p.Stages) != 1 {
			result.AddError("/stages", schema.ErrCodeValidation,
				"parallel strategy requires exactly one stage")
		} else if p.Stages[0].Type != schema.StageParallel {
			result.AddError("/stages/0/type", schema.ErrCodeValidation,
				"parallel strategy requires a parallel stage")
		}
	case schema.StrategySequential:
		for i, stage := range p.Stages {
			if stage.Type != schema.StageSequential {
				result.AddError(fmt.Sprintf("/stages/%d/type", i), schema.ErrCodeValidation,
					"sequential strategy allows only sequential stages")
			}
		}
	case schema.StrategyMixed:
		// Any stage composition is valid.
	}
}

// resolveNodes resolves every node's executor and repairs hallucinated names.
// An unresolvable executor is fatal: there is no safe default for "run an
// unspecified task".
func (v *Validator) resolveNodes(p *schema.WorkflowPlan, result *schema.ValidationResult) {
	for si := range p.Stages {
		for ni := range p.Stages[si].Nodes {
			node := &p.Stages[si].Nodes[ni]
			ref := nodeRef(si, ni)

			exec, ok := v.executors.Resolve(node.ExecutorID)
			if !ok {
				result.AddError(ref, schema.ErrCodeUnknownExecutor,
					fmt.Sprintf("executor %d not found in registry", node.ExecutorID))
				continue
			}

			if node.ExecutorName != exec.Name {
				result.Corrections = append(result.Corrections, schema.Correction{
					Kind:    schema.CorrectionName,
					NodeRef: ref,
					Field:   "executor_name",
					Was:     node.ExecutorName,
					Now:     exec.Name,
				})
				node.ExecutorName = exec.Name
			}
		}
	}
}

// resolveSynthesizer checks the synthesis target. A missing or wrong-role
// target falls back to the lowest-id synthesizer-role executor; only an
// empty registry (no synthesizer at all) is fatal.
func (v *Validator) resolveSynthesizer(p *schema.WorkflowPlan, result *schema.ValidationResult) {
	if !p.WantsSynthesis() {
		return
	}

	exec, ok := v.executors.Resolve(p.SynthesizerID)
	if ok && exec.Role == schema.RoleSynthesizer {
		return
	}

	fallback, found := v.executors.FirstByRole(schema.RoleSynthesizer)
	if !found {
		result.AddError("/synthesizer_id", schema.ErrCodeNoSynthesizer,
			"synthesis requested but no synthesizer-role executor is registered")
		return
	}

	result.Corrections = append(result.Corrections, schema.Correction{
		Kind:  schema.CorrectionSynthesizer,
		Field: "synthesizer_id",
		Was:   fmt.Sprint(p.SynthesizerID),
		Now:   fmt.Sprint(fallback.ID),
	})
	p.SynthesizerID = fallback.ID
}

// checkActionMethods warns on unknown hook methods. Unknown methods are not
// fatal: a failing hook is isolated at runtime.
func (v *Validator) checkActionMethods(p *schema.WorkflowPlan, result *schema.ValidationResult) {
	if v.actions == nil {
		return
	}

	check := func(path string, configs []schema.ActionConfig) {
		for i, cfg := range configs {
			if !v.actions.Has(cfg.Method) {
				result.AddWarning(fmt.Sprintf("%s/%d", path, i), schema.ErrCodeValidation,
					fmt.Sprintf("unknown action method %q", cfg.Method))
			}
		}
	}

	check("/initial_actions", p.InitialActions)
	check("/final_actions", p.FinalActions)
	for si, stage := range p.Stages {
		for ni, node := range stage.Nodes {
			check(fmt.Sprintf("%s/input_actions", nodeRef(si, ni)), node.InputActions)
			check(fmt.Sprintf("%s/output_actions", nodeRef(si, ni)), node.OutputActions)
		}
	}
}

// deriveOutcome tags the result. Synthesizer substitution outranks name
// repair when both occurred.
func deriveOutcome(result *schema.ValidationResult) schema.ValidationOutcome {
	if !result.Valid() {
		return schema.OutcomeFatal
	}
	for _, c := range result.Corrections {
		if c.Kind == schema.CorrectionSynthesizer {
			return schema.OutcomeFallback
		}
	}
	if len(result.Corrections) > 0 {
		return schema.OutcomeCorrected
	}
	return schema.OutcomeOK
}

func nodeRef(stage, node int) string {
	return fmt.Sprintf("/stages/%d/nodes/%d", stage, node)
}
