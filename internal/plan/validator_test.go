package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcastano/ensemble/internal/registry"
	"github.com/dcastano/ensemble/pkg/schema"
)

// stubLookup reports a fixed method set.
type stubLookup struct {
	known map[string]bool
}

func (s *stubLookup) Has(method string) bool { return s.known[method] }

func testRegistry(t *testing.T) *registry.InMemoryRegistry {
	t.Helper()
	reg := registry.NewInMemoryRegistry()
	require.NoError(t, reg.Register(&registry.Executor{ID: 1, Name: "researcher", Role: schema.RoleIndividual}))
	require.NoError(t, reg.Register(&registry.Executor{ID: 2, Name: "analyst", Role: schema.RoleIndividual}))
	require.NoError(t, reg.Register(&registry.Executor{ID: 5, Name: "synthesizer", Role: schema.RoleSynthesizer}))
	return reg
}

func newTestValidator(t *testing.T, reg registry.Registry, lookup ActionLookup) *Validator {
	t.Helper()
	v, err := NewValidator(reg, lookup)
	require.NoError(t, err)
	return v
}

func simplePlan() *schema.WorkflowPlan {
	return &schema.WorkflowPlan{
		OriginalQuery: "summarize the incident",
		Strategy:      schema.StrategySimple,
		Stages: []schema.WorkflowStage{
			{Type: schema.StageSequential, Nodes: []schema.WorkflowNode{
				{ExecutorID: 1, ExecutorName: "researcher", Input: "dig in"},
			}},
		},
	}
}

func TestValidator_Validate_OK(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	result := v.Validate(simplePlan())
	assert.Equal(t, schema.OutcomeOK, result.Outcome)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Corrections)
}

func TestValidator_Validate_NilPlan(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	result := v.Validate(nil)
	assert.Equal(t, schema.OutcomeFatal, result.Outcome)
	assert.False(t, result.Valid())
}

func TestValidator_Validate_StructuralFatal(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := simplePlan()
	p.OriginalQuery = ""

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeFatal, result.Outcome)
	assert.False(t, result.Valid())
}

func TestValidator_Validate_StructuralFatal_NoStages(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := simplePlan()
	p.Stages = nil

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeFatal, result.Outcome)
}

func TestValidator_Validate_UnknownExecutorIsFatal(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := simplePlan()
	p.Stages[0].Nodes[0].ExecutorID = 42

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeFatal, result.Outcome)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeUnknownExecutor, result.Errors[0].Code)
	assert.Equal(t, "/stages/0/nodes/0", result.Errors[0].Path)
}

func TestValidator_Validate_NameCorrected(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := simplePlan()
	p.Stages[0].Nodes[0].ExecutorName = "made-up name"

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeCorrected, result.Outcome)
	assert.True(t, result.Valid())

	require.Len(t, result.Corrections, 1)
	c := result.Corrections[0]
	assert.Equal(t, schema.CorrectionName, c.Kind)
	assert.Equal(t, "/stages/0/nodes/0", c.NodeRef)
	assert.Equal(t, "made-up name", c.Was)
	assert.Equal(t, "researcher", c.Now)

	// The plan itself carries the registry's name now.
	assert.Equal(t, "researcher", p.Stages[0].Nodes[0].ExecutorName)
}

func TestValidator_Validate_NameCorrectionIdempotent(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := simplePlan()
	p.Stages[0].Nodes[0].ExecutorName = "wrong"

	first := v.Validate(p)
	assert.Equal(t, schema.OutcomeCorrected, first.Outcome)

	second := v.Validate(p)
	assert.Equal(t, schema.OutcomeOK, second.Outcome)
	assert.Empty(t, second.Corrections)
}

func TestValidator_Validate_SynthesizerFallback(t *testing.T) {
	reg := testRegistry(t)
	require.NoError(t, reg.Register(&registry.Executor{ID: 9, Name: "synth-late", Role: schema.RoleSynthesizer}))
	v := newTestValidator(t, reg, nil)

	p := simplePlan()
	p.SynthesizerID = 77 // nonexistent

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeFallback, result.Outcome)
	assert.True(t, result.Valid())

	// Lowest-id synthesizer wins deterministically.
	assert.Equal(t, int64(5), p.SynthesizerID)

	require.Len(t, result.Corrections, 1)
	assert.Equal(t, schema.CorrectionSynthesizer, result.Corrections[0].Kind)
	assert.Equal(t, "77", result.Corrections[0].Was)
	assert.Equal(t, "5", result.Corrections[0].Now)
}

func TestValidator_Validate_SynthesizerWrongRoleFallsBack(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := simplePlan()
	p.SynthesizerID = 1 // individual, not synthesizer

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeFallback, result.Outcome)
	assert.Equal(t, int64(5), p.SynthesizerID)
}

func TestValidator_Validate_NoSynthesizerIsFatal(t *testing.T) {
	reg := registry.NewInMemoryRegistry()
	require.NoError(t, reg.Register(&registry.Executor{ID: 1, Name: "researcher", Role: schema.RoleIndividual}))
	v := newTestValidator(t, reg, nil)

	p := simplePlan()
	p.SynthesizerID = 77

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeFatal, result.Outcome)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeNoSynthesizer, result.Errors[0].Code)
}

func TestValidator_Validate_NoopSynthesizerSkipsResolution(t *testing.T) {
	reg := registry.NewInMemoryRegistry()
	require.NoError(t, reg.Register(&registry.Executor{ID: 1, Name: "researcher", Role: schema.RoleIndividual}))
	v := newTestValidator(t, reg, nil)

	p := simplePlan()
	p.SynthesizerID = schema.NoopExecutorID

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeOK, result.Outcome)
	assert.Equal(t, schema.NoopExecutorID, p.SynthesizerID)
}

func TestValidator_Validate_SimpleShapeMismatch(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := simplePlan()
	p.Stages[0].Nodes = append(p.Stages[0].Nodes, schema.WorkflowNode{ExecutorID: 2, ExecutorName: "analyst", Input: "more"})

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeFatal, result.Outcome)
}

func TestValidator_Validate_ParallelShape(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := &schema.WorkflowPlan{
		OriginalQuery: "compare approaches",
		Strategy:      schema.StrategyParallel,
		Stages: []schema.WorkflowStage{
			{Type: schema.StageSequential, Nodes: []schema.WorkflowNode{
				{ExecutorID: 1, ExecutorName: "researcher", Input: "a"},
			}},
		},
	}

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeFatal, result.Outcome)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "/stages/0/type", result.Errors[0].Path)
}

func TestValidator_Validate_SequentialShape(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := &schema.WorkflowPlan{
		OriginalQuery: "step by step",
		Strategy:      schema.StrategySequential,
		Stages: []schema.WorkflowStage{
			{Type: schema.StageSequential, Nodes: []schema.WorkflowNode{
				{ExecutorID: 1, ExecutorName: "researcher", Input: "a"},
			}},
			{Type: schema.StageParallel, Nodes: []schema.WorkflowNode{
				{ExecutorID: 2, ExecutorName: "analyst", Input: "b"},
			}},
		},
	}

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeFatal, result.Outcome)
	assert.Equal(t, "/stages/1/type", result.Errors[0].Path)
}

func TestValidator_Validate_MixedShapeAcceptsAnything(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := &schema.WorkflowPlan{
		OriginalQuery: "deep dive",
		Strategy:      schema.StrategyMixed,
		Stages: []schema.WorkflowStage{
			{Type: schema.StageParallel, Nodes: []schema.WorkflowNode{
				{ExecutorID: 1, ExecutorName: "researcher", Input: "a"},
				{ExecutorID: 2, ExecutorName: "analyst", Input: "b"},
			}},
			{Type: schema.StageSequential, Nodes: []schema.WorkflowNode{
				{ExecutorID: 1, ExecutorName: "researcher", Input: "c"},
			}},
		},
	}

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeOK, result.Outcome)
}

func TestValidator_Validate_UnknownActionMethodWarns(t *testing.T) {
	lookup := &stubLookup{known: map[string]bool{"audit.note": true}}
	v := newTestValidator(t, testRegistry(t), lookup)

	p := simplePlan()
	p.InitialActions = []schema.ActionConfig{{Method: "audit.note"}, {Method: "no.such.method"}}

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeOK, result.Outcome)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "/initial_actions/1", result.Warnings[0].Path)
}

func TestValidator_Validate_FallbackOutranksCorrected(t *testing.T) {
	v := newTestValidator(t, testRegistry(t), nil)

	p := simplePlan()
	p.Stages[0].Nodes[0].ExecutorName = "wrong"
	p.SynthesizerID = 77

	result := v.Validate(p)
	assert.Equal(t, schema.OutcomeFallback, result.Outcome)
	assert.Len(t, result.Corrections, 2)
}

func TestJSONSchemaValidator_ValidPlan(t *testing.T) {
	jsv, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, jsv.ValidatePlan(simplePlan()))
}

func TestJSONSchemaValidator_EmptyNodeInput(t *testing.T) {
	jsv, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	p := simplePlan()
	p.Stages[0].Nodes[0].Input = ""
	require.Error(t, jsv.ValidatePlan(p))
}

func TestJSONSchemaValidator_BadStrategy(t *testing.T) {
	jsv, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	p := simplePlan()
	p.Strategy = "recursive"
	require.Error(t, jsv.ValidatePlan(p))
}
