package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionConfig_EffectivePriority_Default(t *testing.T) {
	cfg := ActionConfig{Method: "audit.note"}
	assert.Equal(t, DefaultActionPriority, cfg.EffectivePriority())
}

func TestActionConfig_EffectivePriority_Explicit(t *testing.T) {
	cfg := ActionConfig{Method: "jq", Priority: 10}
	assert.Equal(t, 10, cfg.EffectivePriority())
}

func TestWorkflowPlan_NodeCount(t *testing.T) {
	p := &WorkflowPlan{
		Stages: []WorkflowStage{
			{Type: StageParallel, Nodes: []WorkflowNode{{ExecutorID: 1}, {ExecutorID: 2}}},
			{Type: StageSequential, Nodes: []WorkflowNode{{ExecutorID: 3}}},
		},
	}
	assert.Equal(t, 3, p.NodeCount())
}

func TestWorkflowPlan_NodeCount_Empty(t *testing.T) {
	p := &WorkflowPlan{}
	assert.Equal(t, 0, p.NodeCount())
}

func TestWorkflowPlan_WantsSynthesis(t *testing.T) {
	assert.False(t, (&WorkflowPlan{SynthesizerID: NoopExecutorID}).WantsSynthesis())
	assert.True(t, (&WorkflowPlan{SynthesizerID: 9}).WantsSynthesis())
}

func TestTaskStatus_Terminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusCancelled.Terminal())
	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusScheduled.Terminal())
	assert.False(t, TaskStatusRunning.Terminal())
}

func TestValidationResult_Valid(t *testing.T) {
	r := &ValidationResult{Outcome: OutcomeOK}
	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())

	r.AddWarning("/stages/0", ErrCodeValidation, "something odd")
	assert.True(t, r.Valid())

	r.AddError("/stages/0/nodes/0", ErrCodeUnknownExecutor, "executor 42 not found")
	assert.False(t, r.Valid())
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/synthesizer_id", ErrCodeNoSynthesizer, "no synthesizer registered")

	err := r.ToError()
	require.Error(t, err)

	ensErr, ok := err.(*EnsembleError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeNoSynthesizer, ensErr.Code)
	assert.Equal(t, "no synthesizer registered", ensErr.Message)
	assert.Equal(t, 1, ensErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/stages/0/nodes/0", ErrCodeUnknownExecutor, "executor 7 not found")
	r.AddError("/stages/0/nodes/1", ErrCodeUnknownExecutor, "executor 8 not found")

	err := r.ToError()
	require.Error(t, err)

	ensErr, ok := err.(*EnsembleError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeUnknownExecutor, ensErr.Code)
	assert.Contains(t, ensErr.Message, "2 errors")
}

func TestEnsembleError_Error(t *testing.T) {
	err := NewError(ErrCodeExecution, "boom")
	assert.Equal(t, "[EXECUTION_ERROR] boom", err.Error())

	err = err.WithNode(1, 2)
	assert.Equal(t, "[EXECUTION_ERROR] stage[1].node[2]: boom", err.Error())
}

func TestEnsembleError_Unwrap(t *testing.T) {
	cause := NewError(ErrCodeStore, "disk full")
	err := NewError(ErrCodeExecution, "task failed").WithCause(cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestNewErrorf(t *testing.T) {
	err := NewErrorf(ErrCodeNotFound, "run %s not found", "abc")
	assert.Equal(t, ErrCodeNotFound, err.Code)
	assert.Equal(t, "run abc not found", err.Message)
}
