package expressions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcastano/ensemble/pkg/schema"
)

func TestExprEngine_Evaluate_String(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `upper(payload)`, map[string]any{"payload": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out)
}

func TestExprEngine_Evaluate_PipeChain(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `payload | trim() | upper()`, map[string]any{"payload": "  ok  "})
	require.NoError(t, err)
	assert.Equal(t, "OK", out)
}

func TestExprEngine_Evaluate_NilCoalescing(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `missing ?? "default"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "default", out)
}

func TestExprEngine_Evaluate_Empty(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)

	var ensErr *schema.EnsembleError
	require.True(t, errors.As(err, &ensErr))
	assert.Equal(t, schema.ErrCodeValidation, ensErr.Code)
}

func TestExprEngine_Evaluate_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), `payload +`, map[string]any{"payload": "x"})
	require.Error(t, err)

	var ensErr *schema.EnsembleError
	require.True(t, errors.As(err, &ensErr))
	assert.Equal(t, schema.ErrCodeValidation, ensErr.Code)
}

func TestExprEngine_Evaluate_CacheReuse(t *testing.T) {
	e := NewExprEngine()

	for i := 0; i < 3; i++ {
		out, err := e.Evaluate(context.Background(), `len(payload)`, map[string]any{"payload": "abcd"})
		require.NoError(t, err)
		assert.EqualValues(t, 4, out)
	}
	assert.Len(t, e.cache, 1)
}

func TestGoJQEngine_Evaluate_Select(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.result.items | length`, map[string]any{
		"result": map[string]any{"items": []any{"a", "b"}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out)
}

func TestGoJQEngine_Evaluate_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.items[]`, map[string]any{
		"items": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQEngine_Evaluate_NoOutput(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.items[]`, map[string]any{
		"items": []any{},
	})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQEngine_Evaluate_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.[unclosed`, map[string]any{})
	require.Error(t, err)

	var ensErr *schema.EnsembleError
	require.True(t, errors.As(err, &ensErr))
	assert.Equal(t, schema.ErrCodeValidation, ensErr.Code)
}

func TestGoJQEngine_Evaluate_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `env.HOME`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCELEngine_Evaluate_PassRule(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	rule := `scores.completeness >= 80.0 && gaps.critical == 0.0`
	out, err := e.Evaluate(context.Background(), rule, map[string]any{
		"scores": map[string]any{"completeness": 90.0},
		"gaps":   map[string]any{"critical": 0.0},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), rule, map[string]any{
		"scores": map[string]any{"completeness": 60.0},
		"gaps":   map[string]any{"critical": 0.0},
	})
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCELEngine_Evaluate_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `scores.completeness >=`, nil)
	require.Error(t, err)

	var ensErr *schema.EnsembleError
	require.True(t, errors.As(err, &ensErr))
	assert.Equal(t, schema.ErrCodeValidation, ensErr.Code)
}

func TestCELEngine_Evaluate_Empty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}
