package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolate_NoReferences(t *testing.T) {
	out, err := Interpolate("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestInterpolate_Payload(t *testing.T) {
	out, err := Interpolate("before ${{payload}} after", &InterpolationScope{Payload: "X"})
	require.NoError(t, err)
	assert.Equal(t, "before X after", out)
}

func TestInterpolate_RunAndNodeFields(t *testing.T) {
	scope := &InterpolationScope{
		Run:  map[string]any{"query": "why is it slow"},
		Node: map[string]any{"executor_id": int64(3)},
	}

	out, err := Interpolate("q=${{run.query}} id=${{node.executor_id}}", scope)
	require.NoError(t, err)
	assert.Equal(t, "q=why is it slow id=3", out)
}

func TestInterpolate_NonStringValueIsJSON(t *testing.T) {
	scope := &InterpolationScope{
		Run: map[string]any{"tags": []string{"a", "b"}},
	}

	out, err := Interpolate("${{run.tags}}", scope)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, out)
}

func TestInterpolate_Unclosed(t *testing.T) {
	_, err := Interpolate("broken ${{payload", &InterpolationScope{})
	require.Error(t, err)
}

func TestInterpolate_EmptyReference(t *testing.T) {
	_, err := Interpolate("${{ }}", &InterpolationScope{})
	require.Error(t, err)
}

func TestInterpolate_UnknownNamespace(t *testing.T) {
	_, err := Interpolate("${{secrets.token}}", &InterpolationScope{})
	require.Error(t, err)
}

func TestInterpolate_MissingField(t *testing.T) {
	_, err := Interpolate("${{run.missing}}", &InterpolationScope{Run: map[string]any{}})
	require.Error(t, err)
}

func TestInterpolate_MultipleReferences(t *testing.T) {
	scope := &InterpolationScope{
		Payload: "p",
		Run:     map[string]any{"id": "r1"},
	}

	out, err := Interpolate("${{payload}}-${{run.id}}-${{payload}}", scope)
	require.NoError(t, err)
	assert.Equal(t, "p-r1-p", out)
}
