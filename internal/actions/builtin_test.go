package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink collects audit notes.
type memorySink struct {
	notes []string
}

func (m *memorySink) Note(_ context.Context, note string) error {
	m.notes = append(m.notes, note)
	return nil
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, nil))

	for _, name := range []string{"expr.eval", "jq", "text.template", "audit.note"} {
		assert.True(t, reg.Has(name), "missing builtin %q", name)
	}
}

func TestExprEvalAction_Transform(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, nil))

	action, err := reg.Get("expr.eval")
	require.NoError(t, err)

	out, err := action.Execute(context.Background(), Input{
		Payload: "hello",
		Params:  map[string]any{"expression": `upper(payload)`},
	})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out)
}

func TestExprEvalAction_RunScope(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, nil))

	action, err := reg.Get("expr.eval")
	require.NoError(t, err)

	out, err := action.Execute(context.Background(), Input{
		Payload: "ignored",
		Params:  map[string]any{"expression": `run.query + "!"`},
		Run:     map[string]any{"query": "what changed"},
	})
	require.NoError(t, err)
	assert.Equal(t, "what changed!", out)
}

func TestExprEvalAction_MissingExpression(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, nil))

	action, err := reg.Get("expr.eval")
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), Input{Payload: "x"})
	require.Error(t, err)
}

func TestJQAction_ReshapeJSON(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, nil))

	action, err := reg.Get("jq")
	require.NoError(t, err)

	out, err := action.Execute(context.Background(), Input{
		Payload: `{"result": {"summary": "done", "noise": true}}`,
		Params:  map[string]any{"filter": `.result.summary`},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestJQAction_NonJSONPayload(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, nil))

	action, err := reg.Get("jq")
	require.NoError(t, err)

	// Non-JSON payloads are exposed under .raw.
	out, err := action.Execute(context.Background(), Input{
		Payload: "plain text",
		Params:  map[string]any{"filter": `.raw`},
	})
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestTemplateAction_Interpolation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, nil))

	action, err := reg.Get("text.template")
	require.NoError(t, err)

	out, err := action.Execute(context.Background(), Input{
		Payload: "body",
		Params:  map[string]any{"template": "Q: ${{run.query}} / P: ${{payload}}"},
		Run:     map[string]any{"query": "why"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Q: why / P: body", out)
}

func TestAuditNoteAction_SinkReceivesNote(t *testing.T) {
	sink := &memorySink{}
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, sink))

	action, err := reg.Get("audit.note")
	require.NoError(t, err)

	out, err := action.Execute(context.Background(), Input{
		Payload: "payload stays",
		Params:  map[string]any{"note": "checkpoint reached"},
	})
	require.NoError(t, err)
	assert.Equal(t, "payload stays", out)
	assert.Equal(t, []string{"checkpoint reached"}, sink.notes)
}

func TestAuditNoteAction_DefaultsToPayload(t *testing.T) {
	sink := &memorySink{}
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, sink))

	action, err := reg.Get("audit.note")
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), Input{Payload: "the note"})
	require.NoError(t, err)
	assert.Equal(t, []string{"the note"}, sink.notes)
}
