package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dcastano/ensemble/internal/expressions"
	"github.com/dcastano/ensemble/pkg/schema"
)

// NoteSink receives audit notes emitted by the audit.note action.
// Satisfied by the engine's timeline writer.
type NoteSink interface {
	Note(ctx context.Context, note string) error
}

// RegisterBuiltins registers all built-in actions in the given registry.
// sink may be nil, in which case audit.note is a no-op transform.
func RegisterBuiltins(reg *Registry, sink NoteSink) error {
	all := []Action{
		&exprEvalAction{engine: expressions.NewExprEngine()},
		&jqAction{engine: expressions.NewGoJQEngine()},
		&templateAction{},
		&auditNoteAction{sink: sink},
	}

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// --- expr.eval ---

// exprEvalAction transforms the payload through an Expr expression. The
// expression sees `payload` plus the run/node metadata as variables.
type exprEvalAction struct {
	engine *expressions.ExprEngine
}

func (a *exprEvalAction) Name() string { return "expr.eval" }

func (a *exprEvalAction) Description() string {
	return "Transform the payload with an Expr expression"
}

func (a *exprEvalAction) Execute(ctx context.Context, in Input) (string, error) {
	expression, _ := in.Params["expression"].(string)
	if expression == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "expr.eval requires non-empty 'expression' string parameter")
	}

	scope := map[string]any{
		"payload": in.Payload,
		"run":     orEmpty(in.Run),
		"node":    orEmpty(in.Node),
	}

	result, err := a.engine.Evaluate(ctx, expression, scope)
	if err != nil {
		return "", err
	}
	return stringifyResult(result), nil
}

// --- jq ---

// jqAction reshapes a JSON payload with a jq filter. Non-JSON payloads are
// exposed to the filter under the "raw" key.
type jqAction struct {
	engine *expressions.GoJQEngine
}

func (a *jqAction) Name() string { return "jq" }

func (a *jqAction) Description() string {
	return "Reshape a JSON payload with a jq filter"
}

func (a *jqAction) Execute(ctx context.Context, in Input) (string, error) {
	filter, _ := in.Params["filter"].(string)
	if filter == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "jq requires non-empty 'filter' string parameter")
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(in.Payload), &doc); err != nil {
		doc = map[string]any{"raw": in.Payload}
	}

	result, err := a.engine.Evaluate(ctx, filter, doc)
	if err != nil {
		return "", err
	}
	return stringifyResult(result), nil
}

// --- text.template ---

// templateAction rewrites the payload from a ${{...}} template. The template
// may reference payload, run.<field>, and node.<field>.
type templateAction struct{}

func (a *templateAction) Name() string { return "text.template" }

func (a *templateAction) Description() string {
	return "Rewrite the payload from a template with payload/run/node references"
}

func (a *templateAction) Execute(ctx context.Context, in Input) (string, error) {
	tmpl, _ := in.Params["template"].(string)
	if tmpl == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "text.template requires non-empty 'template' string parameter")
	}

	return expressions.Interpolate(tmpl, &expressions.InterpolationScope{
		Payload: in.Payload,
		Run:     in.Run,
		Node:    in.Node,
	})
}

// --- audit.note ---

// auditNoteAction appends a note to the run timeline and passes the payload
// through unchanged. A pure side effect.
type auditNoteAction struct {
	sink NoteSink
}

func (a *auditNoteAction) Name() string { return "audit.note" }

func (a *auditNoteAction) Description() string {
	return "Append a note to the run timeline; payload passes through unchanged"
}

func (a *auditNoteAction) Execute(ctx context.Context, in Input) (string, error) {
	note, _ := in.Params["note"].(string)
	if note == "" {
		note = in.Payload
	}

	if a.sink != nil {
		if err := a.sink.Note(ctx, note); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeStore, "append audit note: %s", err.Error()).WithCause(err)
		}
	}
	return in.Payload, nil
}

// stringifyResult converts an expression result back into a payload string.
func stringifyResult(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// orEmpty substitutes an empty map for nil metadata.
func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
