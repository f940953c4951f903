package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dcastano/ensemble/pkg/schema"
)

// InterpolationScope holds the data available to ${{...}} references inside
// action hook payloads and templates.
type InterpolationScope struct {
	Payload string         // current hook payload
	Run     map[string]any // run metadata (run_id, query, strategy, ...)
	Node    map[string]any // node metadata (executor_id, stage_index, ...)
}

// Interpolate resolves ${{...}} references in a template string against the
// given scope. Recognized namespaces: payload, run.<field>, node.<field>.
func Interpolate(template string, scope *InterpolationScope) (string, error) {
	if !strings.Contains(template, "${{") {
		return template, nil
	}

	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "${{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 3 // skip "${{"

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeValidation, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(template[start:end])
		if expr == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "empty variable reference: ${{ }}")
		}

		val, err := resolveRef(expr, scope)
		if err != nil {
			return "", err
		}
		result.WriteString(stringify(val))

		i = end + 2 // skip "}}"
	}

	return result.String(), nil
}

// resolveRef resolves a single reference like "run.query" or "payload".
func resolveRef(expr string, scope *InterpolationScope) (any, error) {
	if scope == nil {
		scope = &InterpolationScope{}
	}

	if expr == "payload" {
		return scope.Payload, nil
	}

	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid reference %q: expected payload, run.<field> or node.<field>", expr)
	}

	var m map[string]any
	switch parts[0] {
	case "run":
		m = scope.Run
	case "node":
		m = scope.Node
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown namespace %q in ${{%s}}; available: payload, run, node", parts[0], expr)
	}

	val, ok := m[parts[1]]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"field %q not found in ${{%s}}", parts[1], expr)
	}
	return val, nil
}

// stringify converts a resolved value into its inline representation.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
