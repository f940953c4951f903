package expressions

import "context"

// Engine evaluates expressions inside action hooks and the QA gate.
// Three implementations: Expr (payload transforms), GoJQ (JSON reshaping),
// CEL (QA pass rules).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
