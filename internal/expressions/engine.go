package expressions

import (
	"context"
	"strings"

	"github.com/rendis/autoflow/pkg/schema"
)

// Engine evaluates CALCULATE formulas against a record environment.
// Three implementations: Expr (default), CEL and GoJQ.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// New returns the engine registered under name ("expr", "cel" or "jq").
// An empty name selects expr.
func New(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "expr":
		return NewExprEngine(), nil
	case "cel":
		return NewCELEngine()
	case "jq", "gojq":
		return NewGoJQEngine(), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown formula engine %q", name).
			WithDetails(map[string]any{"supported": []string{"expr", "cel", "jq"}})
	}
}
