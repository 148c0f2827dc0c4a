package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/autoflow/pkg/schema"
)

// ExprEngine evaluates formulas with expr-lang/expr, the default engine.
//
// Attribute ids and names that are valid identifiers are lifted to the top
// level, so "price * qty" works. Anything else goes through the maps:
// values["3f2a9c1e-..."] or fields["unit price"]. A lifted key that collides
// with an expr builtin (len, sum, max...) resolves to the builtin.
type ExprEngine struct {
	programs *programCache[*vm.Program]
}

// NewExprEngine creates an ExprEngine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs formula against the record environment built by BuildEnv.
func (e *ExprEngine) Evaluate(ctx context.Context, formula string, data map[string]any) (any, error) {
	if formula == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	if err := ctx.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeTimeout, "formula evaluation cancelled").WithCause(err)
	}

	prg, err := e.programs.load(formula, compileExpr)
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, flattenEnv(data))
	if err != nil {
		return nil, evalError("expr", formula, err)
	}
	return out, nil
}

// compileExpr compiles against an untyped environment so one program serves
// records whose values differ in type. The "values" builtin is disabled so
// the name resolves to the environment map.
func compileExpr(formula string) (*vm.Program, error) {
	prg, err := expr.Compile(formula,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.DisableBuiltin(KeyValues),
	)
	if err != nil {
		return nil, compileError("expr", formula, err)
	}
	return prg, nil
}

// flattenEnv copies data and lifts identifier-shaped attribute ids, then
// names, to the top level. Keys already present are never overwritten, so
// ids win over names and the reserved maps win over both.
func flattenEnv(data map[string]any) map[string]any {
	env := make(map[string]any, len(data)+8)
	for k, v := range data {
		env[k] = v
	}
	for _, key := range []string{KeyValues, KeyFields} {
		m, _ := data[key].(map[string]any)
		for k, v := range m {
			if !isIdentifier(k) {
				continue
			}
			if _, taken := env[k]; taken {
				continue
			}
			env[k] = v
		}
	}
	return env
}

var _ Engine = (*ExprEngine)(nil)
