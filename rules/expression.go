package rules

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// expressionCostLimit bounds the work a single expression may do per evaluation
const expressionCostLimit = 1000000

// ExpressionVariable is the name the evaluation context is bound to in CEL
const ExpressionVariable = "ctx"

func newExpressionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(ExpressionVariable, cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
}

// compileExpression compiles a CEL expression into a program.
// Expressions whose type is known not to be bool are rejected.
func (en *Engine) compileExpression(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression is empty")
	}

	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", out)
	}

	prog, err := en.env.Program(ast, cel.CostLimit(expressionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// evalExpression runs prog against ctx. Errors and non-bool results count as false.
func evalExpression(prog cel.Program, ctx Context) bool {
	bound := make(map[string]any, len(ctx))
	for k, v := range ctx {
		bound[k] = celValue(v)
	}

	out, _, err := prog.Eval(map[string]any{ExpressionVariable: bound})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

// celValue converts decoded JSON numbers, which CEL would see as strings
func celValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = celValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = celValue(e)
		}
		return out
	default:
		return v
	}
}
