package runtime

import (
	"encoding/base64"
	"fmt"

	"github.com/expr-lang/expr"
)

// Custom expression functions available in all workflow expressions.
var exprFunctions = []expr.Option{
	expr.Function("base64_encode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	}),
	expr.Function("base64_decode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}),
}

// Evaluator evaluates step conditions and transform expressions with
// expr-lang against the nested session context.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

func (e *Evaluator) Eval(expression string, env map[string]any) (any, error) {
	// defined() distinguishes a missing path from one holding null.
	definedFn := expr.Function(
		"defined",
		func(params ...any) (any, error) {
			path, ok := params[0].(string)
			if !ok {
				return false, fmt.Errorf("defined() expects string path argument, got %T", params[0])
			}
			_, exists := Resolve(env, path)
			return exists, nil
		},
		new(func(string) bool),
	)

	// NOTE: expr.Env MUST come before AllowUndefinedVariables for it to work
	opts := []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		definedFn,
	}
	opts = append(opts, exprFunctions...)

	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// EvalCondition evaluates a step condition and reduces the result to
// truthiness. Locally recoverable problems never raise: an expression that
// fails to evaluate counts as falsy and is reported to the caller's logs,
// not to the session.
func (e *Evaluator) EvalCondition(condition string, env map[string]any) (bool, error) {
	result, err := e.Eval(condition, env)
	if err != nil {
		return false, err
	}
	return Truthy(result), nil
}

// Truthy applies JSON-ish truthiness: nil, false, zero numbers, empty
// strings, and empty containers are falsy; everything else is truthy.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}
