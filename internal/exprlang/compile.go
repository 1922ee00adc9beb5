package exprlang

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Program is a compiled expression ready to run against many scopes.
type Program struct {
	source  string
	program *vm.Program
}

// Compile parses and compiles source, rejecting forbidden constructs before
// handing anything to expr-lang (spec §4.1: "rejected at compile time").
func Compile(source string) (*Program, *EvalError) {
	if evalErr := checkForbidden(source); evalErr != nil {
		return nil, evalErr
	}

	rewritten := applySafeNavigation(source)

	program, err := expr.Compile(rewritten, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, newError(SyntaxError, source, "%s", err.Error())
	}

	return &Program{source: source, program: program}, nil
}

// Run executes a compiled Program against scope, merged with the dialect's
// built-in Date/Math/JSON/parseInt/parseFloat namespaces.
func (p *Program) Run(scope map[string]any) (any, *EvalError) {
	env := mergeEnv(scope)

	result, err := expr.Run(p.program, env)
	if err != nil {
		return nil, classifyRuntimeError(p.source, err)
	}
	return result, nil
}

// Evaluate compiles and runs source in one call. Prefer Compile+Run when
// the same expression runs repeatedly (loop bodies, computed fields).
func Evaluate(source string, scope map[string]any) (any, *EvalError) {
	program, evalErr := Compile(source)
	if evalErr != nil {
		return nil, evalErr
	}
	return program.Run(scope)
}

func mergeEnv(scope map[string]any) map[string]any {
	env := builtinEnv()
	for k, v := range scope {
		env[k] = v
	}
	return env
}

func classifyRuntimeError(source string, err error) *EvalError {
	// expr-lang reports missing-method/type-mismatch failures as generic
	// errors; without static types to distinguish "no such field" from
	// "wrong type for operator" we default runtime failures to TypeError,
	// the dialect's catch-all for non-reference, non-syntax runtime faults.
	return newError(TypeError, source, "%s", err.Error())
}

// IsUndefined reports whether a value is the dialect's `undefined` — the
// result of safe-navigating through a missing key, or an identifier with no
// binding in scope.
func IsUndefined(v any) bool {
	return v == nil
}
