package exprlang

import "fmt"

// ErrorKind classifies an expression evaluation failure (spec §4.1).
type ErrorKind string

const (
	SyntaxError    ErrorKind = "SyntaxError"
	TypeError      ErrorKind = "TypeError"
	ReferenceError ErrorKind = "ReferenceError"
)

// EvalError is the typed failure returned instead of a Go error value so
// callers (the state manager, control-flow processors, the replacer) can
// branch on Kind without string matching.
type EvalError struct {
	Kind       ErrorKind
	Message    string
	Expression string
}

func (e *EvalError) Error() string {
	return string(e.Kind) + " in `" + e.Expression + "`: " + e.Message
}

func newError(kind ErrorKind, expression, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Expression: expression, Message: fmt.Sprintf(format, args...)}
}
