package exprlang

import (
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// forbiddenIdentifiers blocks any expression that references a host/runtime
// escape hatch, whether or not it is ultimately called.
var forbiddenIdentifiers = map[string]bool{
	"process": true,
	"global":  true,
	"window":  true,
}

// forbiddenCalls blocks calling these names regardless of what they resolve
// to in the environment (the dialect never registers them, but a caller
// could shadow them through a scope value — reject by name unconditionally).
var forbiddenCalls = map[string]bool{
	"eval":     true,
	"Function": true,
	"require":  true,
	"import":   true,
}

// checkForbidden walks the parsed expression tree and rejects the
// constructs spec §4.1 names: eval/Function/require/import calls,
// process/global/window references, and any assignment node. Rejection
// happens here, before expr.Compile, so it is a compile-time reject rather
// than a runtime one even though expr-lang would itself refuse most of
// these (it has no eval/assignment support) — this makes the rejection
// explicit and gives a typed SyntaxError with the offending name.
func checkForbidden(source string) *EvalError {
	tree, err := parser.Parse(source)
	if err != nil {
		return newError(SyntaxError, source, "%s", err.Error())
	}

	var found *EvalError
	visitor := &forbiddenVisitor{
		source: source,
		onFind: func(e *EvalError) {
			if found == nil {
				found = e
			}
		},
	}
	ast.Walk(&tree.Node, visitor)
	return found
}

type forbiddenVisitor struct {
	source string
	onFind func(*EvalError)
}

func (v *forbiddenVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if forbiddenIdentifiers[n.Value] {
			v.onFind(newError(SyntaxError, v.source, "forbidden identifier %q", n.Value))
		}
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok && forbiddenCalls[id.Value] {
			v.onFind(newError(SyntaxError, v.source, "forbidden call to %q", id.Value))
		}
	case *ast.AssignmentNode:
		v.onFind(newError(SyntaxError, v.source, "assignment is not permitted in expressions"))
	}
}
