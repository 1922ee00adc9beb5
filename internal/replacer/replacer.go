// Package replacer implements the `{{ expr }}` variable interpolation used
// to materialize a step definition immediately before it is emitted or
// processed (spec §4.2). It is not a templating language: only expression
// interpolation against the flattened state view is supported.
package replacer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flowloom/workflowengine/internal/exprlang"
)

var placeholder = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Replacer materializes `{{ expr }}` occurrences against a scope.
type Replacer struct{}

// New returns a Replacer. It holds no state; a constructor keeps call sites
// uniform with this codebase's other stateless processors.
func New() *Replacer {
	return &Replacer{}
}

// ReplaceValue walks any JSON-shaped value recursively, substituting
// `{{ expr }}` occurrences found in strings. Non-string, non-map, non-slice
// values pass through unchanged.
func (r *Replacer) ReplaceValue(value any, scope map[string]any) any {
	switch v := value.(type) {
	case string:
		return r.ReplaceString(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = r.ReplaceValue(elem, scope)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = r.ReplaceValue(elem, scope)
		}
		return out
	default:
		return v
	}
}

// ReplaceString substitutes every `{{ expr }}` occurrence in s against scope.
//
// If s is exactly one `{{ expr }}` occurrence with no surrounding text, the
// result preserves the evaluated value's type (so `"{{ state.items }}"`
// yields an array, not its string form). Otherwise every substitution is
// coerced to a string. An unresolved reference (evaluator yields undefined,
// or evaluation fails with any error) renders as `<expr>` so missing inputs
// stay visible.
func (r *Replacer) ReplaceString(s string, scope map[string]any) any {
	matches := placeholder.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := strings.TrimSpace(s[matches[0][2]:matches[0][3]])
		value, resolved := r.eval(expr, scope)
		if !resolved {
			return "<" + expr + ">"
		}
		return value
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		expr := strings.TrimSpace(s[m[2]:m[3]])
		value, resolved := r.eval(expr, scope)
		if !resolved {
			b.WriteString("<" + expr + ">")
		} else {
			b.WriteString(stringify(value))
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// eval evaluates expr against scope, reporting resolved=false for anything
// the caller should render as an `<expr>` placeholder: any evaluation error
// (whatever its kind), or a result that is the dialect's undefined.
func (r *Replacer) eval(expr string, scope map[string]any) (value any, resolved bool) {
	result, evalErr := exprlang.Evaluate(expr, scope)
	if evalErr != nil {
		return nil, false
	}
	if exprlang.IsUndefined(result) {
		return nil, false
	}
	return result, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
