package state

import (
	"strings"

	"github.com/flowloom/workflowengine/pkg/workflow"
)

// computedGraph is the dependency DAG between a definition's computed fields.
// Leaf dependencies (state.*, inputs.*) are not nodes in the graph — only
// computed.* references create edges between computed fields.
type computedGraph struct {
	names       []string
	order       []string // evaluation order: a field's dependencies precede it
	directDeps  map[string][]string
	dependents  map[string][]string // fieldName -> computed fields that reference it
	descriptors map[string]workflow.ComputedFieldDescriptor
}

// buildComputedGraph constructs the dependency graph for a definition's
// computed fields and orders them for safe, dependency-first evaluation.
// Cycle detection follows the same visited/recursionStack DFS shape used
// elsewhere in this codebase for dependency validation.
func buildComputedGraph(schema workflow.StateSchema) (*computedGraph, *workflow.EngineError) {
	g := &computedGraph{
		directDeps:  make(map[string][]string),
		dependents:  make(map[string][]string),
		descriptors: schema.Computed,
	}
	for name, desc := range schema.Computed {
		g.names = append(g.names, name)
		g.directDeps[name] = desc.From
		for _, from := range desc.From {
			if dep, ok := strings.CutPrefix(from, "computed."); ok {
				g.dependents[dep] = append(g.dependents[dep], name)
			}
		}
	}

	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)
	var cyclicField string

	var visit func(name string) bool
	visit = func(name string) bool {
		visited[name] = true
		recursionStack[name] = true

		for _, from := range g.directDeps[name] {
			dep, isComputed := strings.CutPrefix(from, "computed.")
			if !isComputed {
				continue
			}
			if _, declared := schema.Computed[dep]; !declared {
				continue // dangling reference to an undeclared field is not a cycle
			}
			if !visited[dep] {
				if visit(dep) {
					return true
				}
			} else if recursionStack[dep] {
				cyclicField = dep
				return true
			}
		}

		recursionStack[name] = false
		g.order = append(g.order, name)
		return false
	}

	for _, name := range g.names {
		if !visited[name] {
			if visit(name) {
				return nil, &workflow.EngineError{
					Code:    workflow.ErrCircularDependency,
					Message: "circular dependency detected in computed field: " + cyclicField,
					Path:    "computed." + cyclicField,
				}
			}
		}
	}

	return g, nil
}

// affected returns the set of computed field names whose transitive
// dependencies intersect changedPaths, in dependency-first evaluation order.
func (g *computedGraph) affected(changedPaths []string) []string {
	dirty := make(map[string]bool)
	var queue []string

	changed := make(map[string]bool, len(changedPaths))
	for _, p := range changedPaths {
		changed[p] = true
	}

	for _, name := range g.names {
		for _, from := range g.directDeps[name] {
			if changed[from] {
				if !dirty[name] {
					dirty[name] = true
					queue = append(queue, name)
				}
				break
			}
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[n] {
			if !dirty[dep] {
				dirty[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	var out []string
	for _, name := range g.order {
		if dirty[name] {
			out = append(out, name)
		}
	}
	return out
}
