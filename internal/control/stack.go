package control

import (
	"github.com/flowloom/workflowengine/internal/exprlang"
	"github.com/flowloom/workflowengine/pkg/workflow"
)

// DefaultMaxIterations is the while_loop guard used when a step omits
// max_iterations (spec §4.5: "typical 25").
const DefaultMaxIterations = 25

// NextResult is what Next hands back to the step execution engine: either
// the next actionable (non-control-flow) step with the loop-scope overlay
// it should evaluate against, or Done once the frame stack has drained.
type NextResult struct {
	Step  *workflow.Step
	Scope map[string]any
	Done  bool
}

// ViewFunc produces the current flattened state view on demand — conditions
// and items expressions are evaluated against state as of the moment they
// run, not as of when Next was called, since a prior server step in the
// same Next() loop iteration may have just updated it.
type ViewFunc func() map[string]any

// Next resolves and consumes the next actionable step in one call: it is
// PeekNext followed by advancing the owning frame's program counter so the
// same step is never returned twice. Callers that need to inspect a step
// before deciding whether to process it this round (the engine's batching
// decision) use PeekNext plus a separate Advance; everyone else — including
// every test in this package — just wants the next step, consumed.
func (s *Stack) Next(view ViewFunc) (NextResult, *workflow.EngineError) {
	result, engErr := s.PeekNext(view)
	if engErr != nil || result.Done {
		return result, engErr
	}
	s.Advance()
	return result, nil
}

// Advance consumes the step last returned by PeekNext by moving the
// innermost frame's program counter past it. It must be called exactly once
// per PeekNext that returned a non-Done result before the next PeekNext
// call, or the same step is returned again.
func (s *Stack) Advance() {
	if top := s.top(); top != nil {
		top.PC++
	}
}

// PeekNext resolves every control-flow step (conditional, while_loop,
// foreach, break, continue) ahead of the frame stack's head, mutating
// frames as it goes, and returns the next actionable step — a
// shell_command, parallel_foreach, or client-located step — without
// consuming it: the current top frame's PC still points at it. The engine
// needs this split from Advance so it can decide whether to return the
// batch collected so far *before* committing to processing a server step
// (spec §4.7's batching/return-trigger rules).
func (s *Stack) PeekNext(view ViewFunc) (NextResult, *workflow.EngineError) {
	for {
		if s.Empty() {
			return NextResult{Done: true}, nil
		}
		top := s.top()

		if top.exhausted() {
			if engErr := s.handleFrameExhaustion(top, view); engErr != nil {
				return NextResult{}, engErr
			}
			continue
		}

		step := top.Steps[top.PC]
		switch step.Type {
		case workflow.StepConditional:
			if engErr := s.dispatchConditional(top, step, view); engErr != nil {
				return NextResult{}, engErr
			}
			continue
		case workflow.StepWhileLoop:
			top.PC++
			s.push(newWhileLoopFrame(step))
			continue
		case workflow.StepForeach:
			top.PC++
			frame, empty, engErr := newForeachFrame(step, view)
			if engErr != nil {
				return NextResult{}, engErr
			}
			if !empty {
				s.push(frame)
			}
			continue
		case workflow.StepBreak:
			if engErr := s.dispatchBreak(); engErr != nil {
				return NextResult{}, engErr
			}
			continue
		case workflow.StepContinue:
			if engErr := s.dispatchContinue(); engErr != nil {
				return NextResult{}, engErr
			}
			continue
		default:
			return NextResult{Step: &step, Scope: s.ScopeOverlay()}, nil
		}
	}
}

// handleFrameExhaustion decides what happens when the innermost frame's
// program counter has run off the end of its step list: a loop frame
// re-evaluates its condition (or advances its index) to decide whether to
// run another iteration; anything else simply pops.
func (s *Stack) handleFrameExhaustion(top *Frame, view ViewFunc) *workflow.EngineError {
	switch top.Kind {
	case FrameWhileLoop:
		if top.BreakRequested {
			s.pop()
			return nil
		}
		if top.Iteration >= top.MaxIterations {
			s.warn(&workflow.EngineError{
				Code:    workflow.ErrMaxIterationsExceed,
				Message: "while_loop guard fired after max_iterations without the condition becoming false",
			})
			s.pop()
			return nil
		}
		scope := mergeScope(view(), s.ScopeOverlay())
		result, evalErr := exprlang.Evaluate(top.Condition, scope)
		if evalErr != nil {
			return &workflow.EngineError{Code: workflow.ErrExpressionError, Message: evalErr.Error()}
		}
		if !isTruthy(result) {
			s.pop()
			return nil
		}
		top.Iteration++
		top.Scope["attempt_number"] = top.Iteration
		top.Steps = copySteps(top.Body)
		top.PC = 0
		return nil

	case FrameForeach:
		if top.BreakRequested {
			s.pop()
			return nil
		}
		top.Index++
		if top.Index >= len(top.Items) {
			s.pop()
			return nil
		}
		top.Scope["item"] = top.Items[top.Index]
		top.Scope["loop"] = map[string]any{"index": top.Index, "iteration": top.Index + 1}
		top.Steps = copySteps(top.Body)
		top.PC = 0
		return nil

	default: // FrameRoot
		s.pop()
		return nil
	}
}

// dispatchConditional evaluates condition and inlines the chosen branch at
// the current head of the enclosing frame. A conditional owns no frame and
// emits nothing itself.
func (s *Stack) dispatchConditional(top *Frame, step workflow.Step, view ViewFunc) *workflow.EngineError {
	scope := mergeScope(view(), s.ScopeOverlay())
	result, evalErr := exprlang.Evaluate(step.Condition, scope)
	if evalErr != nil {
		return &workflow.EngineError{Code: workflow.ErrExpressionError, Message: evalErr.Error(), StepID: step.ID}
	}
	branch := step.ElseSteps
	if isTruthy(result) {
		branch = step.ThenSteps
	}

	rest := top.Steps[top.PC+1:]
	spliced := make([]workflow.Step, 0, len(branch)+len(rest))
	spliced = append(spliced, branch...)
	spliced = append(spliced, rest...)
	top.Steps = spliced
	top.PC = 0
	return nil
}

// dispatchBreak clears the remainder of the innermost loop frame's body and
// marks it to pop unconditionally on exhaustion, rather than re-entering.
func (s *Stack) dispatchBreak() *workflow.EngineError {
	top := s.top()
	if top.Kind != FrameWhileLoop && top.Kind != FrameForeach {
		return &workflow.EngineError{Code: workflow.ErrControlFlowError, Message: "break used outside a loop frame"}
	}
	top.BreakRequested = true
	top.PC = len(top.Steps)
	return nil
}

// dispatchContinue clears only the remaining steps of the current
// iteration; the loop frame still re-evaluates for another pass.
func (s *Stack) dispatchContinue() *workflow.EngineError {
	top := s.top()
	if top.Kind != FrameWhileLoop && top.Kind != FrameForeach {
		return &workflow.EngineError{Code: workflow.ErrControlFlowError, Message: "continue used outside a loop frame"}
	}
	top.PC = len(top.Steps)
	return nil
}

func newWhileLoopFrame(step workflow.Step) *Frame {
	maxIter := step.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Frame{
		Steps:         nil,
		PC:            0,
		Scope:         map[string]any{"attempt_number": 0},
		Kind:          FrameWhileLoop,
		Condition:     step.Condition,
		Body:          step.Body,
		MaxIterations: maxIter,
	}
}

// newForeachFrame evaluates items and either returns a ready-to-push frame
// positioned at its first element, or empty=true when items was an empty
// array (spec §4.6 item 1's "empty array completes immediately" applies
// verbatim to plain foreach too).
func newForeachFrame(step workflow.Step, view ViewFunc) (frame *Frame, empty bool, engErr *workflow.EngineError) {
	scope := mergeScope(view(), nil)
	result, evalErr := exprlang.Evaluate(step.Items, scope)
	if evalErr != nil {
		return nil, false, &workflow.EngineError{Code: workflow.ErrExpressionError, Message: evalErr.Error(), StepID: step.ID}
	}
	items, ok := result.([]any)
	if !ok || exprlang.IsUndefined(result) {
		return nil, false, &workflow.EngineError{
			Code: workflow.ErrConstraintViolation, Message: "foreach items must evaluate to an array", StepID: step.ID,
		}
	}
	if len(items) == 0 {
		return nil, true, nil
	}
	return &Frame{
		Steps: copySteps(step.Body),
		Scope: map[string]any{
			"item": items[0],
			"loop": map[string]any{"index": 0, "iteration": 1},
		},
		Kind:  FrameForeach,
		Body:  step.Body,
		Items: items,
		Index: 0,
	}, false, nil
}

func mergeScope(view map[string]any, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(view)+len(overlay))
	for k, v := range view {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// isTruthy applies JavaScript-style truthiness, matching the dialect the
// expression evaluator targets: "", 0, nil, and undefined are falsy.
func isTruthy(v any) bool {
	if v == nil || exprlang.IsUndefined(v) {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
