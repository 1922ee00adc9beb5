package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/flowloom/workflowengine/internal/exprlang"
	"github.com/flowloom/workflowengine/internal/registry"
	"github.com/flowloom/workflowengine/internal/subagent"
	"github.com/flowloom/workflowengine/pkg/workflow"
)

// GetNextStep drives rec's frame stack forward: it resolves control flow,
// runs every server-located step it meets to completion, and materializes
// contiguous client-located steps into a batch, exactly per spec §4.7's
// per-step algorithm. The loop's only exits are an exhausted frame stack or
// an unrecoverable failure — a server step never forces an early return, so
// a batch may contain steps separated, invisibly to the caller, by shell
// commands or parallel_foreach fan-outs that already ran.
func (e *Engine) GetNextStep(ctx context.Context, workflowID string) (*workflow.StepBatch, *workflow.EngineError) {
	rec, engErr := e.lookup(workflowID)
	if engErr != nil {
		return nil, engErr
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.status == workflow.StatusCompleted || rec.status == workflow.StatusFailed {
		return nil, nil
	}

	batch := &workflow.StepBatch{}
	view := func() map[string]any {
		v, _ := e.state.GetFlattenedView(workflowID)
		return v
	}

	for {
		if rec.budget.Expired() {
			e.finishFailed(ctx, rec, &workflow.EngineError{Code: workflow.ErrTimeout, Message: "workflow exceeded its timeout budget"})
			return batch, nil
		}

		result, engErr := rec.stack.PeekNext(view)
		if warnings := rec.stack.TakeWarnings(); len(warnings) > 0 {
			rec.warnings = append(rec.warnings, warnings...)
		}
		if engErr != nil {
			if recovered, retryNow := e.handleStepError(ctx, rec, workflow.Step{}, engErr); !recovered {
				e.finishFailed(ctx, rec, engErr)
				return nil, engErr
			} else if retryNow {
				continue
			}
			rec.stack.Advance()
			continue
		}
		if result.Done {
			e.finishCompleted(ctx, rec)
			return batch, nil
		}

		step := *result.Step

		loc, engErr := registry.LocationOf(step)
		if engErr != nil {
			e.finishFailed(ctx, rec, engErr)
			return nil, engErr
		}

		// A server-located shell_command or parallel_foreach only knows its
		// state_update's full scope (stdout/results) after running, so its
		// inline update is applied alongside that run below instead of here.
		needsAmbient := loc == workflow.LocationServer &&
			(step.Type == workflow.StepShellCommand || step.Type == workflow.StepParallelForeach)
		if !needsAmbient {
			if engErr := e.applyInlineUpdates(workflowID, step, result.Scope, nil); engErr != nil {
				if recovered, retryNow := e.handleStepError(ctx, rec, step, engErr); !recovered {
					e.finishFailed(ctx, rec, engErr)
					return nil, engErr
				} else if retryNow {
					continue
				}
				rec.stack.Advance()
				continue
			}
		}

		if loc == workflow.LocationClient {
			merged := mergeOverlay(view(), result.Scope)
			batch.Steps = append(batch.Steps, e.materialize(step, merged))
			rec.stack.Advance()
			continue
		}

		switch step.Type {
		case workflow.StepParallelForeach:
			ambient, engErr := e.runParallelForeach(ctx, rec, step, result.Scope)
			if engErr == nil {
				engErr = e.applyInlineUpdates(workflowID, step, result.Scope, ambient)
			}
			if engErr != nil {
				if recovered, retryNow := e.handleStepError(ctx, rec, step, engErr); !recovered {
					e.finishFailed(ctx, rec, engErr)
					return nil, engErr
				} else if retryNow {
					continue
				}
			}
			rec.stack.Advance()

		case workflow.StepShellCommand:
			ambient, engErr := e.runShellCommand(ctx, step)
			if engErr == nil {
				engErr = e.applyInlineUpdates(workflowID, step, result.Scope, ambient)
			}
			if engErr != nil {
				if recovered, retryNow := e.handleStepError(ctx, rec, step, engErr); !recovered {
					e.finishFailed(ctx, rec, engErr)
					return nil, engErr
				} else if retryNow {
					continue
				}
			}
			rec.stack.Advance()

		default:
			rec.stack.Advance()
		}
	}
}

// mergeOverlay layers a control-flow loop overlay (item, loop, attempt_number)
// on top of the flattened state view for materialization/expression purposes.
func mergeOverlay(view, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(view)+len(overlay))
	for k, v := range view {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// applyInlineUpdates runs a step's state_update/state_updates, if present,
// through the variable replacer against scope extended with any ambient
// values a just-run server operation produced (shell's stdout/stderr/
// exit_code, or parallel_foreach's results/counts), then writes them via the
// State Manager (spec §4.7 item 6).
func (e *Engine) applyInlineUpdates(workflowID string, step workflow.Step, overlay, ambient map[string]any) *workflow.EngineError {
	if step.StateUpdate == nil && len(step.StateUpdates) == 0 {
		return nil
	}
	view, engErr := e.state.GetFlattenedView(workflowID)
	if engErr != nil {
		return engErr
	}
	scope := mergeOverlay(mergeOverlay(view, overlay), ambient)

	updates := make([]workflow.StateUpdate, 0, 1+len(step.StateUpdates))
	if step.StateUpdate != nil {
		updates = append(updates, *step.StateUpdate)
	}
	updates = append(updates, step.StateUpdates...)

	for i, u := range updates {
		updates[i].Value = e.replacer.ReplaceValue(u.Value, scope)
	}

	_, engErr = e.state.Update(workflowID, updates, nil)
	return engErr
}

// runShellCommand executes a server-located shell_command step and returns
// the ambient scope (stdout/stderr/exit_code) its state_update may reference.
// A non-zero exit code is a step failure, handled by the step's error_handling.
func (e *Engine) runShellCommand(ctx context.Context, step workflow.Step) (map[string]any, *workflow.EngineError) {
	result, engErr := e.shell.Run(ctx, step.Command, step.Timeout)
	if engErr != nil {
		engErr.StepID = step.ID
		return nil, engErr
	}
	if result.ExitCode != 0 {
		return nil, &workflow.EngineError{
			Code:    workflow.ErrConstraintViolation,
			Message: "shell_command exited with status " + strconv.Itoa(result.ExitCode),
			StepID:  step.ID,
		}
	}
	return map[string]any{
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"exit_code": result.ExitCode,
	}, nil
}

// finishCompleted and finishFailed transition an instance to a terminal
// state, releasing its admission slot and running its cleanup registry
// (spec §4.8: "the owning workflow's cleanup registry runs ... before the
// instance transitions to its terminal status.").
func (e *Engine) finishCompleted(ctx context.Context, rec *instanceRecord) {
	if rec.status == workflow.StatusCompleted || rec.status == workflow.StatusFailed {
		return
	}
	now := time.Now()
	duration := now.Sub(rec.createdAt)
	rec.cleanup.Run(ctx)
	rec.status = workflow.StatusCompleted
	rec.completedAt = &now
	e.coordinator.Gate.Release()
	e.coordinator.Breaker.RecordSuccess(ctx, rec.definition.Name)
	if e.logger != nil {
		e.logger.LogWorkflowComplete(ctx, string(workflow.StatusCompleted), duration)
	}
	if e.metrics != nil {
		e.metrics.RecordWorkflowTerminal(string(workflow.StatusCompleted), duration)
	}
}

func (e *Engine) finishFailed(ctx context.Context, rec *instanceRecord, engErr *workflow.EngineError) {
	if rec.status == workflow.StatusCompleted || rec.status == workflow.StatusFailed {
		return
	}
	now := time.Now()
	duration := now.Sub(rec.createdAt)
	rec.cleanup.Run(ctx)
	rec.status = workflow.StatusFailed
	rec.completedAt = &now
	rec.lastError = engErr
	e.coordinator.Gate.Release()
	e.coordinator.Breaker.RecordFailure(ctx, rec.definition.Name)
	if e.logger != nil {
		e.logger.ErrorContext(ctx, "workflow failed", "workflow_id", rec.id, "code", engErr.Code, "message", engErr.Message)
		e.logger.LogWorkflowComplete(ctx, string(workflow.StatusFailed), duration)
	}
	if e.metrics != nil {
		e.metrics.RecordWorkflowTerminal(string(workflow.StatusFailed), duration)
	}
}

// handleStepError applies step.ErrorHandling (spec §4.7, §7) to a failure
// surfaced while processing step. It returns recovered=true when the
// workflow should keep running (continue/retry/fallback all handled here),
// and retryNow=true when the caller should re-peek the SAME step without
// advancing past it (the retry policy).
func (e *Engine) handleStepError(ctx context.Context, rec *instanceRecord, step workflow.Step, engErr *workflow.EngineError) (recovered, retryNow bool) {
	policy := step.ErrorHandling
	if policy == nil {
		return false, false
	}

	switch policy.Mode {
	case workflow.ErrorHandlingContinue:
		rec.warnings = append(rec.warnings, engErr)
		if e.logger != nil {
			e.logger.WarnContext(ctx, "step error ignored by continue policy", "step_id", step.ID, "code", engErr.Code, "message", engErr.Message)
		}
		return true, false

	case workflow.ErrorHandlingRetry:
		// rec.mu is already held for the duration of GetNextStep's loop, so
		// this map access needs no extra locking of its own.
		key := step.ID
		rec.retries[key]++
		attempt := rec.retries[key]
		if attempt > policy.RetryCount {
			delete(rec.retries, key)
			return false, false
		}
		if policy.RetryDelay > 0 {
			time.Sleep(policy.RetryDelay)
		}
		return true, true

	case workflow.ErrorHandlingFallback:
		if policy.FallbackPath != "" {
			e.state.Update(rec.id, []workflow.StateUpdate{{Path: policy.FallbackPath, Value: policy.FallbackValue}}, nil)
		}
		rec.warnings = append(rec.warnings, engErr)
		return true, false

	default: // fail
		return false, false
	}
}

// runParallelForeach evaluates a parallel_foreach step's items and sub-agent
// task, fans it out through the subagent Orchestrator, and returns the
// ambient scope (results/task_count/succeeded_count/failed_count) its
// state_update may reference (spec §4.6, §4.7 item 4).
func (e *Engine) runParallelForeach(ctx context.Context, rec *instanceRecord, step workflow.Step, overlay map[string]any) (map[string]any, *workflow.EngineError) {
	view, engErr := e.state.GetFlattenedView(rec.id)
	if engErr != nil {
		return nil, engErr
	}
	scope := mergeOverlay(view, overlay)

	itemsVal, evalErr := exprlang.Evaluate(step.Items, scope)
	if evalErr != nil {
		return nil, &workflow.EngineError{Code: workflow.ErrExpressionError, Message: evalErr.Error(), StepID: step.ID}
	}
	items, ok := itemsVal.([]any)
	if !ok || exprlang.IsUndefined(itemsVal) {
		return nil, &workflow.EngineError{Code: workflow.ErrConstraintViolation, Message: "parallel_foreach items must evaluate to an array", StepID: step.ID}
	}

	taskDef, ok := rec.definition.SubAgentTasks[step.SubAgentTask]
	if !ok {
		return nil, &workflow.EngineError{
			Code: workflow.ErrSubAgentTaskNotFound, Message: "unknown sub_agent_task: " + step.SubAgentTask, StepID: step.ID,
		}
	}

	waitForAll := true
	if step.WaitForAll != nil {
		waitForAll = *step.WaitForAll
	}
	maxParallel := step.MaxParallel
	// The lesser of the step's timeout_seconds and the workflow's remaining budget.
	perTaskTimeout := rec.budget.Child(time.Duration(step.TimeoutSeconds * float64(time.Second))).Remaining()

	orch := subagent.NewOrchestrator(maxParallel)
	runner := &taskRunner{engine: e, rec: rec, taskDef: taskDef}
	results := orch.Run(ctx, items, waitForAll, perTaskTimeout, runner, nil)

	resultsOut := make(map[string]any, len(results))
	succeeded, failed := 0, 0
	for id, r := range results {
		entry := map[string]any{"status": string(r.Status)}
		if r.Result != nil {
			entry["result"] = toAnyMap(r.Result)
		}
		resultsOut[id] = entry
		switch r.Status {
		case workflow.SubAgentTaskCompleted:
			succeeded++
		default:
			failed++
		}
	}

	return map[string]any{
		"results":         resultsOut,
		"task_count":      len(items),
		"succeeded_count": succeeded,
		"failed_count":    failed,
	}, nil
}

func toAnyMap(m map[string]any) any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
