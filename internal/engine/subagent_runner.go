package engine

import (
	"context"

	"github.com/flowloom/workflowengine/internal/control"
	"github.com/flowloom/workflowengine/internal/registry"
	"github.com/flowloom/workflowengine/pkg/workflow"
)

// taskRunner implements subagent.TaskRunner: it drives one parallel_foreach
// item through its own isolated Workflow Instance — a fresh state tier and
// frame stack bound to the sub-agent task definition — to completion, and
// surfaces that instance's final `state` tier as the task's Result (spec
// §4.6 item 7: "each task's default_state/state_schema govern its own
// isolated state; the parent never sees it directly except through the
// result map.").
type taskRunner struct {
	engine  *Engine
	rec     *instanceRecord
	taskDef *workflow.SubAgentTaskDefinition
}

func (tr *taskRunner) Run(ctx context.Context, taskID string, item any, index, total int) (map[string]any, *workflow.EngineError) {
	e := tr.engine
	subID := tr.rec.id + ":" + taskID

	inputs := map[string]any{"item": item, "index": index, "total": total}
	for name, s := range tr.taskDef.Inputs {
		if s.Default != nil {
			inputs[name] = s.Default
		}
	}

	if _, engErr := e.state.Initialize(subID, inputs, tr.taskDef.DefaultState, tr.taskDef.StateSchema); engErr != nil {
		return nil, engErr
	}
	defer e.state.Delete(subID)

	stack := control.NewStack(tr.taskDef.Steps)
	view := func() map[string]any {
		v, _ := e.state.GetFlattenedView(subID)
		return v
	}

	for {
		if ctx.Err() != nil {
			return nil, &workflow.EngineError{Code: workflow.ErrSubAgentTimeout, Message: "sub-agent task context cancelled", StepID: taskID}
		}

		result, engErr := stack.PeekNext(view)
		if engErr != nil {
			return nil, engErr
		}
		if result.Done {
			snapshot, engErr := e.state.Read(subID, nil)
			if engErr != nil {
				return nil, engErr
			}
			return snapshot.State, nil
		}

		step := *result.Step

		loc, engErr := registry.LocationOf(step)
		if engErr != nil {
			return nil, engErr
		}

		// Mirror the main loop's needsAmbient guard: a server shell_command's
		// state_update may reference {{ stdout }}/{{ stderr }}/{{ exit_code }},
		// which only exist once it has run, so its inline update is applied
		// alongside that run instead of here.
		needsAmbient := loc == workflow.LocationServer && step.Type == workflow.StepShellCommand
		if !needsAmbient {
			if engErr := e.applyInlineUpdates(subID, step, result.Scope, nil); engErr != nil {
				return nil, engErr
			}
		}

		switch {
		case step.Type == workflow.StepShellCommand && loc == workflow.LocationServer:
			ambient, engErr := e.runShellCommand(ctx, step)
			if engErr == nil {
				engErr = e.applyInlineUpdates(subID, step, result.Scope, ambient)
			}
			if engErr != nil {
				return nil, engErr
			}
		case step.Type == workflow.StepParallelForeach:
			// A nested fan-out within a sub-agent task is not supported;
			// rather than deadlock the orchestrator's bounded semaphore, it
			// fails fast with a descriptive error.
			return nil, &workflow.EngineError{
				Code: workflow.ErrSubAgentFailed, Message: "nested parallel_foreach inside a sub_agent_task is not supported", StepID: step.ID,
			}
		}
		// Client-located steps inside a sub-agent task carry no external
		// executor at fan-out depth; their only observable effect is the
		// inline state_update already applied above, so they're skipped.

		stack.Advance()
	}
}
