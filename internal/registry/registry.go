// Package registry catalogs known step types with their required/optional
// field sets and execution location (spec §4.4), and rejects deprecated
// standalone state-mutation step types with a migration hint.
package registry

import (
	"fmt"

	"github.com/flowloom/workflowengine/pkg/workflow"
)

// TypeInfo describes one step type's contract.
type TypeInfo struct {
	Required []string
	Optional []string
	Location workflow.ExecutionLocation
}

// catalog is the authoritative table transcribed from spec.md §6's
// "Step Type Field Sets".
var catalog = map[workflow.StepType]TypeInfo{
	workflow.StepUserMessage: {
		Required: []string{"message"},
		Optional: []string{"format", "message_type", "state_update"},
		Location: workflow.LocationClient,
	},
	workflow.StepUserInput: {
		Required: []string{"prompt"},
		Optional: []string{"input_type", "validation", "timeout", "state_update", "max_retries"},
		Location: workflow.LocationClient,
	},
	workflow.StepMCPCall: {
		Required: []string{"tool"},
		Optional: []string{"parameters", "timeout", "state_update"},
		Location: workflow.LocationClient,
	},
	workflow.StepAgentPrompt: {
		Required: []string{"prompt"},
		Optional: []string{"sub_agent", "timeout"},
		Location: workflow.LocationClient,
	},
	workflow.StepAgentResponse: {
		Required: nil,
		Optional: []string{"state_updates", "response_schema"},
		Location: workflow.LocationClient,
	},
	workflow.StepShellCommand: {
		Required: []string{"command"},
		Optional: []string{"execution_context", "timeout", "state_update"},
		Location: workflow.LocationServer, // overridden per-step when execution_context == "client"
	},
	workflow.StepConditional: {
		Required: []string{"condition"},
		Optional: []string{"then_steps", "else_steps"},
		Location: workflow.LocationServer,
	},
	workflow.StepWhileLoop: {
		Required: []string{"condition", "body"},
		Optional: []string{"max_iterations"},
		Location: workflow.LocationServer,
	},
	workflow.StepForeach: {
		Required: []string{"items", "body"},
		Optional: []string{"parallel", "max_concurrent"},
		Location: workflow.LocationServer,
	},
	workflow.StepParallelForeach: {
		Required: []string{"items", "sub_agent_task"},
		Optional: []string{"max_parallel", "timeout_seconds", "wait_for_all"},
		Location: workflow.LocationServer,
	},
	workflow.StepBreak: {
		Location: workflow.LocationServer,
	},
	workflow.StepContinue: {
		Location: workflow.LocationServer,
	},
}

// deprecated maps a rejected legacy step type to its migration hint.
var deprecated = map[workflow.StepType]string{
	workflow.StepStateUpdate:      "state_update is no longer a standalone step type; attach a state_update field to the step that should apply it",
	workflow.StepBatchStateUpdate: "batch_state_update is no longer a standalone step type; attach a state_updates field to the step that should apply them",
}

// Lookup returns the TypeInfo for a step type, or an error: NOT_FOUND for an
// unknown type, CONSTRAINT_VIOLATION (with a migration hint) for a
// deprecated standalone type.
func Lookup(stepType workflow.StepType) (TypeInfo, *workflow.EngineError) {
	if hint, isDeprecated := deprecated[stepType]; isDeprecated {
		return TypeInfo{}, &workflow.EngineError{
			Code:    workflow.ErrConstraintViolation,
			Message: fmt.Sprintf("step type %q is deprecated: %s", stepType, hint),
		}
	}
	info, ok := catalog[stepType]
	if !ok {
		return TypeInfo{}, &workflow.EngineError{
			Code:    workflow.ErrNotFound,
			Message: fmt.Sprintf("unknown step type %q", stepType),
		}
	}
	return info, nil
}

// LocationOf resolves a step's execution location, honoring shell_command's
// execution_context override — the only step type whose location depends on
// its own field rather than being fixed by type.
func LocationOf(step workflow.Step) (workflow.ExecutionLocation, *workflow.EngineError) {
	info, engErr := Lookup(step.Type)
	if engErr != nil {
		engErr.StepID = step.ID
		return "", engErr
	}
	if step.Type == workflow.StepShellCommand && step.ExecutionContext == workflow.LocationClient {
		return workflow.LocationClient, nil
	}
	return info.Location, nil
}

// IsControlFlow reports whether a step type is handled by the control-flow
// processors rather than emitted, shelled out, or batched to the client.
func IsControlFlow(stepType workflow.StepType) bool {
	switch stepType {
	case workflow.StepConditional, workflow.StepWhileLoop, workflow.StepForeach,
		workflow.StepBreak, workflow.StepContinue:
		return true
	default:
		return false
	}
}
