package engine

import (
	"github.com/flowloom/workflowengine/pkg/workflow"
)

// materialize builds the `{id, type, definition}` shape returned to a
// caller for a client-located step (spec §6's "Materialized Step Shape"),
// running every templated field through the variable replacer against
// scope.
func (e *Engine) materialize(step workflow.Step, scope map[string]any) workflow.MaterializedStep {
	def := make(map[string]any)
	r := e.replacer

	switch step.Type {
	case workflow.StepUserMessage:
		def["message"] = r.ReplaceValue(step.Message, scope)
		if step.Format != "" {
			def["format"] = step.Format
		}
		if step.MessageType != "" {
			def["message_type"] = step.MessageType
		}

	case workflow.StepUserInput:
		def["prompt"] = r.ReplaceValue(step.Prompt, scope)
		if step.InputType != "" {
			def["input_type"] = step.InputType
		}
		if step.Validation != "" {
			def["validation"] = step.Validation
		}
		if step.MaxRetries > 0 {
			def["max_retries"] = step.MaxRetries
		}

	case workflow.StepMCPCall:
		def["tool"] = r.ReplaceValue(step.Tool, scope)
		if step.Parameters != nil {
			def["parameters"] = r.ReplaceValue(step.Parameters, scope)
		}

	case workflow.StepAgentPrompt:
		def["prompt"] = r.ReplaceValue(step.Prompt, scope)
		if step.SubAgent != "" {
			def["sub_agent"] = step.SubAgent
		}

	case workflow.StepAgentResponse:
		if step.ResponseSchema != nil {
			def["response_schema"] = step.ResponseSchema
		}

	case workflow.StepShellCommand: // execution_context == client
		def["command"] = r.ReplaceValue(step.Command, scope)
	}

	return workflow.MaterializedStep{
		ID:         step.ID,
		Type:       step.Type,
		Definition: def,
	}
}
