// Package workflow defines the data contracts shared between a workflow
// definition author, the execution engine, and API callers: definitions,
// steps, computed-field descriptors, and the runtime-facing status shapes.
package workflow

import "time"

// StepType selects which processor handles a Step.
type StepType string

const (
	StepUserMessage     StepType = "user_message"
	StepUserInput       StepType = "user_input"
	StepMCPCall         StepType = "mcp_call"
	StepAgentPrompt     StepType = "agent_prompt"
	StepAgentResponse   StepType = "agent_response"
	StepShellCommand    StepType = "shell_command"
	StepConditional     StepType = "conditional"
	StepWhileLoop       StepType = "while_loop"
	StepForeach         StepType = "foreach"
	StepParallelForeach StepType = "parallel_foreach"
	StepBreak           StepType = "break"
	StepContinue        StepType = "continue"

	// Deprecated step types, rejected by the registry with a migration hint.
	StepStateUpdate      StepType = "state_update"
	StepBatchStateUpdate StepType = "batch_state_update"
)

// ExecutionLocation classifies where a step type is executed.
type ExecutionLocation string

const (
	LocationServer ExecutionLocation = "server"
	LocationClient ExecutionLocation = "client"
)

// StateOperation is the mutation kind applied to a state path.
type StateOperation string

const (
	OpSet       StateOperation = "set"
	OpIncrement StateOperation = "increment"
	OpAppend    StateOperation = "append"
	OpMerge     StateOperation = "merge"
)

// StateUpdate is a single {path, operation, value} mutation.
type StateUpdate struct {
	Path      string
	Operation StateOperation
	Value     any
}

// OnErrorPolicy controls what a computed field does when its transform fails.
type OnErrorPolicy string

const (
	OnErrorPropagate   OnErrorPolicy = "propagate"
	OnErrorUseFallback OnErrorPolicy = "use_fallback"
	OnErrorIgnore      OnErrorPolicy = "ignore"
)

// ErrorHandlingMode is the per-step recovery policy (spec §4.7, §7).
type ErrorHandlingMode string

const (
	ErrorHandlingFail     ErrorHandlingMode = "fail"
	ErrorHandlingContinue ErrorHandlingMode = "continue"
	ErrorHandlingRetry    ErrorHandlingMode = "retry"
	ErrorHandlingFallback ErrorHandlingMode = "fallback"
)

// ErrorHandling is the optional recovery policy attached to a step.
type ErrorHandling struct {
	Mode          ErrorHandlingMode
	RetryCount    int
	RetryDelay    time.Duration
	FallbackValue any
	FallbackPath  string
}

// ComputedFieldDescriptor declares a derived state field (spec §3).
type ComputedFieldDescriptor struct {
	// From is one or more flattened-view paths this field depends on. When
	// len(From) > 1, Transform sees `input` as an ordered array; otherwise
	// as the scalar value at From[0].
	From      []string
	Transform string
	OnError   OnErrorPolicy
	Fallback  any
}

// InputSchema declares a single declared workflow input.
type InputSchema struct {
	Type       string
	Required   bool
	Default    any
	Validation string
}

// DefaultState seeds the mutable `state` tier.
type DefaultState struct {
	State map[string]any
}

// StateSchema declares the `computed` tier.
type StateSchema struct {
	Computed map[string]ComputedFieldDescriptor
}

// Step is `{id, type, definition}`; the concrete fields used depend on Type.
// Definition is intentionally flattened into typed fields rather than a raw
// map[string]any because the engine never receives unparsed JSON — workflow
// file loading and schema validation are explicitly out of scope (spec §1).
type Step struct {
	ID   string
	Type StepType

	// user_message
	Message     string
	Format      string
	MessageType string

	// user_input / agent_prompt
	Prompt     string
	InputType  string
	Validation string
	MaxRetries int

	// mcp_call
	Tool       string
	Parameters map[string]any

	// agent_prompt
	SubAgent string

	// agent_response
	ResponseSchema map[string]any

	// shell_command
	Command          string
	ExecutionContext ExecutionLocation

	// conditional / while_loop
	Condition string
	ThenSteps []Step
	ElseSteps []Step
	Body      []Step

	// while_loop
	MaxIterations int

	// foreach
	Items         string
	Parallel      bool
	MaxConcurrent int

	// parallel_foreach
	SubAgentTask   string
	MaxParallel    int
	TimeoutSeconds float64
	WaitForAll     *bool

	// common optional fields
	StateUpdate   *StateUpdate
	StateUpdates  []StateUpdate
	Timeout       *time.Duration
	ErrorHandling *ErrorHandling
}

// SubAgentTaskDefinition is a named template instantiated as an isolated
// sub-workflow by a parallel_foreach step. It shares Definition's shape.
type SubAgentTaskDefinition = Definition

// Definition is an immutable Workflow Definition (spec §3).
type Definition struct {
	Name          string
	Description   string
	Version       string
	Inputs        map[string]InputSchema
	DefaultState  DefaultState
	StateSchema   StateSchema
	Steps         []Step
	SubAgentTasks map[string]*SubAgentTaskDefinition
}

// InstanceStatus is the lifecycle status of a Workflow Instance.
type InstanceStatus string

const (
	StatusPending   InstanceStatus = "pending"
	StatusRunning   InstanceStatus = "running"
	StatusPaused    InstanceStatus = "paused"
	StatusCompleted InstanceStatus = "completed"
	StatusFailed    InstanceStatus = "failed"
)

// StateSnapshot is the read-facing `{inputs, state, computed, raw}` shape.
type StateSnapshot struct {
	Inputs   map[string]any
	State    map[string]any
	Computed map[string]any
	Raw      map[string]any
}

// MaterializedStep is a fully variable-substituted step returned to a caller.
type MaterializedStep struct {
	ID         string
	Type       StepType
	Definition map[string]any
}

// StepBatch is the `{steps: [...]}` shape returned by get_next_step.
type StepBatch struct {
	Steps []MaterializedStep
}

// StatusSummary is the get_workflow_status response shape.
type StatusSummary struct {
	WorkflowID       string
	WorkflowName     string
	Status           InstanceStatus
	CreatedAt        time.Time
	CompletedAt      *time.Time
	TotalSteps       int
	State            StateSnapshot
	ExecutionContext map[string]any
	Warnings         []*EngineError
}

// ActiveWorkflowSummary is one entry of list_active_workflows.
type ActiveWorkflowSummary struct {
	WorkflowID   string
	WorkflowName string
	Status       InstanceStatus
	CreatedAt    time.Time
}

// SubAgentTaskStatus is the terminal or in-flight status of one fan-out task.
type SubAgentTaskStatus string

const (
	SubAgentTaskRunning   SubAgentTaskStatus = "running"
	SubAgentTaskCompleted SubAgentTaskStatus = "completed"
	SubAgentTaskFailed    SubAgentTaskStatus = "failed"
	SubAgentTaskTimeout   SubAgentTaskStatus = "timeout"
)

// SubAgentTaskResult is one entry of a parallel_foreach result map.
type SubAgentTaskResult struct {
	TaskID string
	Status SubAgentTaskStatus
	Result map[string]any
	Error  *EngineError
}

// EngineError is the `{code, message, step_id?, path?}` error shape (spec §4.9).
type EngineError struct {
	Code    ErrorCode
	Message string
	StepID  string
	Path    string
}

func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// ErrorCode enumerates the engine's typed error taxonomy (spec §4.9).
type ErrorCode string

const (
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrInvalidPath          ErrorCode = "INVALID_PATH"
	ErrVersionConflict      ErrorCode = "VERSION_CONFLICT"
	ErrCircularDependency   ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrMaxIterationsExceed  ErrorCode = "MAX_ITERATIONS_EXCEEDED"
	ErrConstraintViolation  ErrorCode = "CONSTRAINT_VIOLATION"
	ErrTimeout              ErrorCode = "TIMEOUT"
	ErrExpressionError      ErrorCode = "EXPRESSION_ERROR"
	ErrSubAgentFailed       ErrorCode = "SUBAGENT_FAILED"
	ErrSubAgentTimeout      ErrorCode = "SUBAGENT_TIMEOUT"
	ErrSubAgentTaskNotFound ErrorCode = "SUBAGENT_TASK_NOT_FOUND"
	ErrControlFlowError     ErrorCode = "CONTROL_FLOW_ERROR"
	ErrCircuitBreakerOpen   ErrorCode = "CIRCUIT_BREAKER_OPEN"
)
