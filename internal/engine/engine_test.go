package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowloom/workflowengine/internal/state"
	"github.com/flowloom/workflowengine/internal/timeout"
	"github.com/flowloom/workflowengine/pkg/workflow"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	coordinator := timeout.NewCoordinator(0, timeout.NewCircuitBreaker(timeout.BreakerConfig{}, nil),
		time.Minute, time.Minute, time.Minute, 100*time.Millisecond)
	return New(state.NewManager(nil), coordinator, nil, nil)
}

func TestStart_ReturnsRunningWithInitialState(t *testing.T) {
	e := newTestEngine(t)
	def := &workflow.Definition{
		Name: "linear",
		Inputs: map[string]workflow.InputSchema{
			"name": {Type: "string", Required: true},
		},
		DefaultState: workflow.DefaultState{State: map[string]any{"greeted": false}},
		Steps: []workflow.Step{
			{ID: "s1", Type: workflow.StepUserMessage, Message: "hello {{ inputs.name }}",
				StateUpdate: &workflow.StateUpdate{Path: "state.greeted", Operation: workflow.OpSet, Value: true}},
		},
	}

	summary, engErr := e.Start(context.Background(), def, map[string]any{"name": "ada"})
	require.Nil(t, engErr)
	assert.Equal(t, workflow.StatusRunning, summary.Status)
	assert.Equal(t, 1, summary.TotalSteps)
	assert.Equal(t, false, summary.State.State["greeted"])
}

func TestGetNextStep_LinearWorkflowBatchesThenCompletes(t *testing.T) {
	e := newTestEngine(t)
	def := &workflow.Definition{
		Name: "linear",
		DefaultState: workflow.DefaultState{State: map[string]any{"count": 0}},
		Steps: []workflow.Step{
			{ID: "s1", Type: workflow.StepUserMessage, Message: "first",
				StateUpdate: &workflow.StateUpdate{Path: "state.count", Operation: workflow.OpIncrement, Value: 1}},
			{ID: "s2", Type: workflow.StepUserMessage, Message: "second"},
		},
	}
	summary, engErr := e.Start(context.Background(), def, nil)
	require.Nil(t, engErr)

	batch, engErr := e.GetNextStep(context.Background(), summary.WorkflowID)
	require.Nil(t, engErr)
	require.Len(t, batch.Steps, 2)
	assert.Equal(t, "s1", batch.Steps[0].ID)
	assert.Equal(t, "first", batch.Steps[0].Definition["message"])
	assert.Equal(t, "s2", batch.Steps[1].ID)

	snapshot, engErr := e.ReadState(summary.WorkflowID, nil)
	require.Nil(t, engErr)
	assert.Equal(t, 1, snapshot.State["count"])

	batch, engErr = e.GetNextStep(context.Background(), summary.WorkflowID)
	require.Nil(t, engErr)
	assert.Nil(t, batch)

	status, engErr := e.GetWorkflowStatus(summary.WorkflowID)
	require.Nil(t, engErr)
	assert.Equal(t, workflow.StatusCompleted, status.Status)
	require.NotNil(t, status.CompletedAt)
	assert.False(t, status.CompletedAt.Before(status.CreatedAt))
}

// TestGetNextStep_ConditionalElseRunsShellServerSideWithinOneBatch mirrors
// the worked conditional-else scenario: the server-located shell_command
// following the batched user_message runs within the same get_next_step
// call, and its stdout is already reflected in state by the time the
// caller inspects the returned batch.
func TestGetNextStep_ConditionalElseRunsShellServerSideWithinOneBatch(t *testing.T) {
	e := newTestEngine(t)
	def := &workflow.Definition{
		Name: "conditional-else",
		DefaultState: workflow.DefaultState{State: map[string]any{"files": ""}},
		Steps: []workflow.Step{
			{
				ID: "branch", Type: workflow.StepConditional, Condition: "false",
				ThenSteps: []workflow.Step{{ID: "skip", Type: workflow.StepUserMessage, Message: "unused"}},
				ElseSteps: []workflow.Step{
					{ID: "notify", Type: workflow.StepUserMessage, Message: "fetching"},
					{ID: "list", Type: workflow.StepShellCommand, Command: "echo hi",
						StateUpdate: &workflow.StateUpdate{Path: "state.files", Operation: workflow.OpSet, Value: "{{ stdout }}"}},
				},
			},
		},
	}
	summary, engErr := e.Start(context.Background(), def, nil)
	require.Nil(t, engErr)

	batch, engErr := e.GetNextStep(context.Background(), summary.WorkflowID)
	require.Nil(t, engErr)
	require.Len(t, batch.Steps, 1)
	assert.Equal(t, "notify", batch.Steps[0].ID)

	snapshot, engErr := e.ReadState(summary.WorkflowID, nil)
	require.Nil(t, engErr)
	assert.Equal(t, "hi\n", snapshot.State["files"])
}

func TestGetNextStep_WhileLoopExceedsMaxIterationsCompletesWithWarning(t *testing.T) {
	e := newTestEngine(t)
	def := &workflow.Definition{
		Name: "runaway-loop",
		Steps: []workflow.Step{
			{
				ID: "loop", Type: workflow.StepWhileLoop, Condition: "true", MaxIterations: 2,
				Body: []workflow.Step{{ID: "tick", Type: workflow.StepUserMessage, Message: "tick"}},
			},
		},
	}
	summary, engErr := e.Start(context.Background(), def, nil)
	require.Nil(t, engErr)

	// The guard firing is a non-fatal diagnostic (spec §4.5/§8 scenario 5):
	// the loop is treated as finished normally, and both body steps batch
	// in the same call since a client step never forces an early return.
	batch, engErr := e.GetNextStep(context.Background(), summary.WorkflowID)
	require.Nil(t, engErr)
	require.NotNil(t, batch)
	require.Len(t, batch.Steps, 2)

	batch, engErr = e.GetNextStep(context.Background(), summary.WorkflowID)
	require.Nil(t, engErr)
	require.Nil(t, batch)

	status, engErr := e.GetWorkflowStatus(summary.WorkflowID)
	require.Nil(t, engErr)
	assert.Equal(t, workflow.StatusCompleted, status.Status)
	require.Len(t, status.Warnings, 1)
	assert.Equal(t, workflow.ErrMaxIterationsExceed, status.Warnings[0].Code)
}

func TestUpdateState_AtomicBatchRejectionLeavesStateUnchanged(t *testing.T) {
	e := newTestEngine(t)
	def := &workflow.Definition{
		Name:         "rejectable",
		DefaultState: workflow.DefaultState{State: map[string]any{"a": 1}},
	}
	summary, engErr := e.Start(context.Background(), def, nil)
	require.Nil(t, engErr)

	_, engErr = e.UpdateState(summary.WorkflowID, []workflow.StateUpdate{
		{Path: "state.a", Operation: workflow.OpSet, Value: 2},
		{Path: "not.a.real.tier", Operation: workflow.OpSet, Value: 3},
	})
	require.NotNil(t, engErr)
	assert.Equal(t, workflow.ErrInvalidPath, engErr.Code)

	snapshot, engErr := e.ReadState(summary.WorkflowID, nil)
	require.Nil(t, engErr)
	assert.Equal(t, 1, snapshot.State["a"])
}

func TestUpdateState_NormalizesRawAliasToStateTier(t *testing.T) {
	e := newTestEngine(t)
	def := &workflow.Definition{
		Name:         "raw-alias",
		DefaultState: workflow.DefaultState{State: map[string]any{"a": 1}},
	}
	summary, engErr := e.Start(context.Background(), def, nil)
	require.Nil(t, engErr)

	snapshot, engErr := e.UpdateState(summary.WorkflowID, []workflow.StateUpdate{
		{Path: "raw.a", Operation: workflow.OpSet, Value: 9},
	})
	require.Nil(t, engErr)
	assert.Equal(t, 9, snapshot.State["a"])
}

func TestGetNextStep_ErrorHandlingContinueSurvivesAndWarns(t *testing.T) {
	e := newTestEngine(t)
	def := &workflow.Definition{
		Name: "continue-on-error",
		Steps: []workflow.Step{
			{
				ID: "bad", Type: workflow.StepShellCommand, Command: "exit 1",
				ErrorHandling: &workflow.ErrorHandling{Mode: workflow.ErrorHandlingContinue},
			},
			{ID: "after", Type: workflow.StepUserMessage, Message: "still running"},
		},
	}
	summary, engErr := e.Start(context.Background(), def, nil)
	require.Nil(t, engErr)

	batch, engErr := e.GetNextStep(context.Background(), summary.WorkflowID)
	require.Nil(t, engErr)
	require.Len(t, batch.Steps, 1)
	assert.Equal(t, "after", batch.Steps[0].ID)

	status, engErr := e.GetWorkflowStatus(summary.WorkflowID)
	require.Nil(t, engErr)
	assert.Equal(t, workflow.StatusCompleted, status.Status)
	require.Len(t, status.Warnings, 1)
	assert.Equal(t, "bad", status.Warnings[0].StepID)
}

func TestGetNextStep_ErrorHandlingFallbackWritesFallbackValue(t *testing.T) {
	e := newTestEngine(t)
	def := &workflow.Definition{
		Name:         "fallback-on-error",
		DefaultState: workflow.DefaultState{State: map[string]any{"result": nil}},
		Steps: []workflow.Step{
			{
				ID: "risky", Type: workflow.StepShellCommand, Command: "exit 1",
				ErrorHandling: &workflow.ErrorHandling{
					Mode: workflow.ErrorHandlingFallback, FallbackPath: "state.result", FallbackValue: "default",
				},
			},
			{ID: "after", Type: workflow.StepUserMessage, Message: "after fallback"},
		},
	}
	summary, engErr := e.Start(context.Background(), def, nil)
	require.Nil(t, engErr)

	batch, engErr := e.GetNextStep(context.Background(), summary.WorkflowID)
	require.Nil(t, engErr)
	require.Len(t, batch.Steps, 1)

	snapshot, engErr := e.ReadState(summary.WorkflowID, nil)
	require.Nil(t, engErr)
	assert.Equal(t, "default", snapshot.State["result"])
}

func TestParallelForeach_IsolatesPerTaskResults(t *testing.T) {
	e := newTestEngine(t)
	def := &workflow.Definition{
		Name: "fan-out",
		SubAgentTasks: map[string]*workflow.SubAgentTaskDefinition{
			"double": {
				Name: "double",
				Steps: []workflow.Step{
					{ID: "compute", Type: workflow.StepAgentResponse,
						StateUpdate: &workflow.StateUpdate{Path: "state.result", Operation: workflow.OpSet, Value: "{{ item }}"}},
				},
			},
		},
		Steps: []workflow.Step{
			{
				ID: "fan", Type: workflow.StepParallelForeach,
				Items: "[1, 2, 3]", SubAgentTask: "double", MaxParallel: 2,
			},
		},
	}
	summary, engErr := e.Start(context.Background(), def, nil)
	require.Nil(t, engErr)

	batch, engErr := e.GetNextStep(context.Background(), summary.WorkflowID)
	require.Nil(t, engErr)
	assert.Empty(t, batch.Steps)

	status, engErr := e.GetWorkflowStatus(summary.WorkflowID)
	require.Nil(t, engErr)
	assert.Equal(t, workflow.StatusCompleted, status.Status)
}

func TestCircuitBreakerOpen_RejectsStart(t *testing.T) {
	breaker := timeout.NewCircuitBreaker(timeout.BreakerConfig{
		Enabled: true, FailureThreshold: 1, Window: time.Minute, CooldownPeriod: time.Minute,
	}, nil)
	breaker.RecordFailure(context.Background(), "breaker-test")

	coordinator := timeout.NewCoordinator(0, breaker, time.Minute, time.Minute, time.Minute, time.Second)
	e := New(state.NewManager(nil), coordinator, nil, nil)

	def := &workflow.Definition{Name: "breaker-test"}
	_, engErr := e.Start(context.Background(), def, nil)
	require.NotNil(t, engErr)
	assert.Equal(t, workflow.ErrCircuitBreakerOpen, engErr.Code)
}
