package subagent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowloom/workflowengine/pkg/workflow"
)

type funcRunner func(ctx context.Context, taskID string, item any, index, total int) (map[string]any, *workflow.EngineError)

func (f funcRunner) Run(ctx context.Context, taskID string, item any, index, total int) (map[string]any, *workflow.EngineError) {
	return f(ctx, taskID, item, index, total)
}

func TestRunEmptyItemsCompletesImmediately(t *testing.T) {
	o := NewOrchestrator(4)
	out := o.Run(context.Background(), nil, true, 0, funcRunner(func(ctx context.Context, taskID string, item any, index, total int) (map[string]any, *workflow.EngineError) {
		t.Fatal("should not be called")
		return nil, nil
	}), nil)
	assert.Empty(t, out)
}

func TestRunAllSucceedWaitForAll(t *testing.T) {
	o := NewOrchestrator(3)
	items := []any{"a", "b", "c"}
	out := o.Run(context.Background(), items, true, 0, funcRunner(func(ctx context.Context, taskID string, item any, index, total int) (map[string]any, *workflow.EngineError) {
		return map[string]any{"item": item, "total": total}, nil
	}), nil)

	require.Len(t, out, 3)
	for _, r := range out {
		assert.Equal(t, workflow.SubAgentTaskCompleted, r.Status)
	}
}

func TestFailureIsolationPeersStillCompleteWaitForAll(t *testing.T) {
	o := NewOrchestrator(4)
	items := []any{"ok", "fail", "ok2"}
	out := o.Run(context.Background(), items, true, 0, funcRunner(func(ctx context.Context, taskID string, item any, index, total int) (map[string]any, *workflow.EngineError) {
		if item == "fail" {
			return nil, &workflow.EngineError{Code: workflow.ErrSubAgentFailed, Message: "boom"}
		}
		return map[string]any{"item": item}, nil
	}), nil)

	require.Len(t, out, 3)
	var failed, completed int
	for _, r := range out {
		switch r.Status {
		case workflow.SubAgentTaskFailed:
			failed++
		case workflow.SubAgentTaskCompleted:
			completed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, completed)
}

func TestWaitForAllFalseReturnsBeforeSlowStragglerFinishes(t *testing.T) {
	o := NewOrchestrator(4)
	release := make(chan struct{})
	items := []any{"fail", "slow"}

	start := time.Now()
	out := o.Run(context.Background(), items, false, 0, funcRunner(func(ctx context.Context, taskID string, item any, index, total int) (map[string]any, *workflow.EngineError) {
		if item == "fail" {
			return nil, &workflow.EngineError{Code: workflow.ErrSubAgentFailed, Message: "boom"}
		}
		<-release // "slow" blocks until the test releases it
		return map[string]any{"item": item}, nil
	}), nil)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 200*time.Millisecond, "Run should not block on the still-running slow task")
	foundFailure := false
	for _, r := range out {
		if r.Status == workflow.SubAgentTaskFailed {
			foundFailure = true
		}
	}
	assert.True(t, foundFailure)
	close(release)
}

func TestPerTaskTimeoutMarksTimeoutStatus(t *testing.T) {
	o := NewOrchestrator(2)
	items := []any{"slow"}
	out := o.Run(context.Background(), items, true, 10*time.Millisecond, funcRunner(func(ctx context.Context, taskID string, item any, index, total int) (map[string]any, *workflow.EngineError) {
		<-ctx.Done()
		return nil, nil
	}), nil)

	require.Len(t, out, 1)
	for _, r := range out {
		assert.Equal(t, workflow.SubAgentTaskTimeout, r.Status)
		assert.Equal(t, workflow.ErrSubAgentTimeout, r.Error.Code)
	}
}

func TestProgressCallbackObservesTransitions(t *testing.T) {
	o := NewOrchestrator(2)
	var transitions []string
	items := []any{"a"}
	o.Run(context.Background(), items, true, 0, funcRunner(func(ctx context.Context, taskID string, item any, index, total int) (map[string]any, *workflow.EngineError) {
		return map[string]any{}, nil
	}), func(taskID string, status workflow.SubAgentTaskStatus) {
		transitions = append(transitions, fmt.Sprintf("%s:%s", taskID, status))
	})
	assert.Equal(t, []string{"task-0:running", "task-0:completed"}, transitions)
}
