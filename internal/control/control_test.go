package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowloom/workflowengine/pkg/workflow"
)

func emptyView() map[string]any { return map[string]any{} }

func TestConditionalInlinesThenBranch(t *testing.T) {
	stack := NewStack([]workflow.Step{
		{
			ID: "c1", Type: workflow.StepConditional, Condition: "true",
			ThenSteps: []workflow.Step{{ID: "a", Type: workflow.StepUserMessage, Message: "yes"}},
			ElseSteps: []workflow.Step{{ID: "b", Type: workflow.StepUserMessage, Message: "no"}},
		},
	})

	result, engErr := stack.Next(emptyView)
	require.Nil(t, engErr)
	require.NotNil(t, result.Step)
	assert.Equal(t, "a", result.Step.ID)

	result, engErr = stack.Next(emptyView)
	require.Nil(t, engErr)
	assert.True(t, result.Done)
}

func TestConditionalInlinesElseBranchWhenFalsy(t *testing.T) {
	stack := NewStack([]workflow.Step{
		{
			ID: "c1", Type: workflow.StepConditional, Condition: `""`,
			ThenSteps: []workflow.Step{{ID: "a", Type: workflow.StepUserMessage}},
			ElseSteps: []workflow.Step{{ID: "b", Type: workflow.StepUserMessage}},
		},
	})

	result, engErr := stack.Next(emptyView)
	require.Nil(t, engErr)
	assert.Equal(t, "b", result.Step.ID)
}

func TestWhileLoopIteratesUntilConditionFalse(t *testing.T) {
	counter := 0
	view := func() map[string]any { return map[string]any{"n": counter} }

	stack := NewStack([]workflow.Step{
		{
			ID: "w1", Type: workflow.StepWhileLoop, Condition: "n < 2",
			Body: []workflow.Step{{ID: "body", Type: workflow.StepUserMessage, Message: "tick"}},
		},
	})

	var seen []string
	for {
		result, engErr := stack.Next(view)
		require.Nil(t, engErr)
		if result.Done {
			break
		}
		seen = append(seen, result.Step.ID)
		counter++
	}
	assert.Equal(t, []string{"body", "body"}, seen)
}

func TestWhileLoopMaxIterationsProducesWarningNotError(t *testing.T) {
	view := func() map[string]any { return map[string]any{} }
	stack := NewStack([]workflow.Step{
		{
			ID: "w1", Type: workflow.StepWhileLoop, Condition: "true", MaxIterations: 2,
			Body: []workflow.Step{{ID: "body", Type: workflow.StepUserMessage}},
		},
	})

	count := 0
	for {
		result, engErr := stack.Next(view)
		require.Nil(t, engErr)
		if result.Done {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
	warnings := stack.TakeWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, workflow.ErrMaxIterationsExceed, warnings[0].Code)
}

func TestForeachEmptyArrayCompletesImmediately(t *testing.T) {
	view := func() map[string]any { return map[string]any{"items": []any{}} }
	stack := NewStack([]workflow.Step{
		{ID: "f1", Type: workflow.StepForeach, Items: "items", Body: []workflow.Step{{ID: "body", Type: workflow.StepUserMessage}}},
	})

	result, engErr := stack.Next(view)
	require.Nil(t, engErr)
	assert.True(t, result.Done)
}

func TestForeachBindsItemAndLoopIndex(t *testing.T) {
	view := func() map[string]any { return map[string]any{"items": []any{"a", "b", "c"}} }
	stack := NewStack([]workflow.Step{
		{ID: "f1", Type: workflow.StepForeach, Items: "items", Body: []workflow.Step{{ID: "body", Type: workflow.StepUserMessage}}},
	})

	var items, indices []any
	for {
		result, engErr := stack.Next(view)
		require.Nil(t, engErr)
		if result.Done {
			break
		}
		items = append(items, result.Scope["item"])
		loop, ok := result.Scope["loop"].(map[string]any)
		require.True(t, ok)
		indices = append(indices, loop["index"])
	}
	assert.Equal(t, []any{"a", "b", "c"}, items)
	assert.Equal(t, []any{0, 1, 2}, indices)
}

func TestBreakInsideForeachStopsRemainingIterations(t *testing.T) {
	view := func() map[string]any { return map[string]any{"items": []any{"a", "b", "c"}} }
	stack := NewStack([]workflow.Step{
		{ID: "f1", Type: workflow.StepForeach, Items: "items", Body: []workflow.Step{
			{ID: "cond", Type: workflow.StepConditional, Condition: `item == "b"`,
				ThenSteps: []workflow.Step{{ID: "brk", Type: workflow.StepBreak}},
			},
			{ID: "body", Type: workflow.StepUserMessage},
		}},
	})

	var seen []string
	for {
		result, engErr := stack.Next(view)
		require.Nil(t, engErr)
		if result.Done {
			break
		}
		seen = append(seen, result.Step.ID)
	}
	assert.Equal(t, []string{"body"}, seen)
}

func TestBreakOutsideLoopIsControlFlowError(t *testing.T) {
	stack := NewStack([]workflow.Step{{ID: "brk", Type: workflow.StepBreak}})
	_, engErr := stack.Next(emptyView)
	require.NotNil(t, engErr)
	assert.Equal(t, workflow.ErrControlFlowError, engErr.Code)
}

func TestContinueSkipsRestOfIterationButLoopContinues(t *testing.T) {
	view := func() map[string]any { return map[string]any{"items": []any{"a", "b"}} }
	stack := NewStack([]workflow.Step{
		{ID: "f1", Type: workflow.StepForeach, Items: "items", Body: []workflow.Step{
			{ID: "cond", Type: workflow.StepConditional, Condition: `item == "a"`,
				ThenSteps: []workflow.Step{{ID: "cnt", Type: workflow.StepContinue}},
			},
			{ID: "body", Type: workflow.StepUserMessage},
		}},
	})

	var seen []any
	for {
		result, engErr := stack.Next(view)
		require.Nil(t, engErr)
		if result.Done {
			break
		}
		seen = append(seen, result.Scope["item"])
	}
	assert.Equal(t, []any{"b"}, seen)
}
