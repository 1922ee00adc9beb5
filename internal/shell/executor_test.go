package shell

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowloom/workflowengine/pkg/workflow"
)

func TestRunCapturesStdout(t *testing.T) {
	exec := NewExecutor(5 * time.Second)

	result, engErr := exec.Run(context.Background(), "echo x", nil)

	require.Nil(t, engErr)
	assert.Equal(t, "x\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunCapturesNonZeroExit(t *testing.T) {
	exec := NewExecutor(5 * time.Second)

	result, engErr := exec.Run(context.Background(), "exit 7", nil)

	require.Nil(t, engErr)
	assert.Equal(t, 7, result.ExitCode)
}

func TestRunCapturesStderr(t *testing.T) {
	exec := NewExecutor(5 * time.Second)

	result, engErr := exec.Run(context.Background(), "echo oops 1>&2", nil)

	require.Nil(t, engErr)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestRunTimeoutReturnsEngineError(t *testing.T) {
	exec := NewExecutor(5 * time.Second)
	timeout := 50 * time.Millisecond

	_, engErr := exec.Run(context.Background(), "sleep 2", &timeout)

	require.NotNil(t, engErr)
	assert.Equal(t, workflow.ErrTimeout, engErr.Code)
}

func TestRunUsesPerStepTimeoutOverDefault(t *testing.T) {
	exec := NewExecutor(5 * time.Second)
	timeout := 2 * time.Second

	result, engErr := exec.Run(context.Background(), "echo ok", &timeout)

	require.Nil(t, engErr)
	assert.Equal(t, "ok\n", result.Stdout)
}

func TestNewExecutorFallsBackToDefaultTimeout(t *testing.T) {
	exec := NewExecutor(0)
	assert.Equal(t, DefaultTimeout, exec.defaultTimeout)
}
