// Package shell runs a workflow's server-located shell_command steps
// (spec §4.7 item 5) by shelling out to /bin/sh, adapted from the teacher's
// long-lived agent-process spawner into a one-shot, timeout-bounded
// command run whose captured stdout/stderr feed the step's state_update.
package shell

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/flowloom/workflowengine/pkg/workflow"
)

// DefaultTimeout is applied when a shell_command step carries no explicit
// timeout and the executor was constructed with one of zero.
const DefaultTimeout = 30 * time.Second

// Result is the captured outcome of one shell_command invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs shell_command steps on the server.
type Executor struct {
	defaultTimeout time.Duration
}

// NewExecutor creates an Executor. A zero defaultTimeout falls back to
// DefaultTimeout.
func NewExecutor(defaultTimeout time.Duration) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Executor{defaultTimeout: defaultTimeout}
}

// Run executes command under a timeout derived from the step (falling back
// to the executor's default), and returns its captured output. A non-zero
// exit code is reported in Result.ExitCode rather than as an error — the
// step's error_handling policy decides what a failing command means, and
// the exit code is part of the state an author may want to inspect. A
// timeout surfaces as an EngineError with code TIMEOUT since the command
// never produced output to capture.
func (e *Executor) Run(ctx context.Context, command string, timeout *time.Duration) (Result, *workflow.EngineError) {
	d := e.defaultTimeout
	if timeout != nil && *timeout > 0 {
		d = *timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{}, &workflow.EngineError{
			Code:    workflow.ErrTimeout,
			Message: "shell_command exceeded its timeout",
		}
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, &workflow.EngineError{
			Code:    workflow.ErrConstraintViolation,
			Message: err.Error(),
		}
	}

	return result, nil
}
