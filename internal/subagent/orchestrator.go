// Package subagent implements the parallel_foreach bounded-parallelism
// fan-out (spec §4.6): one isolated sub-agent task per item, scheduled up
// to max_parallel concurrently, with failure isolation and optional
// wait_for_all semantics.
package subagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowloom/workflowengine/pkg/workflow"
)

// TaskRunner drives a single sub-agent task to completion: constructing its
// isolated Workflow Instance, running it through its own step loop, and
// returning the result state it surfaces. The orchestrator knows nothing
// about workflow instances or state — that's the engine's concern, injected
// here to keep this package's concurrency machinery decoupled from it.
type TaskRunner interface {
	Run(ctx context.Context, taskID string, item any, index, total int) (map[string]any, *workflow.EngineError)
}

// ProgressFunc receives status transitions for monitoring integration
// (spec §4.6 item 8's optional status callback).
type ProgressFunc func(taskID string, status workflow.SubAgentTaskStatus)

// Orchestrator schedules a parallel_foreach fan-out with bounded
// concurrency, directly modeled on this codebase's multi-agent task
// execution: a semaphore-bounded worker pool, a WaitGroup draining into a
// results channel, and a timeout-bearing context per task.
type Orchestrator struct {
	maxParallel int
}

// NewOrchestrator constructs an Orchestrator. maxParallel <= 0 falls back to
// spec §4.6's default of 10.
func NewOrchestrator(maxParallel int) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = 10
	}
	return &Orchestrator{maxParallel: maxParallel}
}

// Run fans out one TaskRunner.Run call per item. Each task gets its own
// derived context bounded by perTaskTimeout (zero means no additional
// per-task bound beyond ctx's own deadline). The engine passes the lesser
// of the step's timeout_seconds and the parent workflow's remaining budget
// (spec §4.6 item 5).
//
// One task's failure or timeout never cancels its peers. When waitForAll is
// false, Run returns as soon as the first failing/timed-out task is
// observed (its snapshot may be partial), but every task still runs to its
// own terminal state in the background for cleanup purposes.
func (o *Orchestrator) Run(
	ctx context.Context,
	items []any,
	waitForAll bool,
	perTaskTimeout time.Duration,
	runner TaskRunner,
	onProgress ProgressFunc,
) map[string]workflow.SubAgentTaskResult {
	n := len(items)
	if n == 0 {
		return map[string]workflow.SubAgentTaskResult{}
	}

	sem := make(chan struct{}, o.maxParallel)
	resultsCh := make(chan workflow.SubAgentTaskResult, n)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			resultsCh <- o.runOne(ctx, i, n, item, perTaskTimeout, runner, onProgress)
		}(i, item)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	return collect(resultsCh, waitForAll, n)
}

func (o *Orchestrator) runOne(
	ctx context.Context,
	index, total int,
	item any,
	perTaskTimeout time.Duration,
	runner TaskRunner,
	onProgress ProgressFunc,
) workflow.SubAgentTaskResult {
	taskID := fmt.Sprintf("task-%d", index)
	if onProgress != nil {
		onProgress(taskID, workflow.SubAgentTaskRunning)
	}

	taskCtx := ctx
	if perTaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, perTaskTimeout)
		defer cancel()
	}

	out, engErr := runner.Run(taskCtx, taskID, item, index, total)

	result := workflow.SubAgentTaskResult{TaskID: taskID, Result: out}
	switch {
	case taskCtx.Err() == context.DeadlineExceeded:
		result.Status = workflow.SubAgentTaskTimeout
		result.Error = &workflow.EngineError{Code: workflow.ErrSubAgentTimeout, Message: "sub-agent task exceeded its timeout budget", StepID: taskID}
	case engErr != nil:
		result.Status = workflow.SubAgentTaskFailed
		result.Error = engErr
	default:
		result.Status = workflow.SubAgentTaskCompleted
	}

	if onProgress != nil {
		onProgress(taskID, result.Status)
	}
	return result
}

// collect drains resultsCh into a map keyed by task_id (order unspecified
// per spec §5's ordering guarantees). When waitForAll is false it returns
// as soon as the first failed/timed-out task appears, while a background
// goroutine keeps draining the channel so every worker still runs to
// completion rather than blocking forever on a full buffered send (the
// channel is already sized len(items), so this is only a safety net, not
// load-bearing).
func collect(resultsCh <-chan workflow.SubAgentTaskResult, waitForAll bool, n int) map[string]workflow.SubAgentTaskResult {
	if waitForAll {
		out := make(map[string]workflow.SubAgentTaskResult, n)
		for r := range resultsCh {
			out[r.TaskID] = r
		}
		return out
	}

	collected := make(map[string]workflow.SubAgentTaskResult, n)
	firstFailure := make(chan map[string]workflow.SubAgentTaskResult, 1)
	allDone := make(chan map[string]workflow.SubAgentTaskResult, 1)
	failureSignaled := false

	go func() {
		for r := range resultsCh {
			collected[r.TaskID] = r
			if !failureSignaled && (r.Status == workflow.SubAgentTaskFailed || r.Status == workflow.SubAgentTaskTimeout) {
				failureSignaled = true
				firstFailure <- cloneResults(collected)
			}
		}
		allDone <- cloneResults(collected)
	}()

	select {
	case snap := <-firstFailure:
		return snap
	case final := <-allDone:
		return final
	}
}

func cloneResults(m map[string]workflow.SubAgentTaskResult) map[string]workflow.SubAgentTaskResult {
	out := make(map[string]workflow.SubAgentTaskResult, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
