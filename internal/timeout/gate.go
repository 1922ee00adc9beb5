package timeout

import (
	"sync"

	"github.com/flowloom/workflowengine/pkg/workflow"
)

// ActiveWorkflowGate bounds the number of concurrently active workflow
// instances a process will admit (spec §4.8: "Max active workflows per
// process ... Excess start calls queue."). Unlike the circuit breaker, this
// is a plain concurrency gate, not a rate-over-time counter, so it is a
// small counting semaphore rather than built atop internal/security/ratelimit.
type ActiveWorkflowGate struct {
	mu     sync.Mutex
	max    int
	active int
}

// NewActiveWorkflowGate constructs a gate. max <= 0 means unbounded.
func NewActiveWorkflowGate(max int) *ActiveWorkflowGate {
	return &ActiveWorkflowGate{max: max}
}

// TryAcquire admits one more active workflow if capacity remains, or returns
// a CONSTRAINT_VIOLATION error. Callers whose start calls should queue
// rather than fail can retry; the core spec leaves the queuing policy to
// the caller.
func (g *ActiveWorkflowGate) TryAcquire() *workflow.EngineError {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.max > 0 && g.active >= g.max {
		return admissionError()
	}
	g.active++
	return nil
}

// Release frees one slot, called when a workflow instance terminates
// (completed, failed, or explicitly disposed).
func (g *ActiveWorkflowGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
}

// Active returns the current number of admitted workflows.
func (g *ActiveWorkflowGate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// admissionError builds the standard rejection for a full gate.
func admissionError() *workflow.EngineError {
	return &workflow.EngineError{
		Code:    workflow.ErrConstraintViolation,
		Message: "max active workflows reached; start call must be retried",
	}
}
