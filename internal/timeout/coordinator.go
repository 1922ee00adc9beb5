package timeout

import "time"

// Coordinator bundles the admission gate and circuit breaker the Public API
// Surface consults before admitting a start() call, plus the default
// timeout budgets new workflow instances are seeded with (spec §4.8).
type Coordinator struct {
	Gate    *ActiveWorkflowGate
	Breaker *CircuitBreaker

	DefaultWorkflowTimeout    time.Duration
	DefaultStepTimeout        time.Duration
	DefaultInteractionTimeout time.Duration
	RecoveryTimeout           time.Duration
}

// NewCoordinator wires a gate sized to maxActiveWorkflows, the given
// breaker, and the default timeouts.
func NewCoordinator(
	maxActiveWorkflows int,
	breaker *CircuitBreaker,
	defaultWorkflowTimeout, defaultStepTimeout, defaultInteractionTimeout, recoveryTimeout time.Duration,
) *Coordinator {
	return &Coordinator{
		Gate:                      NewActiveWorkflowGate(maxActiveWorkflows),
		Breaker:                   breaker,
		DefaultWorkflowTimeout:    defaultWorkflowTimeout,
		DefaultStepTimeout:        defaultStepTimeout,
		DefaultInteractionTimeout: defaultInteractionTimeout,
		RecoveryTimeout:           recoveryTimeout,
	}
}

// WorkflowBudget returns the root Budget a new instance should run under:
// the caller-supplied timeout if positive, else the coordinator's default.
func (c *Coordinator) WorkflowBudget(requested time.Duration) Budget {
	if requested <= 0 {
		requested = c.DefaultWorkflowTimeout
	}
	return NewBudget(requested)
}
