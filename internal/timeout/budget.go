// Package timeout implements the Timeout & Resource Coordinator (spec §4.8):
// hierarchical workflow/step/interaction timeout budgets, an active-workflow
// admission gate, and a circuit breaker over consecutive workflow failures.
package timeout

import "time"

// Budget tracks how much time remains for a workflow instance and its
// nested scopes. A child scope can never outlive its parent: Budget.Child
// returns the lesser of the parent's remaining time and the child's own
// requested duration (spec §4.8: "Remaining time at any tier is the minimum
// of the parent's remaining time and the tier's own budget").
type Budget struct {
	deadline time.Time
}

// NewBudget starts a root budget (typically the workflow-level timeout)
// expiring duration from now.
func NewBudget(duration time.Duration) Budget {
	return Budget{deadline: time.Now().Add(duration)}
}

// Remaining returns how much time is left before the deadline, never
// negative.
func (b Budget) Remaining() time.Duration {
	d := time.Until(b.deadline)
	if d < 0 {
		return 0
	}
	return d
}

// Expired reports whether the budget's deadline has passed.
func (b Budget) Expired() bool {
	return !b.deadline.After(time.Now())
}

// Child derives a nested budget bounded by both this budget's remaining
// time and requested, whichever is smaller — a step's or interaction's
// timeout can narrow but never widen its parent's.
func (b Budget) Child(requested time.Duration) Budget {
	remaining := b.Remaining()
	if requested <= 0 || requested > remaining {
		return Budget{deadline: time.Now().Add(remaining)}
	}
	return Budget{deadline: time.Now().Add(requested)}
}

// Deadline exposes the absolute deadline, e.g. for context.WithDeadline.
func (b Budget) Deadline() time.Time {
	return b.deadline
}
