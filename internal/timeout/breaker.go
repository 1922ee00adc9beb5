package timeout

import (
	"context"
	"sync"
	"time"

	"github.com/flowloom/workflowengine/internal/security/ratelimit"
	"github.com/flowloom/workflowengine/pkg/workflow"
)

// BreakerStatus is the circuit breaker's externally visible state.
type BreakerStatus string

const (
	BreakerClosed   BreakerStatus = "closed"
	BreakerOpen     BreakerStatus = "open"
	BreakerHalfOpen BreakerStatus = "half_open"
)

// BreakerConfig configures a CircuitBreaker (spec §4.8's "optional
// circuit-breaker threshold"; SPEC_FULL §11.1).
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	Window           time.Duration
	CooldownPeriod   time.Duration
}

// CircuitBreaker rejects new start calls after FailureThreshold consecutive
// workflow failures within Window, until CooldownPeriod elapses, at which
// point a single half-open probe is admitted. Consecutive-failure counting
// reuses internal/security/ratelimit's sliding-window counter (the same
// ZAdd/ZRemRangeByScore Redis shape, optionally Redis-backed for
// cross-process visibility per SPEC_FULL §11.1); only the open/half-open/
// closed state machine itself is local to this process.
type CircuitBreaker struct {
	cfg     BreakerConfig
	limiter *ratelimit.RateLimiter

	mu       sync.Mutex
	status   BreakerStatus
	openedAt time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker. limiter may be a
// Redis-backed or in-memory ratelimit.RateLimiter; when cfg.Enabled is
// false, Allow always admits. An Enabled breaker never ends up with a nil
// limiter: if the caller passes one anyway (e.g. a Redis dial failure at
// startup), an in-memory fallback is built here so failure counting still
// works, matching the in-memory fallback ratelimit.RateLimiter already
// provides for its own Redis path.
func NewCircuitBreaker(cfg BreakerConfig, limiter *ratelimit.RateLimiter) *CircuitBreaker {
	if cfg.Enabled && limiter == nil {
		if fallback, err := ratelimit.NewRateLimiter(ratelimit.Config{
			Enabled:   true,
			Algorithm: ratelimit.SlidingWindow,
		}); err == nil {
			limiter = fallback
		}
	}
	return &CircuitBreaker{cfg: cfg, limiter: limiter, status: BreakerClosed}
}

// Allow reports whether a start call for key may proceed. A closed or
// half-open breaker admits; an open breaker rejects with
// CIRCUIT_BREAKER_OPEN until the cooldown elapses, at which point it
// transitions to half-open and admits exactly the call that observes the
// transition.
func (b *CircuitBreaker) Allow(key string) *workflow.EngineError {
	if !b.cfg.Enabled {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cfg.CooldownPeriod {
			return &workflow.EngineError{
				Code:    workflow.ErrCircuitBreakerOpen,
				Message: "circuit breaker open; new workflows rejected until cooldown elapses",
			}
		}
		b.status = BreakerHalfOpen
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a terminal success for key. A success ends the run
// of consecutive failures, so the failure history is dropped; in the
// half-open probe state it also closes the breaker. An open breaker stays
// open until its cooldown elapses.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context, key string) {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	if b.status == BreakerHalfOpen {
		b.status = BreakerClosed
	}
	b.mu.Unlock()

	if b.limiter != nil {
		// Letting the window lapse naturally would keep counting failures
		// that a success has interrupted, so the limiter's key is force-cleared.
		b.limiter.Reset(ctx, ratelimit.BreakerLimiter, key)
	}
}

// RecordFailure reports a terminal failure for key and trips the breaker
// open once FailureThreshold consecutive failures land within Window.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, key string) {
	if !b.cfg.Enabled {
		return
	}
	if b.limiter == nil {
		// No failure-counting backend available; fail open rather than
		// dereference a nil limiter (matches the err != nil branch below).
		return
	}

	// FailureThreshold-1 so the limiter denies starting at the
	// FailureThreshold-th failure rather than the (FailureThreshold+1)-th:
	// the sliding-window limiter admits while len(validTimestamps) < Requests.
	result, err := b.limiter.Allow(ctx, ratelimit.BreakerLimiter, key, ratelimit.LimitConfig{
		Requests: b.cfg.FailureThreshold - 1,
		Window:   b.cfg.Window,
	})
	if err != nil || result.Allowed {
		// Still within the tolerated failure count for the window, or the
		// limiter itself failed open — either way don't trip.
		b.mu.Lock()
		if b.status == BreakerHalfOpen {
			// A half-open probe that fails reopens immediately.
			b.status = BreakerOpen
			b.openedAt = time.Now()
		}
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	b.status = BreakerOpen
	b.openedAt = time.Now()
	b.mu.Unlock()
}

// Status returns the breaker's current state, mainly for metrics export
// (SPEC_FULL §11.2's CircuitBreakerState gauge).
func (b *CircuitBreaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Reset forces the breaker back to closed, e.g. an operator-triggered
// manual reset (spec §4.8: "the breaker may then be reset manually").
func (b *CircuitBreaker) Reset(ctx context.Context, key string) {
	b.mu.Lock()
	b.status = BreakerClosed
	b.mu.Unlock()
	if b.limiter != nil {
		b.limiter.Reset(ctx, ratelimit.BreakerLimiter, key)
	}
}
