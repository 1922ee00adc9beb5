package timeout

import (
	"context"
	"time"
)

// CleanupFunc releases one resource registered against a workflow or
// sub-agent scope. It should be non-blocking beyond the recovery timeout
// (spec §5: "Cancellation is cooperative — cleanup handlers must be
// non-blocking beyond the recovery timeout.").
type CleanupFunc func(ctx context.Context)

// CleanupRegistry runs registered handlers in reverse registration order
// when a scope unwinds — a workflow timeout, a failure, or normal
// completion — bounded by a recovery timeout per handler.
type CleanupRegistry struct {
	handlers []CleanupFunc
	recovery time.Duration
}

// NewCleanupRegistry constructs a registry. recovery <= 0 falls back to
// spec §4.8's default of 30s.
func NewCleanupRegistry(recovery time.Duration) *CleanupRegistry {
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &CleanupRegistry{recovery: recovery}
}

// Register appends a handler to run on Run, called in reverse registration
// order (last registered, first run — the same discipline as deferred
// resource release).
func (r *CleanupRegistry) Register(fn CleanupFunc) {
	r.handlers = append(r.handlers, fn)
}

// Run executes every registered handler in reverse order, each bounded by
// the registry's recovery timeout, and clears the registry.
func (r *CleanupRegistry) Run(ctx context.Context) {
	for i := len(r.handlers) - 1; i >= 0; i-- {
		runOne(ctx, r.handlers[i], r.recovery)
	}
	r.handlers = nil
}

func runOne(ctx context.Context, fn CleanupFunc, recovery time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, recovery)
	defer cancel()

	done := make(chan struct{})
	go func() {
		fn(runCtx)
		close(done)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
	}
}
