package analysis

import (
	"context"
	"sync/atomic"
)

// CancellationToken belongs to exactly one submit+poll run. Cancelling it
// aborts the run's in-flight request through its context and flips a flag
// checked at every suspension point.
type CancellationToken struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewCancellationToken derives a token from parent. Cancelling parent
// cancels the token too.
func NewCancellationToken(parent context.Context) *CancellationToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancellationToken{ctx: ctx, cancel: cancel}
}

// Context is bound to the run's network calls and sleeps.
func (t *CancellationToken) Context() context.Context {
	return t.ctx
}

// Cancel is idempotent and safe from any goroutine.
func (t *CancellationToken) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Cancelled reports whether Cancel was called or the parent context ended.
func (t *CancellationToken) Cancelled() bool {
	if t == nil {
		return true
	}
	return t.cancelled.Load() || t.ctx.Err() != nil
}
