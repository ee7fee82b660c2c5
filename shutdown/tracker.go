// Package shutdown coordinates graceful teardown: it waits for in-flight
// relay requests, runs registered cleanup in priority order and escalates to
// a forced exit on a repeated signal.
package shutdown

import (
	"context"
	"errors"
	"sync"
)

// ErrTrackerClosed is returned when an operation starts after shutdown began.
var ErrTrackerClosed = errors.New("shutdown: operation tracker is closed")

// OperationTracker counts in-flight operations. Once closed it admits no
// new ones.
type OperationTracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	active int
	closed bool
}

// Start registers an operation. On true the caller must call Done.
func (t *OperationTracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	t.active++
	return true
}

// Done ends an operation admitted by Start.
func (t *OperationTracker) Done() {
	t.mu.Lock()
	t.active--
	t.mu.Unlock()
	t.wg.Done()
}

// Close stops admitting operations.
func (t *OperationTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait blocks until every admitted operation is done or ctx ends.
func (t *OperationTracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of in-flight operations.
func (t *OperationTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
