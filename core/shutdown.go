package core

import (
	"context"
)

// ShutdownFunc is the function signature for cleanup handlers during graceful shutdown.
// Each shutdown function receives a context that may have a deadline for cleanup,
// and returns an error if cleanup fails.
//
// Implementations should respect the context deadline and be idempotent:
// the session teardown, for example, runs from both the shutdown registry
// and deferred calls in main.
type ShutdownFunc func(ctx context.Context) error
