package shutdown

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go_analyzer/core"
)

// Priorities used by the analyzer hosts. Lower runs first.
const (
	PrioritySession = 10
	PriorityServer  = 20
	PriorityCleanup = 45
	PriorityLogger  = 90
)

type entry struct {
	name     string
	priority int
	fn       core.ShutdownFunc
}

// Registry runs cleanup functions once, lowest priority first. Equal
// priorities keep registration order.
type Registry struct {
	mu      sync.Mutex
	entries []entry
	ran     bool
}

// Register adds fn. Registrations after Run are ignored.
func (r *Registry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ran {
		return
	}
	r.entries = append(r.entries, entry{name: name, priority: priority, fn: fn})
}

// Run calls every function, even after failures, and joins their errors.
// A second Run is a no-op.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return nil
	}
	r.ran = true
	ordered := r.sortedLocked()
	r.mu.Unlock()

	var errs []error
	for _, e := range ordered {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

// Names lists handlers in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ordered := r.sortedLocked()
	names := make([]string, len(ordered))
	for i, e := range ordered {
		names[i] = e.name
	}
	return names
}

func (r *Registry) sortedLocked() []entry {
	ordered := slices.Clone(r.entries)
	slices.SortStableFunc(ordered, func(a, b entry) int {
		return cmp.Compare(a.priority, b.priority)
	})
	return ordered
}
