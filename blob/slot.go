package blob

import "sync"

// Slot owns at most one handle. Every handle installed in a slot is
// revoked exactly once, by Replace or Release.
type Slot struct {
	mu     sync.Mutex
	handle *Handle
	owned  bool
}

// Replace revokes the current handle, if any, and installs h. A nil h just
// releases.
func (s *Slot) Replace(h *Handle) {
	s.mu.Lock()
	prev, owned := s.handle, s.owned
	s.handle, s.owned = h, h != nil
	s.mu.Unlock()

	if owned && prev != nil && prev != h {
		prev.Revoke()
	}
}

// Release revokes and clears the current handle. Idempotent.
func (s *Slot) Release() {
	s.Replace(nil)
}

// Current returns the installed handle or nil.
func (s *Slot) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}
