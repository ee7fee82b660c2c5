// Package blob issues revocable in-memory handles for binary payloads such
// as the selected file preview and the analysis result.
package blob

import (
	"errors"
	"sync"

	"go_analyzer/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyRevoked is returned by a second Revoke of the same handle.
	ErrAlreadyRevoked = errors.New("blob: handle already revoked")

	// ErrRevoked is returned when reading a revoked handle.
	ErrRevoked = errors.New("blob: handle revoked")
)

// Store tracks every live handle it issued.
type Store struct {
	mu     sync.Mutex
	live   map[string]*Handle
	logger *logging.Logger
}

// NewStore creates an empty Store.
func NewStore(logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		live:   make(map[string]*Handle),
		logger: logger.Named("blob"),
	}
}

// Create issues a live handle for data. The slice is not copied, so the
// caller must not modify it afterwards.
func (s *Store) Create(data []byte, contentType string) *Handle {
	h := &Handle{
		id:          "blob:" + uuid.NewString(),
		data:        data,
		contentType: contentType,
		store:       s,
	}

	s.mu.Lock()
	s.live[h.id] = h
	n := len(s.live)
	s.mu.Unlock()

	s.logger.Debug("handle created",
		zap.String("handle", h.id),
		zap.Int("size_bytes", len(data)),
		zap.Int("outstanding", n),
	)
	return h
}

// Outstanding returns the number of handles created and not yet revoked.
func (s *Store) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Lookup returns the live handle with id.
func (s *Store) Lookup(id string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.live[id]
	return h, ok
}

func (s *Store) forget(h *Handle) {
	s.mu.Lock()
	delete(s.live, h.id)
	s.mu.Unlock()
}

// Handle is a revocable reference to a payload.
type Handle struct {
	id          string
	contentType string
	store       *Store

	mu      sync.Mutex
	data    []byte
	revoked bool
}

// ID returns the opaque "blob:<uuid>" identifier.
func (h *Handle) ID() string { return h.id }

// ContentType returns the MIME type given at creation.
func (h *Handle) ContentType() string { return h.contentType }

// Bytes returns the payload while the handle is live.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return nil, ErrRevoked
	}
	return h.data, nil
}

// Size returns the payload length, or 0 once revoked.
func (h *Handle) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.data)
}

// Revoked reports whether Revoke has been called.
func (h *Handle) Revoked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

// Revoke releases the payload. Revoking twice is an ownership bug in the
// caller; it is logged and reported but never panics.
func (h *Handle) Revoke() error {
	h.mu.Lock()
	if h.revoked {
		h.mu.Unlock()
		h.store.logger.Error("double revoke", zap.String("handle", h.id))
		return ErrAlreadyRevoked
	}
	h.revoked = true
	h.data = nil
	h.mu.Unlock()

	h.store.forget(h)
	return nil
}
