package slicecache

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strrl/ctslice/pkg/models"
)

var (
	// ErrAlreadyRevoked is returned by a second Revoke of the same handle.
	ErrAlreadyRevoked = errors.New("image handle already revoked")
	// ErrRevoked is returned when reading a revoked handle.
	ErrRevoked = errors.New("image handle revoked")
)

// Handle is a revocable reference to one slice image held in memory.
// It is revoked exactly once; afterwards its bytes are gone.
type Handle struct {
	id       uuid.UUID
	key      models.SliceKey
	storedAt time.Time
	owner    *Cache

	mu      sync.Mutex
	data    []byte
	revoked bool
}

// URL is the address the display layer dereferences through Resolve.
func (h *Handle) URL() string {
	return "blob:ctslice/" + h.id.String()
}

// Key returns the slice this handle was created for
func (h *Handle) Key() models.SliceKey {
	return h.key
}

// StoredAt returns when the handle was materialized
func (h *Handle) StoredAt() time.Time {
	return h.storedAt
}

// Bytes returns a copy of the image bytes.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return nil, ErrRevoked
	}
	out := make([]byte, len(h.data))
	copy(out, h.data)
	return out, nil
}

// Size returns the image size in bytes, or 0 once revoked
func (h *Handle) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.data)
}

// Revoked reports whether the handle has been revoked
func (h *Handle) Revoked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

// Revoke releases the image. A second call returns ErrAlreadyRevoked and
// has no effect.
func (h *Handle) Revoke() error {
	if !h.markRevoked() {
		return ErrAlreadyRevoked
	}
	if h.owner != nil {
		h.owner.detach(h)
	}
	return nil
}

// markRevoked flips the handle to revoked and reports whether this call did it.
func (h *Handle) markRevoked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return false
	}
	h.revoked = true
	h.data = nil
	return true
}
