// Package display tracks the image currently on screen.
package display

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/strrl/ctslice/internal/slicecache"
)

// ErrStale is returned by Show for a result that a newer request superseded.
var ErrStale = errors.New("superseded by a newer request")

// Releaser revokes handles the slot stops showing.
type Releaser interface {
	ReleaseDisplayed(h *slicecache.Handle) error
}

// Ticket identifies one request for the slot.
type Ticket struct {
	seq uint64
}

// Slot owns the displayed handle. Every handle it shows is released exactly
// once: when it is replaced, or on Clear.
type Slot struct {
	releaser Releaser
	logger   *zap.Logger

	mu      sync.Mutex
	seq     uint64
	current *slicecache.Handle
}

// NewSlot creates an empty slot
func NewSlot(releaser Releaser, logger *zap.Logger) *Slot {
	return &Slot{releaser: releaser, logger: logger}
}

// Begin starts a request and supersedes every earlier one.
func (s *Slot) Begin() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return Ticket{seq: s.seq}
}

// Show displays h if t is the latest ticket. A stale result is not shown and
// stays with the cache. The previously shown handle is released.
func (s *Slot) Show(t Ticket, h *slicecache.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.seq != s.seq {
		return ErrStale
	}
	if h == nil || h.Revoked() {
		return slicecache.ErrRevoked
	}
	if h == s.current {
		return nil
	}
	old := s.current
	s.current = h
	s.release(old)
	return nil
}

// Current returns the displayed handle, or nil
func (s *Slot) Current() *slicecache.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Clear releases the displayed handle and invalidates pending requests.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	old := s.current
	s.current = nil
	s.release(old)
}

func (s *Slot) release(h *slicecache.Handle) {
	if h == nil {
		return
	}
	err := s.releaser.ReleaseDisplayed(h)
	switch {
	case err == nil:
	case errors.Is(err, slicecache.ErrAlreadyRevoked):
		// the cache already revoked it on eviction or replacement
	default:
		s.logger.Warn("Failed to release displayed image", zap.String("url", h.URL()), zap.Error(err))
	}
}
