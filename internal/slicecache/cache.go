package slicecache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strrl/ctslice/internal/errs"
	"github.com/strrl/ctslice/internal/metrics"
	"github.com/strrl/ctslice/pkg/models"
)

// ErrSessionEvicted is returned by Insert for a session that was evicted
// while (or before) the bytes arrived.
var ErrSessionEvicted = errors.New("session evicted")

// ErrUnknownURL is returned by Resolve for an address that is not live.
var ErrUnknownURL = errors.New("no live image at address")

// ByteStore keeps raw slice records across restarts.
type ByteStore interface {
	Get(ctx context.Context, sessionID string, index int) ([]byte, bool, error)
	Put(ctx context.Context, sessionID string, index int, payload []byte) error
	Delete(ctx context.Context, sessionID string, index int) error
	DeleteSession(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]string, error)
}

// Entry is one cached slice
type Entry struct {
	Key      models.SliceKey
	Handle   *Handle
	StoredAt time.Time
}

// Cache maps slice keys to live image handles and owns their lifecycle.
// Slice images are deterministic per (session, index), so entries are never
// invalidated individually; whole sessions are evicted explicitly.
type Cache struct {
	store   ByteStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	entries  map[models.SliceKey]*Handle
	byURL    map[string]*Handle
	evicted  map[string]struct{}
	sessions map[string]*sync.RWMutex
	keys     map[models.SliceKey]*sync.Mutex
}

// New creates a cache over a durable byte store. m may be nil.
func New(store ByteStore, logger *zap.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		store:    store,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		entries:  make(map[models.SliceKey]*Handle),
		byURL:    make(map[string]*Handle),
		evicted:  make(map[string]struct{}),
		sessions: make(map[string]*sync.RWMutex),
		keys:     make(map[models.SliceKey]*sync.Mutex),
	}
}

// Lookup returns a live handle for key. Memory is checked first, then the
// durable store; a durable hit is materialized into a new registered handle.
// Unreadable durable records are deleted and reported as a miss.
func (c *Cache) Lookup(ctx context.Context, key models.SliceKey) (*Handle, bool) {
	if h, ok, done := c.memoryLookup(key); done {
		return h, ok
	}

	unlock := c.lockKey(key)
	defer unlock()

	if h, ok, done := c.memoryLookup(key); done {
		return h, ok
	}

	record, ok, err := c.store.Get(ctx, key.SessionID, key.Index)
	if err != nil {
		c.logger.Warn("Durable slice read failed", zap.Stringer("key", key), zap.Error(err))
		c.metrics.Lookup(metrics.LookupMiss)
		return nil, false
	}
	if !ok {
		c.metrics.Lookup(metrics.LookupMiss)
		return nil, false
	}

	data, err := decodeRecord(record)
	if err != nil {
		corrupt := &errs.CorruptStateError{Store: "slice", Key: key.String(), Cause: err}
		c.logger.Warn("Discarding unreadable slice record", zap.Error(corrupt))
		if err := c.store.Delete(ctx, key.SessionID, key.Index); err != nil {
			c.logger.Warn("Failed to delete slice record", zap.Stringer("key", key), zap.Error(err))
		}
		c.metrics.Lookup(metrics.LookupCorrupt)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, gone := c.evicted[key.SessionID]; gone {
		c.metrics.Lookup(metrics.LookupMiss)
		return nil, false
	}
	h := c.newHandleLocked(key, data)
	c.entries[key] = h
	c.metrics.Lookup(metrics.LookupDurableHit)
	return h, true
}

// memoryLookup answers from memory. done is false when the durable store
// has to be consulted.
func (c *Cache) memoryLookup(key models.SliceKey) (h *Handle, ok bool, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, gone := c.evicted[key.SessionID]; gone {
		c.metrics.Lookup(metrics.LookupMiss)
		return nil, false, true
	}
	if h := c.entries[key]; h != nil {
		if !h.Revoked() {
			c.metrics.Lookup(metrics.LookupMemoryHit)
			return h, true, true
		}
		delete(c.entries, key)
	}
	return nil, false, false
}

// Insert wraps data in a new handle, keeps it in memory and persists the
// bytes. A handle already cached for key is revoked first.
func (c *Cache) Insert(ctx context.Context, key models.SliceKey, data []byte) (*Handle, error) {
	if key.SessionID == "" || key.Index < 0 {
		return nil, fmt.Errorf("invalid slice key %s", key)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("slice %s: %w", key, errEmptyPayload)
	}

	unlock := c.lockKey(key)
	defer unlock()

	c.mu.Lock()
	_, gone := c.evicted[key.SessionID]
	c.mu.Unlock()
	if gone {
		return nil, ErrSessionEvicted
	}

	if err := c.store.Put(ctx, key.SessionID, key.Index, encodeRecord(data)); err != nil {
		// the image is still usable for this run
		c.logger.Warn("Failed to persist slice", zap.Stringer("key", key), zap.Error(err))
	}

	owned := make([]byte, len(data))
	copy(owned, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if old := c.entries[key]; old != nil {
		c.revokeLocked(old)
	}
	h := c.newHandleLocked(key, owned)
	c.entries[key] = h
	c.logger.Debug("Slice cached", zap.Stringer("key", key), zap.Int("bytes", len(owned)))
	return h, nil
}

// EvictSession revokes every live handle of the session and deletes its
// durable records. Later lookups for the session miss and later inserts are
// rejected with ErrSessionEvicted.
func (c *Cache) EvictSession(ctx context.Context, sessionID string) error {
	rw := c.sessionLock(sessionID)
	rw.Lock()
	defer rw.Unlock()

	c.mu.Lock()
	c.evicted[sessionID] = struct{}{}
	revoked := 0
	for key, h := range c.entries {
		if key.SessionID != sessionID {
			continue
		}
		delete(c.entries, key)
		if c.revokeLocked(h) {
			revoked++
		}
	}
	for key := range c.keys {
		if key.SessionID == sessionID {
			delete(c.keys, key)
		}
	}
	c.mu.Unlock()

	c.logger.Info("Session evicted from slice cache",
		zap.String("session_id", sessionID),
		zap.Int("revoked_handles", revoked))

	if err := c.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete cached slices of %s: %w", sessionID, err)
	}
	return nil
}

// Sessions lists every session with durable records or live entries,
// including ones no session record points to any more.
func (c *Cache) Sessions(ctx context.Context) ([]string, error) {
	stored, err := c.store.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		seen[id] = struct{}{}
	}
	c.mu.Lock()
	for key := range c.entries {
		seen[key.SessionID] = struct{}{}
	}
	c.mu.Unlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ReleaseDisplayed revokes a handle the display layer stopped showing.
// The bytes stay durable and are re-materialized by the next Lookup.
func (c *Cache) ReleaseDisplayed(h *Handle) error {
	if h == nil {
		return nil
	}
	return h.Revoke()
}

// Resolve dereferences a handle address to its bytes.
func (c *Cache) Resolve(url string) ([]byte, error) {
	c.mu.Lock()
	h := c.byURL[url]
	c.mu.Unlock()
	if h == nil {
		return nil, ErrUnknownURL
	}
	return h.Bytes()
}

// Entries lists the in-memory entries of a session ordered by slice index.
func (c *Cache) Entries(sessionID string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry
	for key, h := range c.entries {
		if key.SessionID == sessionID && !h.Revoked() {
			out = append(out, Entry{Key: key, Handle: h, StoredAt: h.storedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Index < out[j].Key.Index })
	return out
}

// Live returns the number of handles allocated and not yet revoked.
func (c *Cache) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byURL)
}

// Close revokes every live handle.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, h := range c.entries {
		delete(c.entries, key)
		c.revokeLocked(h)
	}
	for _, h := range c.byURL {
		c.revokeLocked(h)
	}
}

func (c *Cache) newHandleLocked(key models.SliceKey, data []byte) *Handle {
	h := &Handle{
		id:       uuid.New(),
		key:      key,
		storedAt: c.now(),
		owner:    c,
		data:     data,
	}
	c.byURL[h.URL()] = h
	c.metrics.HandleAllocated()
	return h
}

// revokeLocked revokes h on behalf of the cache. Callers hold c.mu.
func (c *Cache) revokeLocked(h *Handle) bool {
	if !h.markRevoked() {
		return false
	}
	delete(c.byURL, h.URL())
	c.metrics.HandleRevoked()
	return true
}

// detach forgets a handle revoked through Handle.Revoke.
func (c *Cache) detach(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[h.key] == h {
		delete(c.entries, h.key)
	}
	delete(c.byURL, h.URL())
	c.metrics.HandleRevoked()
}

func (c *Cache) sessionLock(sessionID string) *sync.RWMutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	rw, ok := c.sessions[sessionID]
	if !ok {
		rw = &sync.RWMutex{}
		c.sessions[sessionID] = rw
	}
	return rw
}

// lockKey serializes operations on one key and excludes session eviction
// while they run.
func (c *Cache) lockKey(key models.SliceKey) func() {
	rw := c.sessionLock(key.SessionID)
	rw.RLock()

	c.mu.Lock()
	km, ok := c.keys[key]
	if !ok {
		km = &sync.Mutex{}
		c.keys[key] = km
	}
	c.mu.Unlock()

	km.Lock()
	return func() {
		km.Unlock()
		rw.RUnlock()
	}
}
