package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/strrl/ctslice/internal/errs"
	"github.com/strrl/ctslice/internal/metrics"
	"github.com/strrl/ctslice/internal/slicecache"
	"github.com/strrl/ctslice/pkg/models"
)

// State of one (session, index) request
type State int

const (
	StateIdle State = iota
	StateFetching
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrClosed is returned once the coordinator has been closed.
var ErrClosed = errors.New("fetch coordinator closed")

// Endpoint is the slice service.
type Endpoint interface {
	FetchSlice(ctx context.Context, sessionID string, index int) ([]byte, error)
	SaveToProfile(ctx context.Context, sessionID string, index int) error
}

// Cache is the slice cache as seen by the coordinator.
type Cache interface {
	Lookup(ctx context.Context, key models.SliceKey) (*slicecache.Handle, bool)
	Insert(ctx context.Context, key models.SliceKey, data []byte) (*slicecache.Handle, error)
}

// Coordinator serves slice requests from the cache and fetches misses,
// sharing one endpoint call between concurrent requests for the same slice.
type Coordinator struct {
	endpoint Endpoint
	cache    Cache
	logger   *zap.Logger
	metrics  *metrics.Metrics

	group singleflight.Group

	// base is the parent of every fetch; Close cancels it.
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	states map[models.SliceKey]State
	closed bool
	saves  sync.WaitGroup
}

// NewCoordinator creates a coordinator. m may be nil.
func NewCoordinator(endpoint Endpoint, cache Cache, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		endpoint: endpoint,
		cache:    cache,
		logger:   logger,
		metrics:  m,
		base:     base,
		cancel:   cancel,
		states:   make(map[models.SliceKey]State),
	}
}

// State returns the request state of key
func (c *Coordinator) State(key models.SliceKey) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[key]
}

// RequestSlice returns a handle for slice index of sess. A cache hit returns
// without calling the endpoint. On a miss the slice is fetched and cached;
// callers asking for the same slice meanwhile share that fetch. A failed fetch
// is reported and not retried.
//
// If ctx ends first the caller gets ctx.Err(); the fetch itself keeps running
// for the other callers and still populates the cache.
func (c *Coordinator) RequestSlice(ctx context.Context, sess models.Session, index int) (*slicecache.Handle, error) {
	if err := CheckIndex(sess, index); err != nil {
		return nil, err
	}
	key := models.SliceKey{SessionID: sess.SessionID, Index: index}

	if h, ok := c.cache.Lookup(ctx, key); ok {
		c.setState(key, StateReady)
		return h, nil
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		return c.fetch(key)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.Joined()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*slicecache.Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) fetch(key models.SliceKey) (*slicecache.Handle, error) {
	// a flight that finished just before this one started may have filled the cache
	if h, ok := c.cache.Lookup(c.base, key); ok {
		c.setState(key, StateReady)
		return h, nil
	}

	c.setState(key, StateFetching)
	c.logger.Debug("Fetching slice", zap.Stringer("key", key))

	data, err := c.endpoint.FetchSlice(c.base, key.SessionID, key.Index)
	if err == nil && len(data) == 0 {
		err = &errs.TransportError{Op: "fetch slice", Cause: errors.New("empty slice image")}
	}
	if err != nil {
		c.metrics.Fetch(false)
		c.setState(key, StateFailed)
		c.logger.Warn("Slice fetch failed", zap.Stringer("key", key), zap.Error(err))
		if !errs.IsTransport(err) {
			err = &errs.TransportError{Op: "fetch slice", Cause: err}
		}
		return nil, err
	}
	c.metrics.Fetch(true)

	h, err := c.cache.Insert(c.base, key, data)
	if err != nil {
		c.setState(key, StateIdle)
		return nil, fmt.Errorf("failed to cache slice %s: %w", key, err)
	}
	c.setState(key, StateReady)
	return h, nil
}

// SaveToProfile asks the service to keep the slice in the user's profile.
// It returns immediately; failures are logged and never retried.
func (c *Coordinator) SaveToProfile(ctx context.Context, sess models.Session, index int) {
	if err := CheckIndex(sess, index); err != nil {
		c.logger.Warn("Not saving slice to profile", zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.saves.Add(1)
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer c.saves.Done()
		if err := c.endpoint.SaveToProfile(ctx, sess.SessionID, index); err != nil {
			c.logger.Warn("Failed to save slice to profile",
				zap.String("session_id", sess.SessionID),
				zap.Int("index", index),
				zap.Error(err))
			return
		}
		c.logger.Info("Slice saved to profile",
			zap.String("session_id", sess.SessionID),
			zap.Int("index", index))
	}()
}

// Forget drops the request states of a session
func (c *Coordinator) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.states {
		if key.SessionID == sessionID {
			delete(c.states, key)
		}
	}
}

// Close cancels in-flight fetches and waits for pending profile saves.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.saves.Wait()
}

func (c *Coordinator) setState(key models.SliceKey, s State) {
	c.mu.Lock()
	c.states[key] = s
	c.mu.Unlock()
}

// CheckIndex reports whether index can be requested for sess.
func CheckIndex(sess models.Session, index int) error {
	if sess.IsZero() {
		return errs.NewNoSessionError()
	}
	if index < 0 || (sess.SliceCount > 0 && index >= sess.SliceCount) {
		return errs.NewIndexOutOfRangeError(index, sess.SliceCount)
	}
	return nil
}
