package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/strrl/ctslice/internal/api"
	"github.com/strrl/ctslice/internal/errs"
	"github.com/strrl/ctslice/internal/metrics"
	"github.com/strrl/ctslice/pkg/models"
)

// State of the upload workflow
type State int

const (
	StateIdle State = iota
	StateValidating
	StateUploading
	StateUploaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateUploading:
		return "uploading"
	case StateUploaded:
		return "uploaded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrBusy is returned by Upload while another upload is running.
var ErrBusy = errors.New("an upload is already in progress")

// Uploader is the upload endpoint.
type Uploader interface {
	UploadFile(ctx context.Context, name string, r io.Reader) (api.UploadResult, error)
}

// SessionStore persists the current session.
type SessionStore interface {
	Save(ctx context.Context, s models.Session) error
	Clear(ctx context.Context) error
}

// Evicter drops every cached slice of a session.
type Evicter interface {
	EvictSession(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]string, error)
}

// Coordinator drives select → upload → clear for one viewer.
type Coordinator struct {
	uploader Uploader
	sessions SessionStore
	cache    Evicter
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	state    State
	selected File
	hasFile  bool
	current  models.Session
}

// NewCoordinator creates an idle coordinator. m may be nil.
func NewCoordinator(uploader Uploader, sessions SessionStore, cache Evicter, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		uploader: uploader,
		sessions: sessions,
		cache:    cache,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// State returns the current workflow state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Selected returns the file chosen by the last successful SelectFile
func (c *Coordinator) Selected() (File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.hasFile
}

// Current returns the bound session
func (c *Coordinator) Current() (models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, !c.current.IsZero()
}

// Bind makes s the current session without uploading, e.g. after a restore.
func (c *Coordinator) Bind(s models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = s
	if !s.IsZero() && c.state == StateIdle {
		c.state = StateUploaded
	}
}

// SelectFile accepts a .nii scan. A rejected candidate leaves the previous
// selection and the state untouched.
func (c *Coordinator) SelectFile(candidate File) (File, error) {
	if err := validate(candidate); err != nil {
		return File{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = candidate
	c.hasFile = true
	return candidate, nil
}

// Upload sends file to the service and makes the resulting session current.
// On a transport failure the coordinator returns to idle and the previous
// session stays bound. A superseded session is evicted from the cache.
func (c *Coordinator) Upload(ctx context.Context, file File) (models.Session, error) {
	c.mu.Lock()
	if c.state == StateUploading || c.state == StateValidating {
		c.mu.Unlock()
		return models.Session{}, ErrBusy
	}
	prevState := c.state
	c.state = StateValidating
	c.mu.Unlock()

	if err := validate(file); err != nil {
		c.setState(prevState)
		return models.Session{}, err
	}

	c.setState(StateUploading)
	c.logger.Info("Uploading scan", zap.String("file", file.Name), zap.Int64("bytes", file.Size))

	result, err := c.send(ctx, file)
	if err != nil {
		c.metrics.Upload(false)
		c.setState(StateIdle)
		c.logger.Warn("Upload failed", zap.String("file", file.Name), zap.Error(err))
		return models.Session{}, err
	}
	c.metrics.Upload(true)

	sess := models.Session{
		SessionID:       result.UUID,
		SliceCount:      result.NumSlices,
		SourceFilename:  file.Name,
		SourceSizeBytes: file.Size,
		CreatedAt:       c.now().UTC(),
	}

	if err := c.sessions.Save(ctx, sess); err != nil {
		c.setState(StateFailed)
		return models.Session{}, fmt.Errorf("failed to save session %s: %w", sess.SessionID, err)
	}

	c.mu.Lock()
	prev := c.current
	c.current = sess
	c.state = StateUploaded
	c.mu.Unlock()

	if err := c.evictExcept(ctx, sess.SessionID, prev.SessionID); err != nil {
		c.logger.Warn("Failed to evict superseded sessions",
			zap.String("session_id", sess.SessionID), zap.Error(err))
	}

	c.logger.Info("Upload complete",
		zap.String("session_id", sess.SessionID),
		zap.Int("slices", sess.SliceCount))
	return sess, nil
}

func (c *Coordinator) send(ctx context.Context, file File) (api.UploadResult, error) {
	r, err := file.Open()
	if err != nil {
		return api.UploadResult{}, &errs.TransportError{Op: "upload", Cause: err}
	}
	defer r.Close()

	result, err := c.uploader.UploadFile(ctx, file.Name, r)
	if err != nil {
		if errs.IsTransport(err) {
			return api.UploadResult{}, err
		}
		return api.UploadResult{}, &errs.TransportError{Op: "upload", Cause: err}
	}
	if result.UUID == "" || result.NumSlices < 0 {
		return api.UploadResult{}, &errs.TransportError{
			Op:    "upload",
			Cause: fmt.Errorf("invalid upload response %+v", result),
		}
	}
	return result, nil
}

// Clear evicts the bound session from the cache, forgets it and resets the
// selection. It keeps going after a failed step and reports every failure.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	prev := c.current
	c.current = models.Session{}
	c.selected = File{}
	c.hasFile = false
	c.state = StateIdle
	c.mu.Unlock()

	var result *multierror.Error
	if err := c.evictExcept(ctx, "", prev.SessionID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.sessions.Clear(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to clear session record: %w", err))
	}
	if result == nil {
		c.logger.Info("Session cleared", zap.String("session_id", prev.SessionID))
	}
	return result.ErrorOrNil()
}

// evictExcept evicts bound and every other session the cache holds slices
// for, except keep. That includes sessions never bound in this process.
func (c *Coordinator) evictExcept(ctx context.Context, keep, bound string) error {
	var result *multierror.Error
	ids, err := c.cache.Sessions(ctx)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to list cached sessions: %w", err))
	}
	if bound != "" {
		ids = append([]string{bound}, ids...)
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == keep {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := c.cache.EvictSession(ctx, id); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
