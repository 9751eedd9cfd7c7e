// Package viewer ties the session store, the slice cache and the
// coordinators together behind one context object used by the CLI and TUI.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/strrl/ctslice/internal/display"
	"github.com/strrl/ctslice/internal/errs"
	"github.com/strrl/ctslice/internal/fetch"
	"github.com/strrl/ctslice/internal/slicecache"
	"github.com/strrl/ctslice/internal/upload"
	"github.com/strrl/ctslice/pkg/models"
)

// ErrNothingDisplayed is returned by Export when no slice is on screen.
var ErrNothingDisplayed = errors.New("no slice is displayed")

// SessionStore is the persistence boundary for the current session.
type SessionStore interface {
	Load(ctx context.Context) (models.Session, bool)
	Save(ctx context.Context, s models.Session) error
	Clear(ctx context.Context) error
}

// Endpoint is the remote service.
type Endpoint interface {
	upload.Uploader
	fetch.Endpoint
}

// App is the viewer state for one user: the bound session and the slice on
// screen. There is no other place that holds the current session.
type App struct {
	logger   *zap.Logger
	sessions SessionStore
	cache    *slicecache.Cache
	uploads  *upload.Coordinator
	fetches  *fetch.Coordinator
	slot     *display.Slot
}

// Options configures New.
type Options struct {
	Sessions SessionStore
	Cache    *slicecache.Cache
	Endpoint Endpoint
	Logger   *zap.Logger
	Uploads  *upload.Coordinator
	Fetches  *fetch.Coordinator
}

// New builds an App. Coordinators left nil in opts are created over
// opts.Endpoint.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	uploads := opts.Uploads
	if uploads == nil {
		uploads = upload.NewCoordinator(opts.Endpoint, opts.Sessions, opts.Cache, logger, nil)
	}
	fetches := opts.Fetches
	if fetches == nil {
		fetches = fetch.NewCoordinator(opts.Endpoint, opts.Cache, logger, nil)
	}
	return &App{
		logger:   logger,
		sessions: opts.Sessions,
		cache:    opts.Cache,
		uploads:  uploads,
		fetches:  fetches,
		slot:     display.NewSlot(opts.Cache, logger),
	}
}

// Restore binds the saved session, if any.
func (a *App) Restore(ctx context.Context) (models.Session, bool) {
	sess, ok := a.sessions.Load(ctx)
	if !ok {
		return models.Session{}, false
	}
	a.uploads.Bind(sess)
	a.logger.Info("Session restored",
		zap.String("session_id", sess.SessionID),
		zap.String("file", sess.SourceFilename))
	return sess, true
}

// Current returns the bound session
func (a *App) Current() (models.Session, bool) {
	return a.uploads.Current()
}

// UploadState returns the upload workflow state
func (a *App) UploadState() upload.State {
	return a.uploads.State()
}

// SliceState returns the request state of one slice of the bound session
func (a *App) SliceState(index int) fetch.State {
	sess, _ := a.Current()
	return a.fetches.State(models.SliceKey{SessionID: sess.SessionID, Index: index})
}

// Select validates and remembers the scan to upload.
func (a *App) Select(path string) (upload.File, error) {
	if err := upload.CheckName(filepath.Base(path)); err != nil {
		return upload.File{}, err
	}
	file, err := upload.LocalFile(path)
	if err != nil {
		return upload.File{}, err
	}
	return a.uploads.SelectFile(file)
}

// Upload sends the selected scan. The displayed slice of a superseded
// session is taken off screen.
func (a *App) Upload(ctx context.Context) (models.Session, error) {
	file, ok := a.uploads.Selected()
	if !ok {
		return models.Session{}, errors.New("no scan selected")
	}
	prev, _ := a.Current()

	sess, err := a.uploads.Upload(ctx, file)
	if err != nil {
		return models.Session{}, err
	}
	if !prev.IsZero() && prev.SessionID != sess.SessionID {
		a.slot.Clear()
		a.fetches.Forget(prev.SessionID)
	}
	return sess, nil
}

// Begin reserves the screen for the next slice request. Results of requests
// begun earlier are discarded with display.ErrStale.
func (a *App) Begin() display.Ticket {
	return a.slot.Begin()
}

// ShowSlice begins a request for slice index and puts the result on screen.
func (a *App) ShowSlice(ctx context.Context, index int) (*slicecache.Handle, error) {
	return a.Show(ctx, a.Begin(), index)
}

// Show requests slice index for the request t and puts it on screen. On
// failure the previously displayed slice stays.
func (a *App) Show(ctx context.Context, t display.Ticket, index int) (*slicecache.Handle, error) {
	sess, ok := a.Current()
	if !ok {
		return nil, errs.NewNoSessionError()
	}

	for attempt := 0; ; attempt++ {
		h, err := a.fetches.RequestSlice(ctx, sess, index)
		if err != nil {
			return nil, err
		}
		err = a.slot.Show(t, h)
		if err == nil {
			return h, nil
		}
		// the handle was released between lookup and show; the bytes are
		// still durable so one more request re-materializes them
		if errors.Is(err, slicecache.ErrRevoked) && attempt == 0 {
			continue
		}
		return nil, err
	}
}

// Displayed returns the handle on screen, or nil
func (a *App) Displayed() *slicecache.Handle {
	return a.slot.Current()
}

// ExportName is the file name used for an exported slice.
func ExportName(index int) string {
	return fmt.Sprintf("ct_slice_%d.png", index)
}

// Export writes the displayed slice into dir and returns the file path.
func (a *App) Export(dir string) (string, error) {
	h := a.slot.Current()
	if h == nil {
		return "", ErrNothingDisplayed
	}
	data, err := h.Bytes()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ExportName(h.Key().Index))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	a.logger.Info("Slice exported", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// Save stores slice index in the user's profile in the background.
func (a *App) Save(ctx context.Context, index int) error {
	sess, _ := a.Current()
	if err := fetch.CheckIndex(sess, index); err != nil {
		return err
	}
	a.fetches.SaveToProfile(ctx, sess, index)
	return nil
}

// Clear takes the slice off screen, evicts the session from the cache and
// forgets it.
func (a *App) Clear(ctx context.Context) error {
	sess, _ := a.Current()
	a.slot.Clear()
	a.fetches.Forget(sess.SessionID)
	return a.uploads.Clear(ctx)
}

// Close releases the displayed slice, stops pending work and revokes every
// live handle.
func (a *App) Close() {
	a.slot.Clear()
	a.fetches.Close()
	a.cache.Close()
}
