package upload

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strrl/ctslice/internal/api"
	"github.com/strrl/ctslice/internal/errs"
	"github.com/strrl/ctslice/pkg/models"
)

type fakeUploader struct {
	mu       sync.Mutex
	result   api.UploadResult
	err      error
	calls    int
	lastName string
	lastBody []byte
}

func (f *fakeUploader) UploadFile(_ context.Context, name string, r io.Reader) (api.UploadResult, error) {
	body, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastName = name
	f.lastBody = body
	return f.result, f.err
}

type fakeSessions struct {
	saved    models.Session
	saves    int
	clears   int
	saveErr  error
	clearErr error
}

func (f *fakeSessions) Save(_ context.Context, s models.Session) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.saved = s
	return nil
}

func (f *fakeSessions) Clear(context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.clears++
	f.saved = models.Session{}
	return nil
}

type fakeEvicter struct {
	evicted []string
	stored  []string
	err     error
}

func (f *fakeEvicter) EvictSession(_ context.Context, sessionID string) error {
	f.evicted = append(f.evicted, sessionID)
	if f.err != nil {
		return f.err
	}
	kept := f.stored[:0]
	for _, id := range f.stored {
		if id != sessionID {
			kept = append(kept, id)
		}
	}
	f.stored = kept
	return nil
}

func (f *fakeEvicter) Sessions(context.Context) ([]string, error) {
	return append([]string(nil), f.stored...), nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(up *fakeUploader) (*Coordinator, *fakeSessions, *fakeEvicter) {
	sessions := &fakeSessions{}
	evicter := &fakeEvicter{}
	c := NewCoordinator(up, sessions, evicter, zap.NewNop(), nil)
	c.now = func() time.Time { return fixedNow }
	return c, sessions, evicter
}

func TestUploadScan(t *testing.T) {
	up := &fakeUploader{result: api.UploadResult{UUID: "abc", NumSlices: 10}}
	c, sessions, evicter := newTestCoordinator(up)

	file, err := c.SelectFile(MemoryFile("scan.nii", make([]byte, 200)))
	require.NoError(t, err)

	sess, err := c.Upload(context.Background(), file)
	require.NoError(t, err)

	want := models.Session{
		SessionID:       "abc",
		SliceCount:      10,
		SourceFilename:  "scan.nii",
		SourceSizeBytes: 200,
		CreatedAt:       fixedNow,
	}
	assert.True(t, want.Equal(sess), "got %+v", sess)
	assert.True(t, want.Equal(sessions.saved))
	assert.Equal(t, StateUploaded, c.State())
	assert.Len(t, up.lastBody, 200)
	assert.Equal(t, "scan.nii", up.lastName)
	assert.Empty(t, evicter.evicted)

	current, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "abc", current.SessionID)
}

func TestSelectFileRejectsOtherFormats(t *testing.T) {
	up := &fakeUploader{}
	c, sessions, _ := newTestCoordinator(up)

	prior, err := c.SelectFile(MemoryFile("prior.nii", []byte("x")))
	require.NoError(t, err)

	for _, name := range []string{"scan.txt", "scan.nii.gz", "", ".nii", "scan.NII"} {
		t.Run(name, func(t *testing.T) {
			_, err := c.SelectFile(MemoryFile(name, []byte("x")))
			require.Error(t, err)
			assert.True(t, errs.HasReason(err, errs.ReasonUnsupportedFormat))

			selected, ok := c.Selected()
			require.True(t, ok)
			assert.Equal(t, prior.Name, selected.Name)
			assert.Equal(t, StateIdle, c.State())
		})
	}
	assert.Zero(t, up.calls)
	assert.Zero(t, sessions.saves)
}

func TestUploadRejectsUnsupportedFile(t *testing.T) {
	up := &fakeUploader{}
	c, sessions, _ := newTestCoordinator(up)

	_, err := c.Upload(context.Background(), MemoryFile("scan.txt", []byte("x")))
	assert.True(t, errs.IsValidation(err))
	assert.Zero(t, up.calls)
	assert.Zero(t, sessions.saves)
	assert.Equal(t, StateIdle, c.State())
}

func TestUploadTransportFailureKeepsPriorSession(t *testing.T) {
	up := &fakeUploader{err: &errs.TransportError{Op: "upload", StatusCode: 502}}
	c, sessions, evicter := newTestCoordinator(up)

	prior := models.Session{SessionID: "old", SliceCount: 4, CreatedAt: fixedNow}
	c.Bind(prior)

	_, err := c.Upload(context.Background(), MemoryFile("scan.nii", []byte("x")))
	require.Error(t, err)
	assert.True(t, errs.IsTransport(err))
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, sessions.saves)
	assert.Empty(t, evicter.evicted)

	current, ok := c.Current()
	require.True(t, ok)
	assert.True(t, prior.Equal(current))
}

func TestUploadWrapsPlainErrors(t *testing.T) {
	up := &fakeUploader{err: errors.New("connection refused")}
	c, _, _ := newTestCoordinator(up)

	_, err := c.Upload(context.Background(), MemoryFile("scan.nii", []byte("x")))
	var te *errs.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "upload", te.Op)
}

func TestUploadRejectsEmptySessionID(t *testing.T) {
	up := &fakeUploader{result: api.UploadResult{NumSlices: 3}}
	c, sessions, _ := newTestCoordinator(up)

	_, err := c.Upload(context.Background(), MemoryFile("scan.nii", []byte("x")))
	assert.True(t, errs.IsTransport(err))
	assert.Zero(t, sessions.saves)
}

func TestUploadSupersedesPriorSession(t *testing.T) {
	up := &fakeUploader{result: api.UploadResult{UUID: "new", NumSlices: 2}}
	c, _, evicter := newTestCoordinator(up)
	c.Bind(models.Session{SessionID: "old", SliceCount: 5})

	_, err := c.Upload(context.Background(), MemoryFile("scan.nii", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, evicter.evicted)
}

func TestUploadSweepsLeftoverSessions(t *testing.T) {
	up := &fakeUploader{result: api.UploadResult{UUID: "new", NumSlices: 2}}
	c, _, evicter := newTestCoordinator(up)
	c.Bind(models.Session{SessionID: "old", SliceCount: 5})
	evicter.stored = []string{"crashed", "new", "old"}

	_, err := c.Upload(context.Background(), MemoryFile("scan.nii", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "crashed"}, evicter.evicted)
	assert.Equal(t, []string{"new"}, evicter.stored)
}

func TestUploadSaveFailure(t *testing.T) {
	up := &fakeUploader{result: api.UploadResult{UUID: "abc", NumSlices: 2}}
	c, sessions, _ := newTestCoordinator(up)
	sessions.saveErr = errors.New("disk full")

	_, err := c.Upload(context.Background(), MemoryFile("scan.nii", []byte("x")))
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.State())
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	up := &fakeUploader{result: api.UploadResult{UUID: "abc", NumSlices: 10}}
	c, sessions, evicter := newTestCoordinator(up)

	file, err := c.SelectFile(MemoryFile("scan.nii", []byte("x")))
	require.NoError(t, err)
	_, err = c.Upload(context.Background(), file)
	require.NoError(t, err)

	require.NoError(t, c.Clear(context.Background()))
	assert.Equal(t, []string{"abc"}, evicter.evicted)
	assert.Equal(t, 1, sessions.clears)
	assert.Equal(t, StateIdle, c.State())
	_, ok := c.Current()
	assert.False(t, ok)
	_, ok = c.Selected()
	assert.False(t, ok)

	require.NoError(t, c.Clear(context.Background()), "clear is idempotent")
	assert.Len(t, evicter.evicted, 1)
}

func TestClearWithoutBoundSession(t *testing.T) {
	c, sessions, evicter := newTestCoordinator(&fakeUploader{})
	evicter.stored = []string{"abc"}

	require.NoError(t, c.Clear(context.Background()))
	assert.Equal(t, []string{"abc"}, evicter.evicted)
	assert.Empty(t, evicter.stored)
	assert.Equal(t, 1, sessions.clears)
}

func TestClearReportsEveryFailure(t *testing.T) {
	c, sessions, evicter := newTestCoordinator(&fakeUploader{})
	c.Bind(models.Session{SessionID: "abc", SliceCount: 2})
	evicter.err = errors.New("evict failed")
	sessions.clearErr = errors.New("delete failed")

	err := c.Clear(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evict failed")
	assert.Contains(t, err.Error(), "delete failed")
	assert.Equal(t, StateIdle, c.State())
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uploading", StateUploading.String())
	assert.Equal(t, "state(42)", State(42).String())
}
