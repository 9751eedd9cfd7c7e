package tui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/strrl/ctslice/internal/api"
	"github.com/strrl/ctslice/internal/db"
	"github.com/strrl/ctslice/internal/display"
	"github.com/strrl/ctslice/internal/slicecache"
	"github.com/strrl/ctslice/internal/viewer"
	"github.com/strrl/ctslice/pkg/models"
)

type fakeViewer struct {
	session  models.Session
	bound    bool
	shown    []int
	cleared  bool
	saved    []int
	exported string
}

func (f *fakeViewer) Current() (models.Session, bool) { return f.session, f.bound }

func (f *fakeViewer) Begin() display.Ticket { return display.Ticket{} }

func (f *fakeViewer) Show(_ context.Context, _ display.Ticket, index int) (*slicecache.Handle, error) {
	f.shown = append(f.shown, index)
	return nil, nil
}

func (f *fakeViewer) Export(dir string) (string, error) {
	f.exported = dir
	return dir + "/ct_slice_0.png", nil
}

func (f *fakeViewer) Save(_ context.Context, index int) error {
	f.saved = append(f.saved, index)
	return nil
}

func (f *fakeViewer) Clear(context.Context) error {
	f.cleared = true
	f.bound = false
	return nil
}

func boundViewer() *fakeViewer {
	return &fakeViewer{
		session: models.Session{SessionID: "abc", SliceCount: 3, SourceFilename: "scan.nii", SourceSizeBytes: 200},
		bound:   true,
	}
}

func testHandle(t *testing.T, index int) *slicecache.Handle {
	t.Helper()
	database, err := db.Open("")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	cache := slicecache.New(db.NewSlices(database), zap.NewNop(), nil)
	h, err := cache.Insert(context.Background(), models.SliceKey{SessionID: "abc", Index: index}, []byte("not really a png"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return h
}

func sized(m model) model {
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(model)
}

func press(m model, key string) (model, tea.Cmd) {
	var msg tea.KeyMsg
	switch key {
	case "left":
		msg = tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		msg = tea.KeyMsg{Type: tea.KeyRight}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	updated, cmd := m.Update(msg)
	return updated.(model), cmd
}

// run executes cmd and any batched commands, returning their messages
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		return []tea.Msg{msg}
	}
	var out []tea.Msg
	for _, c := range batch {
		out = append(out, run(c)...)
	}
	return out
}

// TestModelInitialization tests the initial model setup
func TestModelInitialization(t *testing.T) {
	m := initialModel(context.Background(), boundViewer(), t.TempDir())

	if !m.hasSession || m.session.SessionID != "abc" {
		t.Error("Bound session should be picked up")
	}
	if m.index != 0 {
		t.Errorf("Expected index 0, got %d", m.index)
	}
	if m.Init() == nil {
		t.Error("Init should request the first slice")
	}

	empty := initialModel(context.Background(), &fakeViewer{}, t.TempDir())
	if empty.Init() != nil {
		t.Error("Init should do nothing without a session")
	}
}

// TestSliceNavigation tests moving between slices
func TestSliceNavigation(t *testing.T) {
	m := sized(initialModel(context.Background(), boundViewer(), t.TempDir()))

	m, _ = press(m, "left")
	if m.index != 0 {
		t.Error("Index should not go below zero")
	}

	m, _ = press(m, "right")
	m, _ = press(m, "right")
	if m.index != 2 || m.pending != 2 {
		t.Errorf("Expected index 2 pending, got index %d pending %d", m.index, m.pending)
	}
	if !m.loading.Active() {
		t.Error("Loading indicator should be active")
	}

	m, _ = press(m, "right")
	if m.index != 2 {
		t.Error("Index should not go past the last slice")
	}
}

// TestSliceLoadedHandling tests handling of loaded slices
func TestSliceLoadedHandling(t *testing.T) {
	m := sized(initialModel(context.Background(), boundViewer(), t.TempDir()))
	m, _ = press(m, "right")

	h := testHandle(t, 1)
	updated, _ := m.Update(SliceLoadedMsg{Index: 1, Handle: h})
	m = updated.(model)

	if m.shown != h {
		t.Error("Loaded slice should be shown")
	}
	if m.loading.Active() {
		t.Error("Loading should stop")
	}
	if !strings.Contains(m.viewport.View(), h.URL()) {
		t.Error("Viewport should show the image address")
	}
}

// TestStaleSliceIgnored tests that superseded results are dropped
func TestStaleSliceIgnored(t *testing.T) {
	m := sized(initialModel(context.Background(), boundViewer(), t.TempDir()))
	m, _ = press(m, "right")
	m, _ = press(m, "right")

	updated, _ := m.Update(SliceLoadedMsg{Index: 1, Handle: testHandle(t, 1)})
	m = updated.(model)
	if m.shown != nil {
		t.Error("Result for an older index should be ignored")
	}

	updated, _ = m.Update(SliceLoadedMsg{Index: 2, Error: display.ErrStale})
	m = updated.(model)
	if m.err != nil {
		t.Error("Stale result should not be reported")
	}
	if !m.loading.Active() {
		t.Error("Still waiting for the latest request")
	}
}

type sliceService struct{}

func (sliceService) UploadFile(context.Context, string, io.Reader) (api.UploadResult, error) {
	return api.UploadResult{}, errors.New("not used")
}

func (sliceService) FetchSlice(_ context.Context, _ string, index int) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G', byte(index)}, nil
}

func (sliceService) SaveToProfile(context.Context, string, int) error { return nil }

type savedSession struct{ session models.Session }

func (s *savedSession) Load(context.Context) (models.Session, bool) { return s.session, true }
func (s *savedSession) Save(_ context.Context, sess models.Session) error {
	s.session = sess
	return nil
}
func (s *savedSession) Clear(context.Context) error { return nil }

// loadedMsg runs cmd and returns the slice result among its messages
func loadedMsg(t *testing.T, cmd tea.Cmd) SliceLoadedMsg {
	t.Helper()
	for _, msg := range run(cmd) {
		if loaded, ok := msg.(SliceLoadedMsg); ok {
			return loaded
		}
	}
	t.Fatal("No slice result")
	return SliceLoadedMsg{}
}

// TestLoadsFinishingOutOfOrder tests that the last key press wins even when
// its load runs before the earlier one
func TestLoadsFinishingOutOfOrder(t *testing.T) {
	ctx := context.Background()
	database, err := db.Open("")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	app := viewer.New(viewer.Options{
		Sessions: &savedSession{session: models.Session{SessionID: "abc", SliceCount: 3, SourceFilename: "scan.nii"}},
		Cache:    slicecache.New(db.NewSlices(database), zap.NewNop(), nil),
		Endpoint: sliceService{},
		Logger:   zap.NewNop(),
	})
	defer app.Close()
	if _, ok := app.Restore(ctx); !ok {
		t.Fatal("Session should be restored")
	}

	m := sized(initialModel(ctx, app, t.TempDir()))
	m, toFirst := press(m, "right")
	m, toSecond := press(m, "right")

	second := loadedMsg(t, toSecond)
	first := loadedMsg(t, toFirst)

	if second.Error != nil {
		t.Fatalf("Latest load failed: %v", second.Error)
	}
	if !errors.Is(first.Error, display.ErrStale) {
		t.Errorf("Earlier load should be stale, got %v", first.Error)
	}

	updated, _ := m.Update(second)
	m = updated.(model)
	updated, _ = m.Update(first)
	m = updated.(model)

	shown := app.Displayed()
	if shown == nil || shown.Key().Index != 2 {
		t.Fatalf("Expected slice 2 on screen, got %v", shown)
	}
	if m.shown != shown || m.index != 2 {
		t.Errorf("Model should show slice 2, index %d", m.index)
	}
	if shown.Revoked() {
		t.Error("Displayed slice must stay live")
	}
}

// TestSliceErrorHandling tests that errors are shown and the old slice kept
func TestSliceErrorHandling(t *testing.T) {
	m := sized(initialModel(context.Background(), boundViewer(), t.TempDir()))
	h := testHandle(t, 0)
	m.shown = h
	m, _ = press(m, "right")

	updated, _ := m.Update(SliceLoadedMsg{Index: 1, Error: errors.New("status 500")})
	m = updated.(model)

	if m.shown != h {
		t.Error("Previous slice should stay on screen")
	}
	if !strings.Contains(m.View(), "status 500") {
		t.Error("Error should be rendered")
	}
}

// TestActions tests the save, download and clear keys
func TestActions(t *testing.T) {
	v := boundViewer()
	dir := t.TempDir()
	m := sized(initialModel(context.Background(), v, dir))
	m.shown = testHandle(t, 0)

	_, cmd := press(m, "s")
	msgs := run(cmd)
	if len(msgs) != 1 {
		t.Fatalf("Expected one message, got %d", len(msgs))
	}
	if msg, ok := msgs[0].(SavedMsg); !ok || msg.Index != 0 {
		t.Errorf("Unexpected save result %#v", msgs[0])
	}

	_, cmd = press(m, "d")
	msgs = run(cmd)
	if len(msgs) != 1 {
		t.Fatalf("Expected one message, got %d", len(msgs))
	}
	if v.exported != dir {
		t.Errorf("Expected export to %s, got %s", dir, v.exported)
	}

	m, _ = press(m, "c")
	updated, _ := m.Update(ClearedMsg{})
	m = updated.(model)
	if m.hasSession || m.shown != nil {
		t.Error("Clear should drop the session and the displayed slice")
	}
	if !strings.Contains(m.View(), "No scan uploaded") {
		t.Error("Empty state should be rendered")
	}
}

func TestRenderSlider(t *testing.T) {
	bar := renderSlider(0, 10, 30)
	if !strings.Contains(bar, "1/10") {
		t.Errorf("Slider should show position, got %q", bar)
	}
	if got := renderSlider(4, 0, 30); got != "slice 4" {
		t.Errorf("Unexpected slider without count: %q", got)
	}
}

func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{
		200:     "200 B",
		2048:    "2.0 KiB",
		5 << 20: "5.0 MiB",
	}
	for in, want := range cases {
		if got := humanBytes(in); got != want {
			t.Errorf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
