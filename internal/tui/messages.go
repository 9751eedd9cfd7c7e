package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/strrl/ctslice/internal/display"
	"github.com/strrl/ctslice/internal/slicecache"
)

// Message types for async operations
type (
	// SliceLoadedMsg carries the result of a slice request
	SliceLoadedMsg struct {
		Index  int
		Handle *slicecache.Handle
		Error  error
	}

	// ExportedMsg reports where the displayed slice was written
	ExportedMsg struct {
		Path  string
		Error error
	}

	// SavedMsg reports that a profile save was handed off
	SavedMsg struct {
		Index int
		Error error
	}

	// ClearedMsg reports the end of a clear
	ClearedMsg struct {
		Error error
	}

	// TickMsg is sent periodically for spinner animation
	TickMsg time.Time
)

// loadSliceCmd requests a slice and puts it on screen unless a request
// begun after t got there first
func loadSliceCmd(ctx context.Context, v Viewer, t display.Ticket, index int) tea.Cmd {
	return func() tea.Msg {
		h, err := v.Show(ctx, t, index)
		return SliceLoadedMsg{Index: index, Handle: h, Error: err}
	}
}

// exportCmd writes the displayed slice to dir
func exportCmd(v Viewer, dir string) tea.Cmd {
	return func() tea.Msg {
		path, err := v.Export(dir)
		return ExportedMsg{Path: path, Error: err}
	}
}

// saveCmd saves a slice to the user's profile
func saveCmd(ctx context.Context, v Viewer, index int) tea.Cmd {
	return func() tea.Msg {
		return SavedMsg{Index: index, Error: v.Save(ctx, index)}
	}
}

// clearCmd forgets the session and its cached slices
func clearCmd(ctx context.Context, v Viewer) tea.Cmd {
	return func() tea.Msg {
		return ClearedMsg{Error: v.Clear(ctx)}
	}
}

// tickCmd creates a ticker for spinner animation
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
