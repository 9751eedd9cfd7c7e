package tui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"

	"github.com/strrl/ctslice/internal/display"
	"github.com/strrl/ctslice/internal/slicecache"
	"github.com/strrl/ctslice/pkg/models"
)

// Viewer is what the TUI drives.
type Viewer interface {
	Current() (models.Session, bool)
	Begin() display.Ticket
	Show(ctx context.Context, t display.Ticket, index int) (*slicecache.Handle, error)
	Export(dir string) (string, error)
	Save(ctx context.Context, index int) error
	Clear(ctx context.Context) error
}

type model struct {
	ctx       context.Context
	viewer    Viewer
	exportDir string

	session    models.Session
	hasSession bool
	index      int
	pending    int
	shown      *slicecache.Handle

	loading  *LoadingIndicator
	viewport viewport.Model
	status   string
	err      error
	ready    bool
	width    int
	height   int
}

func initialModel(ctx context.Context, v Viewer, exportDir string) model {
	sess, ok := v.Current()
	return model{
		ctx:        ctx,
		viewer:     v,
		exportDir:  exportDir,
		session:    sess,
		hasSession: ok,
		pending:    -1,
		loading:    NewLoadingIndicator(),
	}
}

func (m model) Init() tea.Cmd {
	if !m.hasSession {
		return nil
	}
	return m.request(m.index)
}

// request starts loading index. The ticket is taken here, in key order, so
// a later request supersedes it however the commands get scheduled.
func (m *model) request(index int) tea.Cmd {
	m.pending = index
	m.err = nil
	m.loading.Start(fmt.Sprintf("Loading slice %d...", index))
	ticket := m.viewer.Begin()
	return tea.Batch(loadSliceCmd(m.ctx, m.viewer, ticket, index), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.updateViewport()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "left", "h":
			if m.hasSession && m.index > 0 {
				m.index--
				cmds = append(cmds, m.request(m.index))
			}

		case "right", "l":
			if m.hasSession && (m.session.SliceCount == 0 || m.index < m.session.SliceCount-1) {
				m.index++
				cmds = append(cmds, m.request(m.index))
			}

		case "home", "g":
			if m.hasSession && m.index != 0 {
				m.index = 0
				cmds = append(cmds, m.request(m.index))
			}

		case "end", "G":
			if m.hasSession && m.session.SliceCount > 0 && m.index != m.session.SliceCount-1 {
				m.index = m.session.SliceCount - 1
				cmds = append(cmds, m.request(m.index))
			}

		case "enter", "r":
			if m.hasSession {
				cmds = append(cmds, m.request(m.index))
			}

		case "d":
			if m.shown != nil {
				cmds = append(cmds, exportCmd(m.viewer, m.exportDir))
			}

		case "s":
			if m.hasSession {
				cmds = append(cmds, saveCmd(m.ctx, m.viewer, m.index))
			}

		case "c":
			if m.hasSession {
				m.loading.Start("Clearing session...")
				cmds = append(cmds, clearCmd(m.ctx, m.viewer), tickCmd())
			}
		}
		m.updateViewport()

	case SliceLoadedMsg:
		if msg.Index != m.pending {
			break
		}
		if errors.Is(msg.Error, display.ErrStale) {
			break
		}
		m.pending = -1
		m.loading.Stop()
		if msg.Error != nil {
			m.err = msg.Error
		} else {
			m.shown = msg.Handle
			m.status = ""
		}
		m.updateViewport()

	case ExportedMsg:
		if msg.Error != nil {
			m.err = msg.Error
		} else {
			m.status = "Saved " + msg.Path
		}

	case SavedMsg:
		if msg.Error != nil {
			m.err = msg.Error
		} else {
			m.status = fmt.Sprintf("Slice %d sent to your profile", msg.Index)
		}

	case ClearedMsg:
		m.loading.Stop()
		m.pending = -1
		m.shown = nil
		m.session = models.Session{}
		m.hasSession = false
		m.index = 0
		m.err = msg.Error
		if msg.Error == nil {
			m.status = "Session cleared"
		}
		m.updateViewport()

	case TickMsg:
		if m.loading.Active() {
			m.loading.Tick()
			cmds = append(cmds, tickCmd())
		}
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderSlice())
}

func (m model) renderSlice() string {
	var s strings.Builder

	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	row := func(label, value string) {
		s.WriteString(labelStyle.Render(fmt.Sprintf("%-10s", label)) + valueStyle.Render(value) + "\n")
	}

	if !m.hasSession {
		emptyStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
		s.WriteString(emptyStyle.Render("No scan uploaded. Run `ctslice upload <scan.nii>` first."))
		return s.String()
	}

	row("File", fmt.Sprintf("%s (%s)", m.session.SourceFilename, humanBytes(m.session.SourceSizeBytes)))
	row("Uploaded", m.session.CreatedAt.Local().Format("2006-01-02 15:04"))
	row("Session", truncate.StringWithTail(m.session.SessionID, 40, "..."))
	s.WriteString("\n")
	s.WriteString(renderSlider(m.index, m.session.SliceCount, max(m.width-4, 10)) + "\n\n")

	if m.shown == nil || m.shown.Revoked() {
		s.WriteString(labelStyle.Render("Nothing displayed yet"))
		return s.String()
	}

	data, err := m.shown.Bytes()
	if err != nil {
		s.WriteString(labelStyle.Render("Image released"))
		return s.String()
	}
	row("Slice", fmt.Sprintf("%d", m.shown.Key().Index))
	row("Image", m.shown.URL())
	row("Size", humanBytes(int64(len(data))))
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		row("Format", fmt.Sprintf("%s %dx%d", format, cfg.Width, cfg.Height))
	}
	return s.String()
}

// renderSlider draws the slice position as a bar
func renderSlider(index, count, width int) string {
	if count <= 0 {
		return fmt.Sprintf("slice %d", index)
	}
	label := fmt.Sprintf(" %d/%d", index+1, count)
	barWidth := width - len(label)
	if barWidth < 1 {
		barWidth = 1
	}
	pos := 0
	if count > 1 {
		pos = index * (barWidth - 1) / (count - 1)
	}

	trackStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	knobStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)

	return trackStyle.Render(strings.Repeat("─", pos)) +
		knobStyle.Render("●") +
		trackStyle.Render(strings.Repeat("─", barWidth-pos-1)) +
		label
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s", m.renderHeader(), m.viewport.View(), m.renderStatus(), m.renderFooter())
}

func (m model) renderHeader() string {
	title := "CT Slice Viewer"
	if m.hasSession {
		title = fmt.Sprintf("CT Slice Viewer - %s", m.session.SourceFilename)
	}

	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("63"))

	return style.Render(title)
}

func (m model) renderStatus() string {
	if m.loading.Active() {
		return m.loading.View()
	}
	if m.err != nil {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("Error: " + m.err.Error())
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render(m.status)
}

func (m model) renderFooter() string {
	info := "←/→: slice • enter: reload • d: download • s: save • c: clear • q: quit"
	if !m.hasSession {
		info = "q: quit"
	}

	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	return style.Render(info)
}

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// Run shows the viewer until the user quits. Exported slices go to exportDir.
func Run(ctx context.Context, v Viewer, exportDir string) error {
	p := tea.NewProgram(
		initialModel(ctx, v, exportDir),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	_, err := p.Run()
	return err
}
