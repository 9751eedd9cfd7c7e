package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
)

// LoadingIndicator animates while a slice request, export or save is pending.
type LoadingIndicator struct {
	frame   int
	message string
	active  bool
}

// NewLoadingIndicator creates an idle loading indicator
func NewLoadingIndicator() *LoadingIndicator {
	return &LoadingIndicator{}
}

// Start shows the indicator with message
func (l *LoadingIndicator) Start(message string) {
	l.message = message
	l.active = true
}

// Stop hides the indicator
func (l *LoadingIndicator) Stop() {
	l.active = false
	l.message = ""
	l.frame = 0
}

// Active reports whether something is loading
func (l *LoadingIndicator) Active() bool {
	return l.active
}

// Tick advances the animation by one frame.
func (l *LoadingIndicator) Tick() {
	l.frame = (l.frame + 1) % len(spinnerFrames)
}

// View renders the indicator, or "" when idle
func (l *LoadingIndicator) View() string {
	if !l.active {
		return ""
	}
	return spinnerStyle.Render(spinnerFrames[l.frame]) + " " + pendingStyle.Render(l.message)
}
