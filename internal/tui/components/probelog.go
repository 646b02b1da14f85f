package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/busscan"
	"github.com/allbin/busscan/internal/tui/colors"
)

// ProbeLog is a scrolling list of probe outcomes, newest at the bottom
type ProbeLog struct {
	viewport viewport.Model
	lines    []string
}

func NewProbeLog(width, height int) *ProbeLog {
	return &ProbeLog{viewport: viewport.New(width, height)}
}

func (l *ProbeLog) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
}

// Add appends one probe outcome
func (l *ProbeLog) Add(at time.Time, ev busscan.ScanEvent) {
	l.lines = append(l.lines, FormatEvent(at, ev))
	l.viewport.SetContent(strings.Join(l.lines, "\n"))
	l.viewport.GotoBottom()
}

func (l *ProbeLog) Len() int { return len(l.lines) }

func (l *ProbeLog) Clear() {
	l.lines = nil
	l.viewport.SetContent("")
}

func (l *ProbeLog) Update(msg tea.Msg) tea.Cmd {
	// Key messages stay with the scan view bindings
	if _, ok := msg.(tea.KeyMsg); ok {
		return nil
	}
	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	return cmd
}

func (l *ProbeLog) View() string {
	return l.viewport.View()
}

var (
	timeStyle   = lipgloss.NewStyle().Foreground(colors.Subtext1)
	foundStyle  = lipgloss.NewStyle().Foreground(colors.Found).Bold(true)
	silentStyle = lipgloss.NewStyle().Foreground(colors.Silent)
	failStyle   = lipgloss.NewStyle().Foreground(colors.Failure)
)

// FormatEvent renders one probe as a log line
func FormatEvent(at time.Time, ev busscan.ScanEvent) string {
	head := fmt.Sprintf("%s %6d %-5s", timeStyle.Render(at.Format("15:04:05.000")), ev.BaudRate, ev.Mode)

	switch {
	case ev.Err != nil:
		return head + " " + failStyle.Render("error: "+ev.Err.Error())
	case len(ev.Found) == 0:
		return head + " " + silentStyle.Render("no answer")
	}

	names := make([]string, 0, len(ev.Found))
	for _, d := range ev.Found {
		names = append(names, fmt.Sprintf("%s #%d", d.Signature, d.Config.SlaveID))
	}
	return head + " " + foundStyle.Render("found "+strings.Join(names, ", "))
}
