package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/busscan"
	"github.com/allbin/busscan/internal/tui/colors"
	"github.com/allbin/busscan/internal/tui/styles"
)

// StatusBar is the single bottom line of the scan view
type StatusBar struct {
	portPath string
	status   styles.StatusType
	err      error
	width    int

	probe   *busscan.ScanEvent
	found   int
	probes  int
	started time.Time
	elapsed time.Duration
}

func NewStatusBar(portPath string) *StatusBar {
	return &StatusBar{portPath: portPath}
}

func (sb *StatusBar) SetWidth(width int) {
	sb.width = width
}

func (sb *StatusBar) SetPort(portPath string) {
	sb.portPath = portPath
}

// Start resets the counters for a new scan
func (sb *StatusBar) Start(now time.Time) {
	sb.status = styles.StatusScanning
	sb.err = nil
	sb.probe = nil
	sb.found = 0
	sb.probes = 0
	sb.started = now
	sb.elapsed = 0
}

// Probe records the last probe outcome
func (sb *StatusBar) Probe(ev busscan.ScanEvent) {
	sb.probe = &ev
	sb.probes++
	sb.found += len(ev.Found)
}

// Finish stops the clock. err decides between done, cancelled and failed.
func (sb *StatusBar) Finish(now time.Time, err error, cancelled bool) {
	sb.elapsed = now.Sub(sb.started)
	sb.err = err
	switch {
	case cancelled:
		sb.status = styles.StatusCancelled
	case err != nil:
		sb.status = styles.StatusFailed
	default:
		sb.status = styles.StatusDone
	}
}

func (sb *StatusBar) Status() styles.StatusType { return sb.status }

func (sb *StatusBar) Found() int { return sb.found }

func (sb *StatusBar) probeText() string {
	if sb.probe == nil {
		return "waiting for first probe"
	}
	return fmt.Sprintf("%d baud %s", sb.probe.BaudRate, sb.probe.Mode)
}

// View renders the bar. now is used for the running clock while scanning.
func (sb *StatusBar) View(now time.Time) string {
	width := sb.width
	if width <= 0 {
		width = 80
	}

	mode := lipgloss.NewStyle().
		Foreground(colors.Base).
		Background(statusColor(sb.status)).
		Bold(true).
		Padding(0, 1).
		Render(sb.status.String())

	port := lipgloss.NewStyle().
		Foreground(colors.Accent).
		Bold(true).
		Padding(0, 1).
		Render(sb.portPath)

	divider := lipgloss.NewStyle().
		Foreground(colors.Surface2).
		Padding(0, 1).
		Render("│")

	var detail string
	if sb.status == styles.StatusFailed && sb.err != nil {
		detail = styles.ErrorStyle.Render(sb.err.Error())
	} else {
		detail = lipgloss.NewStyle().Foreground(colors.Subtext0).Render(sb.probeText())
	}

	elapsed := sb.elapsed
	if sb.status == styles.StatusScanning && !sb.started.IsZero() {
		elapsed = now.Sub(sb.started)
	}
	counters := lipgloss.NewStyle().
		Foreground(colors.Subtext1).
		Padding(0, 1).
		Render(fmt.Sprintf("%d found · %d probes · %s", sb.found, sb.probes, elapsed.Truncate(100*time.Millisecond)))

	left := lipgloss.JoinHorizontal(lipgloss.Left, mode, port, divider, detail)
	right := counters

	spacerWidth := width - lipgloss.Width(left) - lipgloss.Width(right)
	if spacerWidth < 1 {
		spacerWidth = 1
	}
	spacer := lipgloss.NewStyle().Width(spacerWidth).Render("")

	return lipgloss.NewStyle().
		Foreground(colors.Text).
		Background(colors.Surface0).
		Width(width).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, left, spacer, right))
}

func statusColor(s styles.StatusType) lipgloss.Color {
	switch s {
	case styles.StatusScanning:
		return colors.Probing
	case styles.StatusDone:
		return colors.Found
	case styles.StatusCancelled:
		return colors.Subtext0
	default:
		return colors.Failure
	}
}
