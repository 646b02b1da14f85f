package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/busscan/internal/tui/colors"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Accent).
			Background(colors.Surface0).
			Padding(0, 1)

	StatusScanningStyle = lipgloss.NewStyle().
				Foreground(colors.Probing).
				Bold(true)

	StatusDoneStyle = lipgloss.NewStyle().
			Foreground(colors.Found).
			Bold(true)

	StatusFailedStyle = lipgloss.NewStyle().
				Foreground(colors.Failure).
				Bold(true)

	StatusCancelledStyle = lipgloss.NewStyle().
				Foreground(colors.Subtext0).
				Bold(true)

	ContentBorderStyle = lipgloss.NewStyle().
				BorderTop(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(colors.Surface1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Failure)

	MutedStyle = lipgloss.NewStyle().
			Foreground(colors.Silent)

	HelpBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Surface2).
			Padding(1, 2).
			Margin(1, 0)

	// Rows of the device table
	DeviceRowStyle        = lipgloss.NewStyle().Foreground(colors.Text)
	DeviceWarningRowStyle = lipgloss.NewStyle().Foreground(colors.Warning)
	HighlightStyle        = lipgloss.NewStyle().
				Foreground(colors.Base).
				Background(colors.Blue)
)

type StatusType int

const (
	StatusScanning StatusType = iota
	StatusDone
	StatusFailed
	StatusCancelled
)

func (s StatusType) String() string {
	switch s {
	case StatusScanning:
		return "SCANNING"
	case StatusDone:
		return "DONE"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func GetStatusStyle(status StatusType) lipgloss.Style {
	switch status {
	case StatusScanning:
		return StatusScanningStyle
	case StatusDone:
		return StatusDoneStyle
	case StatusCancelled:
		return StatusCancelledStyle
	default:
		return StatusFailedStyle
	}
}
