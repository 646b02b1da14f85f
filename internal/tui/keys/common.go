package keys

import "github.com/charmbracelet/bubbles/key"

// Common key bindings used across TUI commands
type CommonKeys struct {
	Quit key.Binding
	Help key.Binding
}

func NewCommonKeys() CommonKeys {
	return CommonKeys{
		Quit: key.NewBinding(
			key.WithKeys("q", "Q", "ctrl+c"),
			key.WithHelp("q/ctrl+c", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
	}
}

// ScanKeys drives the scan view
type ScanKeys struct {
	CommonKeys
	Cancel  key.Binding
	Rescan  key.Binding
	Up      key.Binding
	Down    key.Binding
	NextTab key.Binding
}

func NewScanKeys() ScanKeys {
	return ScanKeys{
		CommonKeys: NewCommonKeys(),
		Cancel: key.NewBinding(
			key.WithKeys("esc", "x"),
			key.WithHelp("esc/x", "stop scan"),
		),
		Rescan: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "rescan"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		NextTab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "devices/probe log"),
		),
	}
}

func (k ScanKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Cancel, k.Rescan, k.Quit}
}

func (k ScanKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.NextTab},
		{k.Cancel, k.Rescan},
		{k.Help, k.Quit},
	}
}
