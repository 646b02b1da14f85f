// Package models holds the bubbletea models of the interactive commands.
package models

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/busscan"
	"github.com/allbin/busscan/internal/tui/colors"
	"github.com/allbin/busscan/internal/tui/components"
	"github.com/allbin/busscan/internal/tui/keys"
	"github.com/allbin/busscan/internal/tui/styles"
)

// ScanFunc runs one bus scan, reporting every probe to progress
type ScanFunc func(ctx context.Context, progress func(busscan.ScanEvent)) ([]busscan.Device, error)

// ProbeMsg carries one probe outcome into the model
type ProbeMsg struct {
	At    time.Time
	Event busscan.ScanEvent
}

// ScanDoneMsg ends a scan
type ScanDoneMsg struct {
	Devices []busscan.Device
	Err     error
}

type tickMsg time.Time

type pane int

const (
	paneDevices pane = iota
	paneLog
)

const statusBarHeight = 1

// ScanModel runs scans and shows discovered devices as they arrive
type ScanModel struct {
	scan ScanFunc
	now  func() time.Time

	// ctx lives as long as the program, scanCancel as long as one scan
	ctx        context.Context
	cancel     context.CancelFunc
	scanCancel context.CancelFunc
	events     chan tea.Msg

	running bool
	devices []busscan.Device
	err     error

	width, height int
	pane          pane

	table     *components.DeviceTable
	log       *components.ProbeLog
	statusBar *components.StatusBar
	spinner   spinner.Model
	help      help.Model
	keys      keys.ScanKeys
}

func NewScanModel(ctx context.Context, portPath string, scan ScanFunc) *ScanModel {
	ctx, cancel := context.WithCancel(ctx)
	return &ScanModel{
		scan:      scan,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		width:     80,
		height:    24,
		table:     components.NewDeviceTable(80, 20),
		log:       components.NewProbeLog(80, 20),
		statusBar: components.NewStatusBar(portPath),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(colors.Probing)),
		),
		help: help.New(),
		keys: keys.NewScanKeys(),
	}
}

// Devices returns the result of the last finished scan
func (m *ScanModel) Devices() []busscan.Device { return m.devices }

// Err returns the error of the last finished scan
func (m *ScanModel) Err() error { return m.err }

// Close cancels a running scan and stops progress delivery
func (m *ScanModel) Close() {
	m.cancel()
}

func (m *ScanModel) Init() tea.Cmd {
	return m.startScan()
}

func (m *ScanModel) startScan() tea.Cmd {
	scanCtx, scanCancel := context.WithCancel(m.ctx)
	m.scanCancel = scanCancel
	m.running = true
	m.err = nil
	m.devices = nil
	m.table.Clear()
	m.log.Clear()
	m.statusBar.Start(m.now())

	events := make(chan tea.Msg, 16)
	m.events = events
	deliver := func(msg tea.Msg) {
		select {
		case events <- msg:
		case <-m.ctx.Done():
		}
	}

	go func() {
		defer scanCancel()
		devices, err := m.scan(scanCtx, func(ev busscan.ScanEvent) {
			deliver(ProbeMsg{At: time.Now(), Event: ev})
		})
		deliver(ScanDoneMsg{Devices: devices, Err: err})
	}()

	return tea.Batch(waitForScan(events), m.spinner.Tick, tick())
}

func waitForScan(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *ScanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()

	case ProbeMsg:
		m.log.Add(msg.At, msg.Event)
		m.table.Add(msg.Event.Found...)
		m.statusBar.Probe(msg.Event)
		cmds = append(cmds, waitForScan(m.events))

	case ScanDoneMsg:
		m.running = false
		m.devices = msg.Devices
		m.err = msg.Err
		cancelled := errors.Is(msg.Err, context.Canceled)
		if cancelled {
			m.err = nil
		}
		m.statusBar.Finish(m.now(), m.err, cancelled)

	case tickMsg:
		if m.running {
			cmds = append(cmds, tick())
		}

	case spinner.TickMsg:
		if m.running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.Close()
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.resize()

		case key.Matches(msg, m.keys.Cancel):
			if m.running && m.scanCancel != nil {
				m.scanCancel()
			}

		case key.Matches(msg, m.keys.Rescan):
			if !m.running {
				cmds = append(cmds, m.startScan())
			}

		case key.Matches(msg, m.keys.NextTab):
			if m.pane == paneDevices {
				m.pane = paneLog
			} else {
				m.pane = paneDevices
			}

		case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
			if m.pane == paneDevices {
				cmds = append(cmds, m.table.Update(msg))
			}
		}

	default:
		if m.pane == paneLog {
			cmds = append(cmds, m.log.Update(msg))
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *ScanModel) resize() {
	// title line, summary line, status bar
	contentHeight := m.height - statusBarHeight - 2
	if m.help.ShowAll {
		contentHeight -= lipgloss.Height(m.helpView())
	}
	if contentHeight < 3 {
		contentHeight = 3
	}
	m.table.SetSize(m.width, contentHeight)
	m.log.SetSize(m.width, contentHeight)
	m.statusBar.SetWidth(m.width)
}

func (m *ScanModel) helpView() string {
	return styles.HelpBoxStyle.Render(m.help.View(m.keys))
}

func (m *ScanModel) View() string {
	title := styles.TitleStyle.Render("Bus scan")
	if m.running {
		title = lipgloss.JoinHorizontal(lipgloss.Left, title, " ", m.spinner.View())
	}

	var content, summary string
	if m.pane == paneDevices {
		content = m.table.View()
		summary = styles.MutedStyle.Render(m.table.Summary())
	} else {
		content = m.log.View()
		summary = styles.MutedStyle.Render("probe log")
	}

	parts := []string{
		title,
		styles.ContentBorderStyle.Render(content),
		summary,
	}
	if m.help.ShowAll {
		parts = append(parts, m.helpView())
	}
	parts = append(parts, m.statusBar.View(m.now()))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
