package components

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/evertras/bubble-table/table"

	"github.com/allbin/busscan"
	"github.com/allbin/busscan/internal/tui/colors"
	"github.com/allbin/busscan/internal/tui/styles"
)

const (
	colIndex     = "index"
	colSlave     = "slave"
	colSignature = "signature"
	colSN        = "sn"
	colLine      = "line"
	colFirmware  = "fw"
	colErrors    = "errors"
)

// DeviceTable lists discovered devices, one row per device
type DeviceTable struct {
	model   table.Model
	devices []busscan.Device
}

func NewDeviceTable(width, height int) *DeviceTable {
	columns := []table.Column{
		table.NewColumn(colSlave, "Slave", 6),
		table.NewFlexColumn(colSignature, "Device", 2),
		table.NewColumn(colSN, "SN", 12),
		table.NewColumn(colLine, "Line", 12),
		table.NewColumn(colFirmware, "FW", 10),
		table.NewFlexColumn(colErrors, "Errors", 3),
	}

	t := table.New(columns).
		Focused(true).
		BorderRounded().
		WithBaseStyle(lipgloss.NewStyle().
			BorderForeground(colors.Surface1).
			Align(lipgloss.Left)).
		HeaderStyle(lipgloss.NewStyle().
			Foreground(colors.Text).
			Bold(true)).
		HighlightStyle(styles.HighlightStyle)

	dt := &DeviceTable{model: t}
	dt.SetSize(width, height)
	return dt
}

// SetSize fits the table into width x height cells
func (t *DeviceTable) SetSize(width, height int) {
	// Borders, header and footer take six lines
	pageSize := height - 6
	if pageSize < 1 {
		pageSize = 1
	}
	t.model = t.model.WithTargetWidth(width).WithPageSize(pageSize)
}

// Add appends devices in discovery order
func (t *DeviceTable) Add(devices ...busscan.Device) {
	t.devices = append(t.devices, devices...)
	t.refresh()
}

func (t *DeviceTable) Clear() {
	t.devices = nil
	t.refresh()
}

func (t *DeviceTable) Len() int { return len(t.devices) }

func (t *DeviceTable) Devices() []busscan.Device { return t.devices }

// Selected returns the highlighted device
func (t *DeviceTable) Selected() (busscan.Device, bool) {
	row := t.model.HighlightedRow()
	i, ok := row.Data[colIndex].(int)
	if !ok || i < 0 || i >= len(t.devices) {
		return busscan.Device{}, false
	}
	return t.devices[i], true
}

func (t *DeviceTable) refresh() {
	rows := make([]table.Row, 0, len(t.devices))
	for i, d := range t.devices {
		rows = append(rows, deviceRow(i, d))
	}
	t.model = t.model.WithRows(rows)
}

func deviceRow(i int, d busscan.Device) table.Row {
	errs := make([]string, 0, len(d.Errors))
	for _, e := range d.Errors {
		errs = append(errs, shortErrorID(e.ID))
	}

	row := table.NewRow(table.RowData{
		colIndex:     i,
		colSlave:     d.Config.SlaveID,
		colSignature: d.Signature,
		colSN:        d.SerialNumber,
		colLine:      d.Config.Line().String(),
		colFirmware:  d.Firmware.Version,
		colErrors:    strings.Join(errs, ", "),
	})
	if len(d.Errors) > 0 {
		return row.WithStyle(styles.DeviceWarningRowStyle)
	}
	return row.WithStyle(styles.DeviceRowStyle)
}

// shortErrorID turns "com.wb.device_manager.device.read_fw_version_error"
// into "read_fw_version".
func shortErrorID(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		id = id[i+1:]
	}
	return strings.TrimSuffix(id, "_error")
}

func (t *DeviceTable) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	t.model, cmd = t.model.Update(msg)
	return cmd
}

func (t *DeviceTable) View() string {
	if len(t.devices) == 0 {
		return styles.MutedStyle.Render("No devices found yet")
	}
	return t.model.View()
}

// Summary is a one-line description of the highlighted device
func (t *DeviceTable) Summary() string {
	d, ok := t.Selected()
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s sn %s at slave %d, %s, fw %s (%s)",
		d.Signature, d.SerialNumber, d.Config.SlaveID, d.Config.Line(), d.Firmware.Version, d.FirmwareSignature)
}
