/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/allbin/busscan"
	"github.com/allbin/busscan/internal/tui/colors"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colors.Accent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = cellStyle.Foreground(colors.Warning)
	borderStyle = lipgloss.NewStyle().Foreground(colors.Surface2)
)

func checkOutputFormat(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q, want table, json or yaml", format)
}

// writeStructured renders v as JSON or YAML. YAML goes through the JSON
// form so both formats share field names.
func writeStructured(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format == outputJSON {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...)
}

func writeDevices(w io.Writer, format string, devices []busscan.Device) error {
	if format != outputTable {
		return writeStructured(w, format, busscan.ScanResult{Devices: devices})
	}
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices found")
		return err
	}

	t := newTable("Slave", "Device", "SN", "Line", "FW", "FW signature", "Errors")
	warn := make(map[int]bool)
	for i, d := range devices {
		errs := make([]string, 0, len(d.Errors))
		for _, e := range d.Errors {
			errs = append(errs, e.Message)
		}
		warn[i] = len(errs) > 0
		t.Row(
			strconv.Itoa(d.Config.SlaveID),
			d.Signature,
			d.SerialNumber,
			d.Config.Line().String(),
			d.Firmware.Version,
			d.FirmwareSignature,
			strings.Join(errs, "; "),
		)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case warn[row]:
			return warnStyle
		}
		return cellStyle
	})

	_, err := fmt.Fprintf(w, "Found %d device(s):\n%s\n", len(devices), t.Render())
	return err
}

func writeValues(w io.Writer, format string, values busscan.ConfigValues) error {
	if format != outputTable {
		return writeStructured(w, format, values)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	t := newTable("Key", "Value")
	for _, k := range keys {
		t.Row(k, formatValue(values[k]))
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		return cellStyle
	})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, val[k]))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(v)
	}
}
