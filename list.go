package busscan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Regular expressions for different types of serial devices
var portPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^ttyUSB\d+$`), // USB serial adapters
	regexp.MustCompile(`^ttyACM\d+$`), // USB CDC/ACM devices
	regexp.MustCompile(`^ttyS\d+$`),   // Standard serial ports
	regexp.MustCompile(`^ttyAMA\d+$`), // ARM/Raspberry Pi serial
	regexp.MustCompile(`^ttymxc\d+$`), // i.MX serial ports
	regexp.MustCompile(`^ttyRS485-\d+$`),
}

// ListPorts returns a list of available serial ports on the system
func ListPorts() ([]string, error) {
	return listPortsIn("/dev")
}

func listPortsIn(devDir string) ([]string, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}

	var ports []string
	for _, entry := range entries {
		name := entry.Name()

		matched := false
		for _, pattern := range portPatterns {
			if pattern.MatchString(name) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		fullPath := filepath.Join(devDir, name)
		if isCharacterDevice(fullPath) {
			ports = append(ports, fullPath)
		}
	}

	// Sort the ports for consistent ordering
	sort.Strings(ports)

	return ports, nil
}

// isCharacterDevice checks if the given path is a character device
func isCharacterDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// PortInfo describes a serial port and, for USB adapters, its identity
type PortInfo struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Description  string `json:"description"`
	IsUSB        bool   `json:"is_usb"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// GetPortInfo returns detailed information about a specific port
func GetPortInfo(portPath string) (*PortInfo, error) {
	if !isCharacterDevice(portPath) {
		return nil, ErrDeviceNotFound
	}

	name := filepath.Base(portPath)
	info := &PortInfo{
		Name:        name,
		Path:        portPath,
		Description: getPortDescription(name),
	}

	if strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM") {
		details, err := enumerator.GetDetailedPortsList()
		if err == nil {
			enrichUSBInfo(info, details)
		}
	}

	return info, nil
}

// ListPortInfo returns PortInfo for every listed port. USB metadata is
// looked up once for the whole list.
func ListPortInfo() ([]*PortInfo, error) {
	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}

	details, _ := enumerator.GetDetailedPortsList()

	infos := make([]*PortInfo, 0, len(ports))
	for _, p := range ports {
		name := filepath.Base(p)
		info := &PortInfo{Name: name, Path: p, Description: getPortDescription(name)}
		enrichUSBInfo(info, details)
		infos = append(infos, info)
	}
	return infos, nil
}

// getPortDescription provides human-readable descriptions for different port types
func getPortDescription(name string) string {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return "USB Serial Port"
	case strings.HasPrefix(name, "ttyACM"):
		return "USB CDC/ACM Device"
	case strings.HasPrefix(name, "ttyAMA"):
		return "ARM Serial Port"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial Port"
	case strings.HasPrefix(name, "ttyRS485"):
		return "RS-485 Port"
	case strings.HasPrefix(name, "ttyS"):
		return "Standard Serial Port"
	default:
		return "Serial Port"
	}
}

// enrichUSBInfo copies USB identity from the enumerator entry matching info
func enrichUSBInfo(info *PortInfo, details []*enumerator.PortDetails) {
	for _, d := range details {
		if d == nil || !d.IsUSB {
			continue
		}
		if d.Name != info.Path && filepath.Base(d.Name) != info.Name {
			continue
		}
		info.IsUSB = true
		info.VendorID = strings.ToLower(d.VID)
		info.ProductID = strings.ToLower(d.PID)
		info.SerialNumber = d.SerialNumber
		info.Product = d.Product
		return
	}
}

// USBFilter matches USB adapters by vendor and product id (hex, no prefix)
type USBFilter struct {
	VendorID  string
	ProductID string
}

// ParseUSBFilter parses "vvvv:pppp". An empty product id matches any product.
func ParseUSBFilter(s string) (USBFilter, error) {
	vid, pid, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	vid = strings.TrimPrefix(vid, "0x")
	pid = strings.TrimPrefix(pid, "0x")
	if vid == "" {
		return USBFilter{}, fmt.Errorf("%w: usb filter %q", ErrInvalidConfig, s)
	}
	return USBFilter{VendorID: vid, ProductID: pid}, nil
}

func (f USBFilter) Matches(info *PortInfo) bool {
	if !info.IsUSB || info.VendorID != f.VendorID {
		return false
	}
	return f.ProductID == "" || info.ProductID == f.ProductID
}

// Selector is the Host used outside of tests. An explicit Path wins;
// otherwise the first listed port matching Filters is chosen, or the
// first listed port when no filter is set.
type Selector struct {
	Path    string
	Backend Backend
	Filters []USBFilter

	list func() ([]*PortInfo, error)
}

var _ Host = (*Selector)(nil)

func (s *Selector) Request(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Path != "" {
		return NewHandle(s.Path, s.Backend), nil
	}

	list := s.list
	if list == nil {
		list = ListPortInfo
	}
	infos, err := list()
	if err != nil {
		return nil, fmt.Errorf("listing ports: %w", err)
	}

	for _, info := range infos {
		if len(s.Filters) == 0 {
			return NewHandle(info.Path, s.Backend), nil
		}
		for _, f := range s.Filters {
			if f.Matches(info) {
				return NewHandle(info.Path, s.Backend), nil
			}
		}
	}
	return nil, ErrDeviceNotFound
}
