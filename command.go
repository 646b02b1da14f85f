package busscan

import (
	"encoding/json"
	"fmt"
)

// Kind names the executor operation a command is addressed to
type Kind string

const (
	KindScan       Kind = "scan"
	KindLoadConfig Kind = "loadConfig"
	KindSetConfig  Kind = "setConfig"
)

// Command is one of ScanCommand, LoadConfigCommand or SetConfigCommand.
type Command interface {
	Kind() Kind
	Line() PortConfig
	isCommand()
}

// ScanMode tells the executor whether to begin a fresh bus scan at the
// probed speed or to continue enumerating devices already answering.
type ScanMode string

const (
	ScanStart ScanMode = "start"
	ScanNext  ScanMode = "next"
)

// Scan opcodes understood by WB devices
const (
	ScanOpcodeLegacy byte = 0x46
	ScanOpcode       byte = 0x60
)

// ScanCommand probes the bus at one speed
type ScanCommand struct {
	Port    PortConfig `json:"port"`
	Command byte       `json:"command"`
	Mode    ScanMode   `json:"mode"`
}

// LoadConfigCommand reads the configuration of one device
type LoadConfigCommand struct {
	Port       PortConfig `json:"port"`
	DeviceType string     `json:"device_type,omitempty"`
	SlaveID    int        `json:"slave_id"`
}

// SetConfigCommand writes parameters and channel values to one device.
// Parameters are named WB registers; Channels are keyed "K<n>",
// "coil:<addr>" or "holding:<addr>".
type SetConfigCommand struct {
	Port       PortConfig     `json:"port"`
	DeviceType string         `json:"device_type,omitempty"`
	SlaveID    int            `json:"slave_id"`
	Parameters map[string]int `json:"parameters,omitempty"`
	Channels   map[string]int `json:"channels,omitempty"`
}

func (ScanCommand) Kind() Kind       { return KindScan }
func (LoadConfigCommand) Kind() Kind { return KindLoadConfig }
func (SetConfigCommand) Kind() Kind  { return KindSetConfig }

func (c ScanCommand) Line() PortConfig       { return c.Port }
func (c LoadConfigCommand) Line() PortConfig { return c.Port }
func (c SetConfigCommand) Line() PortConfig  { return c.Port }

func (ScanCommand) isCommand()       {}
func (LoadConfigCommand) isCommand() {}
func (SetConfigCommand) isCommand()  {}

// Device is a unit found on the bus by a scan
type Device struct {
	Signature         string        `json:"device_signature"`
	SerialNumber      string        `json:"sn"`
	Firmware          Firmware      `json:"fw"`
	FirmwareSignature string        `json:"fw_signature"`
	Config            DeviceConfig  `json:"cfg"`
	Errors            []DeviceError `json:"errors,omitempty"`
}

type Firmware struct {
	Version string `json:"version"`
}

// DeviceConfig is the line configuration a device answered with
type DeviceConfig struct {
	SlaveID  int    `json:"slave_id"`
	BaudRate int    `json:"baud_rate"`
	Parity   Parity `json:"parity"`
	StopBits int    `json:"stop_bits"`
	DataBits int    `json:"data_bits"`
}

// Line returns the port parameters needed to address the device.
// Unset fields fall back to 8N2.
func (c DeviceConfig) Line() PortConfig {
	cfg := DefaultPortConfig()
	if c.BaudRate != 0 {
		cfg.BaudRate = c.BaudRate
	}
	if c.DataBits != 0 {
		cfg.DataBits = c.DataBits
	}
	if c.StopBits != 0 {
		cfg.StopBits = c.StopBits
	}
	cfg.Parity = c.Parity
	return cfg
}

// DeviceError records a detail that could not be read from a device
type DeviceError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ScanResult is the value of a successful scan reply
type ScanResult struct {
	Devices []Device `json:"devices"`
}

// ConfigValues is the key-value result of loadConfig and setConfig
type ConfigValues map[string]any

// RequestEnvelope carries an encoded command to the executor
type RequestEnvelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewRequest encodes cmd into an envelope tagged with id.
func NewRequest(id string, cmd Command) (RequestEnvelope, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return RequestEnvelope{}, fmt.Errorf("encoding %s command: %w", cmd.Kind(), err)
	}
	return RequestEnvelope{ID: id, Kind: cmd.Kind(), Payload: payload}, nil
}

// Command decodes the envelope payload into the command type named by Kind.
func (e RequestEnvelope) Command() (Command, error) {
	switch e.Kind {
	case KindScan:
		return decodePayload[ScanCommand](e)
	case KindLoadConfig:
		return decodePayload[LoadConfigCommand](e)
	case KindSetConfig:
		return decodePayload[SetConfigCommand](e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, e.Kind)
	}
}

func decodePayload[T Command](e RequestEnvelope) (Command, error) {
	var cmd T
	if err := json.Unmarshal(e.Payload, &cmd); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", e.Kind, err)
	}
	return cmd, nil
}
