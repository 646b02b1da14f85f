package wbmodbus

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"

	"github.com/goburrow/modbus"

	"github.com/allbin/busscan"
)

type registerFormat int

const (
	formatU16 registerFormat = iota
	formatU32
	formatString
)

// register is a WB holding register (or register range)
type register struct {
	Address  uint16
	Count    uint16
	Format   registerFormat
	Scale    int
	Writable bool
}

// WB common register map
const (
	RegBaudRate       = "baud_rate"
	RegParity         = "parity"
	RegStopBits       = "stop_bits"
	RegContinuousRead = "continuous_read"
	RegSlaveID        = "slave_id"
	RegDeviceModel    = "device_model"
	RegDeviceModelEx  = "device_model_ex"
	RegFwVersion      = "fw_version"
	RegSN             = "sn"
	RegFwSignature    = "fw_signature"
)

var registers = map[string]register{
	RegBaudRate:       {Address: 110, Count: 1, Format: formatU16, Scale: 100, Writable: true},
	RegParity:         {Address: 111, Count: 1, Format: formatU16, Writable: true},
	RegStopBits:       {Address: 112, Count: 1, Format: formatU16, Writable: true},
	RegContinuousRead: {Address: 114, Count: 1, Format: formatU16, Writable: true},
	RegSlaveID:        {Address: 128, Count: 1, Format: formatU16, Writable: true},
	RegDeviceModel:    {Address: 200, Count: 6, Format: formatString},
	RegDeviceModelEx:  {Address: 200, Count: 20, Format: formatString},
	RegFwVersion:      {Address: 250, Count: 16, Format: formatString},
	RegSN:             {Address: 270, Count: 2, Format: formatU32},
	RegFwSignature:    {Address: 290, Count: 12, Format: formatString},
}

// registerReader reads named registers through a goburrow client
type registerReader struct {
	client modbus.Client
}

func (r registerReader) raw(name string) (register, []byte, error) {
	reg, ok := registers[name]
	if !ok {
		return reg, nil, fmt.Errorf("unknown register name: %s", name)
	}
	data, err := r.client.ReadHoldingRegisters(reg.Address, reg.Count)
	if err != nil {
		return reg, nil, err
	}
	if len(data) != int(reg.Count)*2 {
		return reg, nil, fmt.Errorf("%w: %s: got %d bytes", errBadFrame, name, len(data))
	}
	return reg, data, nil
}

// Uint reads a numeric register and applies its scale.
func (r registerReader) Uint(name string) (uint64, error) {
	reg, data, err := r.raw(name)
	if err != nil {
		return 0, err
	}
	var v uint64
	switch reg.Format {
	case formatU32:
		v = uint64(binary.BigEndian.Uint32(data))
	case formatU16:
		v = uint64(binary.BigEndian.Uint16(data))
	default:
		return 0, fmt.Errorf("register %s is not numeric", name)
	}
	if reg.Scale > 1 {
		v *= uint64(reg.Scale)
	}
	return v, nil
}

// String reads a string register: one character per register, NUL terminated.
func (r registerReader) String(name string) (string, error) {
	reg, data, err := r.raw(name)
	if err != nil {
		return "", err
	}
	if reg.Format != formatString {
		return "", fmt.Errorf("register %s is not a string", name)
	}
	var sb strings.Builder
	for i := 0; i+1 < len(data); i += 2 {
		c := data[i+1]
		if c == 0 {
			break
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}

// DeviceSignature reads the extended model name, falling back to the
// short one on devices that lack it.
func (r registerReader) DeviceSignature() (string, error) {
	if sig, err := r.String(RegDeviceModelEx); err == nil {
		return sig, nil
	}
	return r.String(RegDeviceModel)
}

var mapModel = regexp.MustCompile(`^MAP[0-9]{1,2}`)

// maskSN drops the top byte of the serial number on MAP meters, which
// store a model code there.
func maskSN(model string, sn uint32) uint32 {
	if mapModel.MatchString(model) {
		return sn & 0x00FFFFFF
	}
	return sn
}

// parityFromRegister decodes the parity register: 0 none, 1 odd, 2 even.
// Any other value decodes to ParityUnknown.
func parityFromRegister(v uint64) busscan.Parity {
	switch v {
	case 0:
		return busscan.ParityNone
	case 1:
		return busscan.ParityOdd
	case 2:
		return busscan.ParityEven
	default:
		return busscan.ParityUnknown
	}
}

func parityToRegister(p busscan.Parity) uint16 {
	switch p {
	case busscan.ParityOdd:
		return 1
	case busscan.ParityEven:
		return 2
	default:
		return 0
	}
}
