package wbmodbus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/allbin/busscan"
)

var errUnknownParameter = errors.New("unknown parameter")

// loadConfig reads the WB common registers of a slave-addressed device
func (e *Executor) loadConfig(ctx context.Context, cmd busscan.LoadConfigCommand) (busscan.ConfigValues, error) {
	if cmd.SlaveID < 1 || cmd.SlaveID > 247 {
		return nil, busscan.NewProtocolError(busscan.CodeWrongParam, "slave id %d out of range", cmd.SlaveID)
	}
	reader := registerReader{client: newRTUClient(ctx, e.bus, byte(cmd.SlaveID))}

	values := busscan.ConfigValues{}
	if cmd.DeviceType != "" {
		values["device_type"] = cmd.DeviceType
	}

	for _, name := range []string{RegSlaveID, RegBaudRate, RegStopBits} {
		v, err := reader.Uint(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		values[name] = v
	}

	v, err := reader.Uint(RegParity)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", RegParity, err)
	}
	values[RegParity] = string(parityFromRegister(v).Char())

	// Older firmware has no continuous read register
	if v, err := reader.Uint(RegContinuousRead); err == nil {
		values[RegContinuousRead] = v
	} else if !isModbusException(err) {
		return nil, fmt.Errorf("reading %s: %w", RegContinuousRead, err)
	}

	model, err := reader.DeviceSignature()
	if err != nil {
		return nil, fmt.Errorf("reading device model: %w", err)
	}
	values[RegDeviceModel] = model

	for _, name := range []string{RegFwVersion, RegFwSignature} {
		s, err := reader.String(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		values[name] = s
	}

	sn, err := reader.Uint(RegSN)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", RegSN, err)
	}
	values[RegSN] = strconv.FormatUint(uint64(maskSN(model, uint32(sn))), 10)

	return values, nil
}

// write is a single coil or holding register write
type write struct {
	key     string
	coil    bool
	address uint16
	value   uint16
}

// Parameters that change how the device is addressed are written last
var paramOrder = []string{RegContinuousRead, RegStopBits, RegParity, RegBaudRate, RegSlaveID}

// setConfig validates every requested write up front, then applies
// channels followed by parameters.
func (e *Executor) setConfig(ctx context.Context, cmd busscan.SetConfigCommand) (busscan.ConfigValues, error) {
	if cmd.SlaveID < 1 || cmd.SlaveID > 247 {
		return nil, busscan.NewProtocolError(busscan.CodeWrongParam, "slave id %d out of range", cmd.SlaveID)
	}

	writes, err := planWrites(cmd)
	if err != nil {
		return nil, err
	}

	client := newRTUClient(ctx, e.bus, byte(cmd.SlaveID))
	channels := map[string]int{}
	params := map[string]int{}
	for _, w := range writes {
		if w.coil {
			v := uint16(0x0000)
			if w.value != 0 {
				v = 0xFF00
			}
			_, err = client.WriteSingleCoil(w.address, v)
		} else {
			_, err = client.WriteSingleRegister(w.address, w.value)
		}
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", w.key, err)
		}
		e.logger.Debug("Register written",
			zap.Int("slave_id", cmd.SlaveID),
			zap.String("key", w.key),
			zap.Uint16("value", w.value),
		)

		if v, ok := cmd.Channels[w.key]; ok {
			channels[w.key] = v
		} else {
			params[w.key] = cmd.Parameters[w.key]
		}
	}

	values := busscan.ConfigValues{"parameters": params, "channels": channels}
	if cmd.DeviceType != "" {
		values["device_type"] = cmd.DeviceType
	}
	return values, nil
}

func planWrites(cmd busscan.SetConfigCommand) ([]write, error) {
	var writes []write

	keys := make([]string, 0, len(cmd.Channels))
	for k := range cmd.Channels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w, err := channelWrite(k, cmd.Channels[k])
		if err != nil {
			return nil, err
		}
		writes = append(writes, w)
	}

	for name := range cmd.Parameters {
		if !slices.Contains(paramOrder, name) {
			return nil, fmt.Errorf("%w: %s", errUnknownParameter, name)
		}
	}
	for _, name := range paramOrder {
		v, ok := cmd.Parameters[name]
		if !ok {
			continue
		}
		raw, err := parameterValue(name, v)
		if err != nil {
			return nil, err
		}
		writes = append(writes, write{key: name, address: registers[name].Address, value: raw})
	}
	return writes, nil
}

// channelWrite parses "K<n>" (relay n, coil n-1), "coil:<addr>" or
// "holding:<addr>"
func channelWrite(key string, value int) (write, error) {
	if value < 0 || value > 0xFFFF {
		return write{}, busscan.NewProtocolError(busscan.CodeWrongParam, "value %d out of range for %s", value, key)
	}

	switch {
	case strings.HasPrefix(key, "K"):
		n, err := strconv.Atoi(key[1:])
		if err != nil || n < 1 || n > 0x10000 {
			return write{}, fmt.Errorf("%w: channel %s", errUnknownParameter, key)
		}
		return write{key: key, coil: true, address: uint16(n - 1), value: uint16(value)}, nil
	case strings.HasPrefix(key, "coil:"), strings.HasPrefix(key, "holding:"):
		kind, addr, _ := strings.Cut(key, ":")
		a, err := strconv.ParseUint(addr, 0, 16)
		if err != nil {
			return write{}, fmt.Errorf("%w: channel %s", errUnknownParameter, key)
		}
		return write{key: key, coil: kind == "coil", address: uint16(a), value: uint16(value)}, nil
	default:
		return write{}, fmt.Errorf("%w: channel %s", errUnknownParameter, key)
	}
}

// parameterValue converts a parameter to its raw register value
func parameterValue(name string, v int) (uint16, error) {
	bad := func() (uint16, error) {
		return 0, busscan.NewProtocolError(busscan.CodeWrongParam, "invalid %s %d", name, v)
	}

	switch name {
	case RegBaudRate:
		if !slices.Contains(busscan.SupportedBaudRates, v) {
			return bad()
		}
		return uint16(v / 100), nil
	case RegParity:
		// Accepts the register value or the parity character
		switch v {
		case 0, 1, 2:
			return uint16(v), nil
		case 'N', 'O', 'E':
			return parityToRegister(busscan.ParseParity(byte(v))), nil
		}
		return bad()
	case RegStopBits:
		if v != 1 && v != 2 {
			return bad()
		}
	case RegSlaveID:
		if v < 1 || v > 247 {
			return bad()
		}
	case RegContinuousRead:
		if v != 0 && v != 1 {
			return bad()
		}
	}
	return uint16(v), nil
}

func isModbusException(err error) bool {
	var me *modbus.ModbusError
	return errors.As(err, &me)
}
