package wbmodbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/allbin/busscan"
)

// Bus is the part of a busscan.Transport the executor drives.
type Bus interface {
	Configure(cfg busscan.PortConfig) time.Duration
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, count int) ([]byte, error)
}

var _ Bus = (*busscan.Transport)(nil)

// Extension protocol framing
const (
	broadcastAddress = 0xFD

	subScanStart  = 0x01
	subScanNext   = 0x02
	subScanDevice = 0x03
	subScanEnd    = 0x04
	subSNRequest  = 0x08
	subSNResponse = 0x09

	// Arbitration bytes a device may send before its reply
	maxPreambleBytes = 32

	crcSize = 2
)

var (
	errBadCRC      = errors.New("crc mismatch")
	errBadFrame    = errors.New("unexpected frame")
	errNoFrameData = errors.New("no frame start before preamble limit")
)

// scanFrame builds a fast-scan request
func scanFrame(opcode byte, mode busscan.ScanMode) ([]byte, error) {
	var sub byte
	switch mode {
	case busscan.ScanStart:
		sub = subScanStart
	case busscan.ScanNext:
		sub = subScanNext
	default:
		return nil, busscan.NewProtocolError(busscan.CodeWrongParam, "unknown scan mode %q", mode)
	}
	return appendCRC([]byte{broadcastAddress, opcode, sub}), nil
}

// scannedDevice is a fast-scan answer: serial number and slave id
type scannedDevice struct {
	SN      uint32
	SlaveID byte
}

// readScanReply reads one fast-scan answer. It returns nil when the bus
// reports the end of the scan.
func readScanReply(ctx context.Context, bus Bus, opcode byte) (*scannedDevice, error) {
	start, err := readFrameStart(ctx, bus)
	if err != nil {
		return nil, err
	}
	head, err := bus.Read(ctx, 2)
	if err != nil {
		return nil, err
	}
	frame := append([]byte{start}, head...)
	if frame[0] != broadcastAddress || frame[1] != opcode {
		return nil, fmt.Errorf("%w: % X", errBadFrame, frame)
	}

	switch frame[2] {
	case subScanEnd:
		tail, err := bus.Read(ctx, crcSize)
		if err != nil {
			return nil, err
		}
		frame = append(frame, tail...)
		if !validCRC(frame) {
			return nil, errBadCRC
		}
		return nil, nil
	case subScanDevice:
		tail, err := bus.Read(ctx, 4+1+crcSize)
		if err != nil {
			return nil, err
		}
		frame = append(frame, tail...)
		if !validCRC(frame) {
			return nil, errBadCRC
		}
		return &scannedDevice{
			SN:      binary.BigEndian.Uint32(frame[3:7]),
			SlaveID: frame[7],
		}, nil
	default:
		return nil, fmt.Errorf("%w: sub command %#x", errBadFrame, frame[2])
	}
}

// readFrameStart skips the 0xFF arbitration preamble and returns the
// first frame byte
func readFrameStart(ctx context.Context, bus Bus) (byte, error) {
	for i := 0; i <= maxPreambleBytes; i++ {
		b, err := bus.Read(ctx, 1)
		if err != nil {
			return 0, err
		}
		if b[0] != 0xFF {
			return b[0], nil
		}
	}
	return 0, errNoFrameData
}

// readPDUFrame reads the rest of a response whose first prefix bytes
// address the device and are followed by a Modbus PDU and CRC.
func readPDUFrame(ctx context.Context, bus Bus, frame []byte, prefix int) ([]byte, error) {
	if need := prefix + 1 - len(frame); need > 0 {
		head, err := bus.Read(ctx, need)
		if err != nil {
			return nil, err
		}
		frame = append(frame, head...)
	}

	fc := frame[prefix]
	var remaining int
	switch {
	case fc&0x80 != 0:
		remaining = 1 + crcSize
	case fc >= 0x01 && fc <= 0x04:
		count, err := bus.Read(ctx, 1)
		if err != nil {
			return nil, err
		}
		frame = append(frame, count...)
		remaining = int(count[0]) + crcSize
	case fc == 0x05, fc == 0x06, fc == 0x0F, fc == 0x10:
		remaining = 4 + crcSize
	default:
		return nil, fmt.Errorf("%w: function code %#x", errBadFrame, fc)
	}

	tail, err := bus.Read(ctx, remaining)
	if err != nil {
		return nil, err
	}
	return append(frame, tail...), nil
}
