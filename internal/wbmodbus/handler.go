package wbmodbus

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/goburrow/modbus"
)

// rtuHandler reuses the goburrow RTU packager for slave-addressed
// requests but sends them through the Bus instead of its own port.
type rtuHandler struct {
	*modbus.RTUClientHandler

	ctx context.Context
	bus Bus
}

func newRTUClient(ctx context.Context, bus Bus, slaveID byte) modbus.Client {
	h := &rtuHandler{
		RTUClientHandler: modbus.NewRTUClientHandler(""),
		ctx:              ctx,
		bus:              bus,
	}
	h.SlaveId = slaveID
	return modbus.NewClient(h)
}

func (h *rtuHandler) Send(adu []byte) ([]byte, error) {
	if err := h.bus.Write(h.ctx, adu); err != nil {
		return nil, err
	}
	return readPDUFrame(h.ctx, h.bus, nil, 1)
}

// snHandler addresses a device by serial number through the extension
// protocol: FD <cmd> 08 <sn:4> <pdu> <crc>, answered with sub command 09.
type snHandler struct {
	ctx    context.Context
	bus    Bus
	opcode byte
	sn     uint32
}

// snPrefix is broadcast address, command, sub command and serial number
const snPrefix = 7

func newSNClient(ctx context.Context, bus Bus, opcode byte, sn uint32) modbus.Client {
	return modbus.NewClient(&snHandler{ctx: ctx, bus: bus, opcode: opcode, sn: sn})
}

func (h *snHandler) Encode(pdu *modbus.ProtocolDataUnit) ([]byte, error) {
	adu := make([]byte, 0, snPrefix+1+len(pdu.Data)+crcSize)
	adu = append(adu, broadcastAddress, h.opcode, subSNRequest)
	adu = binary.BigEndian.AppendUint32(adu, h.sn)
	adu = append(adu, pdu.FunctionCode)
	adu = append(adu, pdu.Data...)
	return appendCRC(adu), nil
}

func (h *snHandler) Decode(adu []byte) (*modbus.ProtocolDataUnit, error) {
	if len(adu) < snPrefix+1+crcSize {
		return nil, fmt.Errorf("%w: response too short (%d bytes)", errBadFrame, len(adu))
	}
	if !validCRC(adu) {
		return nil, errBadCRC
	}
	return &modbus.ProtocolDataUnit{
		FunctionCode: adu[snPrefix],
		Data:         adu[snPrefix+1 : len(adu)-crcSize],
	}, nil
}

func (h *snHandler) Verify(aduRequest []byte, aduResponse []byte) error {
	if len(aduResponse) < snPrefix+1+crcSize {
		return fmt.Errorf("%w: response too short (%d bytes)", errBadFrame, len(aduResponse))
	}
	if aduResponse[0] != broadcastAddress || aduResponse[1] != h.opcode || aduResponse[2] != subSNResponse {
		return fmt.Errorf("%w: header % X", errBadFrame, aduResponse[:3])
	}
	if sn := binary.BigEndian.Uint32(aduResponse[3:7]); sn != h.sn {
		return fmt.Errorf("%w: answer from sn %d, want %d", errBadFrame, sn, h.sn)
	}
	return nil
}

func (h *snHandler) Send(adu []byte) ([]byte, error) {
	if err := h.bus.Write(h.ctx, adu); err != nil {
		return nil, err
	}
	start, err := readFrameStart(h.ctx, h.bus)
	if err != nil {
		return nil, err
	}
	return readPDUFrame(h.ctx, h.bus, []byte{start}, snPrefix)
}
