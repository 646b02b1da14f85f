package wbmodbus

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/allbin/busscan"
)

// fakeDevice answers fast-scan, SN-addressed and RTU frames like a WB
// device would.
type fakeDevice struct {
	sn       uint32
	slaveID  byte
	baudRate int
	regs     map[uint16]uint16
	coils    map[uint16]bool
	reported bool
}

func newFakeDevice(sn uint32, slaveID byte, baud int, model string) *fakeDevice {
	d := &fakeDevice{
		sn:       sn,
		slaveID:  slaveID,
		baudRate: baud,
		regs:     map[uint16]uint16{},
		coils:    map[uint16]bool{},
	}
	d.regs[110] = uint16(baud / 100)
	d.regs[111] = 0
	d.regs[112] = 2
	d.regs[114] = 1
	d.regs[128] = uint16(slaveID)
	d.setString(200, 20, model)
	d.setString(250, 16, "1.2.3")
	d.setString(290, 12, "sig-"+model)
	d.regs[270] = uint16(sn >> 16)
	d.regs[271] = uint16(sn)
	return d
}

func (d *fakeDevice) setString(addr uint16, count int, s string) {
	for i := 0; i < count; i++ {
		var c uint16
		if i < len(s) {
			c = uint16(s[i])
		}
		d.regs[addr+uint16(i)] = c
	}
}

func (d *fakeDevice) drop(addr uint16, count int) {
	for i := 0; i < count; i++ {
		delete(d.regs, addr+uint16(i))
	}
}

// handle executes a Modbus PDU and returns the response PDU
func (d *fakeDevice) handle(pdu []byte) []byte {
	fc := pdu[0]
	exception := func(code byte) []byte { return []byte{fc | 0x80, code} }

	switch fc {
	case 0x03:
		addr := binary.BigEndian.Uint16(pdu[1:3])
		qty := binary.BigEndian.Uint16(pdu[3:5])
		resp := []byte{fc, byte(qty * 2)}
		for i := uint16(0); i < qty; i++ {
			v, ok := d.regs[addr+i]
			if !ok {
				return exception(0x02)
			}
			resp = binary.BigEndian.AppendUint16(resp, v)
		}
		return resp
	case 0x05:
		addr := binary.BigEndian.Uint16(pdu[1:3])
		d.coils[addr] = binary.BigEndian.Uint16(pdu[3:5]) == 0xFF00
		return append([]byte(nil), pdu[:5]...)
	case 0x06:
		addr := binary.BigEndian.Uint16(pdu[1:3])
		if _, ok := d.regs[addr]; !ok {
			return exception(0x02)
		}
		d.regs[addr] = binary.BigEndian.Uint16(pdu[3:5])
		return append([]byte(nil), pdu[:5]...)
	default:
		return exception(0x01)
	}
}

// fakeBus is a Bus with devices attached. Responses become readable
// after each write; reading past them reports a timeout.
type fakeBus struct {
	mu       sync.Mutex
	devices  []*fakeDevice
	config   busscan.PortConfig
	out      []byte
	writes   [][]byte
	preamble int
}

func (b *fakeBus) Configure(cfg busscan.PortConfig) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg
	return busscan.ReplyTimeout(cfg.BaudRate)
}

func (b *fakeBus) Write(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, append([]byte(nil), data...))
	b.out = b.respond(data)
	return nil
}

func (b *fakeBus) Read(ctx context.Context, count int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.out) < count {
		b.out = nil
		return nil, busscan.ErrReadTimeout
	}
	data := b.out[:count]
	b.out = b.out[count:]
	return data, nil
}

func (b *fakeBus) written() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.writes...)
}

func (b *fakeBus) listening() []*fakeDevice {
	var devs []*fakeDevice
	for _, d := range b.devices {
		if d.baudRate == b.config.BaudRate {
			devs = append(devs, d)
		}
	}
	return devs
}

func (b *fakeBus) withPreamble(frame []byte) []byte {
	out := make([]byte, 0, b.preamble+len(frame))
	for i := 0; i < b.preamble; i++ {
		out = append(out, 0xFF)
	}
	return append(out, frame...)
}

func (b *fakeBus) respond(frame []byte) []byte {
	if !validCRC(frame) {
		return nil
	}
	devs := b.listening()

	if frame[0] != broadcastAddress {
		for _, d := range devs {
			if d.slaveID == frame[0] {
				return appendCRC(append([]byte{d.slaveID}, d.handle(frame[1:len(frame)-2])...))
			}
		}
		return nil
	}

	opcode := frame[1]
	switch frame[2] {
	case subScanStart, subScanNext:
		if frame[2] == subScanStart {
			for _, d := range devs {
				d.reported = false
			}
		}
		if len(devs) == 0 {
			return nil
		}
		for _, d := range devs {
			if !d.reported {
				d.reported = true
				resp := []byte{broadcastAddress, opcode, subScanDevice}
				resp = binary.BigEndian.AppendUint32(resp, d.sn)
				resp = append(resp, d.slaveID)
				return b.withPreamble(appendCRC(resp))
			}
		}
		return b.withPreamble(appendCRC([]byte{broadcastAddress, opcode, subScanEnd}))
	case subSNRequest:
		sn := binary.BigEndian.Uint32(frame[3:7])
		for _, d := range devs {
			if d.sn == sn {
				resp := append([]byte{}, frame[:7]...)
				resp[2] = subSNResponse
				resp = append(resp, d.handle(frame[7:len(frame)-2])...)
				return b.withPreamble(appendCRC(resp))
			}
		}
	}
	return nil
}
