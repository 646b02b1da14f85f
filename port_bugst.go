package busscan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// bugstPort adapts a go.bug.st/serial port to Channel. Reads use a short
// driver timeout and re-check the context between slices. Bytes the driver
// hands over after ctx is done are held in pending for the next reader.
type bugstPort struct {
	mu     sync.RWMutex
	port   serial.Port
	closed bool

	pendMu  sync.Mutex
	pending []byte
}

var _ Channel = (*bugstPort)(nil)

type bugstHandle struct {
	path string
}

func (h bugstHandle) Path() string { return h.path }

func (h bugstHandle) Open(cfg PortConfig) (Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: serial.OneStopBit,
	}
	if cfg.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch cfg.Parity {
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	p, err := serial.Open(h.path, mode)
	if err != nil {
		return nil, mapBugstError(h.path, err)
	}

	if err := p.SetReadTimeout(pollInterval); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &bugstPort{port: p}, nil
}

func mapBugstError(path string, err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	switch portErr.Code() {
	case serial.PortNotFound:
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	case serial.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	case serial.PortBusy:
		return fmt.Errorf("%w: %s", ErrDeviceInUse, path)
	case serial.InvalidSpeed:
		return fmt.Errorf("%w: %s", ErrInvalidBaudRate, path)
	default:
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
}

func (b *bugstPort) ReadContext(ctx context.Context, buf []byte) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrPortClosed
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if n := b.takePending(buf); n > 0 {
			return n, nil
		}
		n, err := b.port.Read(buf)
		if err != nil {
			return n, err
		}
		if n > 0 {
			// Lost the race with cancellation
			if err := ctx.Err(); err != nil {
				b.pendMu.Lock()
				b.pending = append(b.pending, buf[:n]...)
				b.pendMu.Unlock()
				return 0, err
			}
			return n, nil
		}
	}
}

func (b *bugstPort) takePending(buf []byte) int {
	b.pendMu.Lock()
	defer b.pendMu.Unlock()

	n := copy(buf, b.pending)
	b.pending = b.pending[n:]
	return n
}

func (b *bugstPort) WriteContext(ctx context.Context, data []byte) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrPortClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n, err := b.port.Write(data)
	if err != nil {
		return n, err
	}
	return n, b.port.Drain()
}

func (b *bugstPort) FlushInput() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrPortClosed
	}
	b.pendMu.Lock()
	b.pending = nil
	b.pendMu.Unlock()
	return b.port.ResetInputBuffer()
}

func (b *bugstPort) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrPortClosed
	}
	b.closed = true
	return b.port.Close()
}
