package busscan

import (
	"context"
	"errors"
	"sync"
)

// pipeChannel is an in-memory Channel. Bytes fed with feed become
// readable in chunks; writes are recorded.
type pipeChannel struct {
	mu       sync.Mutex
	incoming chan []byte
	pending  []byte
	writes   [][]byte
	flushes  int
	closed   bool
	writeErr error
}

func newPipeChannel() *pipeChannel {
	return &pipeChannel{incoming: make(chan []byte, 64)}
}

func (p *pipeChannel) feed(data []byte) {
	p.incoming <- data
}

func (p *pipeChannel) ReadContext(ctx context.Context, buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(buf, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case data := <-p.incoming:
		p.mu.Lock()
		defer p.mu.Unlock()
		// Leave the bytes in place for the next reader if we lost the race
		if err := ctx.Err(); err != nil {
			p.pending = append(p.pending, data...)
			return 0, err
		}
		n := copy(buf, data)
		p.pending = append(p.pending, data[n:]...)
		return n, nil
	}
}

func (p *pipeChannel) WriteContext(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), data...))
	return len(data), nil
}

func (p *pipeChannel) FlushInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

func (p *pipeChannel) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	p.closed = true
	return nil
}

func (p *pipeChannel) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

// fakeHandle hands out the same pipeChannel on every open
type fakeHandle struct {
	mu      sync.Mutex
	path    string
	ch      *pipeChannel
	openErr error
	opens   []PortConfig
}

func (h *fakeHandle) Path() string { return h.path }

func (h *fakeHandle) Open(cfg PortConfig) (Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.opens = append(h.opens, cfg)
	h.ch.mu.Lock()
	h.ch.closed = false
	h.ch.mu.Unlock()
	return h.ch, nil
}

func (h *fakeHandle) openCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.opens)
}

type fakeHost struct {
	handle   *fakeHandle
	err      error
	requests int
}

func (f *fakeHost) Request(ctx context.Context) (Handle, error) {
	f.requests++
	if f.err != nil {
		return nil, f.err
	}
	return f.handle, nil
}

func newFakeTransport() (*Transport, *fakeHost, *pipeChannel) {
	ch := newPipeChannel()
	host := &fakeHost{handle: &fakeHandle{path: "/dev/ttyFAKE0", ch: ch}}
	return NewTransport(host, nil), host, ch
}

var errFakeOpen = errors.New("fake open failure")
