package busscan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the open/closed state of a Transport
type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Transport owns a single serial channel and provides timeout-bounded
// reads and writes on it.
//
// Only one operation runs at a time; concurrent callers are serialized
// in call order. A read either fills the requested number of bytes or
// fails with ErrReadTimeout, never returning a short buffer.
type Transport struct {
	mu sync.Mutex

	host   Host
	handle Handle
	ch     Channel

	config       PortConfig
	replyTimeout time.Duration
	// dirty is set when Configure changes parameters of an open channel
	dirty bool

	logger *zap.Logger
}

// NewTransport creates a closed transport that obtains its port from host.
func NewTransport(host Host, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := DefaultPortConfig()
	return &Transport{
		host:         host,
		config:       cfg,
		replyTimeout: ReplyTimeout(cfg.BaudRate),
		logger:       logger.With(zap.String("component", "transport")),
	}
}

// Configure sets the line parameters used by the next open and returns
// the reply timeout derived from the baud rate. An open channel is
// re-opened with the new parameters on the next write.
func (t *Transport) Configure(cfg PortConfig) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch != nil && cfg != t.config {
		t.dirty = true
	}
	t.config = cfg
	t.replyTimeout = ReplyTimeout(cfg.BaudRate)

	t.logger.Debug("Port configured",
		zap.Stringer("config", cfg),
		zap.Duration("reply_timeout", t.replyTimeout),
	)
	return t.replyTimeout
}

// Config returns the current line parameters.
func (t *Transport) Config() PortConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config
}

// ReplyTimeout returns the deadline applied to each Read.
func (t *Transport) ReplyTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replyTimeout
}

// State reports whether a channel is currently open.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch != nil {
		return StateOpen
	}
	return StateClosed
}

// Path returns the path of the selected port, or "" when none is selected.
func (t *Transport) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle == nil {
		return ""
	}
	return t.handle.Path()
}

// SelectChannel obtains a port handle from the host. With force unset an
// existing handle is kept.
func (t *Transport) SelectChannel(ctx context.Context, force bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selectLocked(ctx, force)
}

func (t *Transport) selectLocked(ctx context.Context, force bool) error {
	if t.handle != nil && !force {
		return nil
	}
	if t.host == nil {
		return ErrNoChannel
	}

	handle, err := t.host.Request(ctx)
	if err != nil {
		t.logger.Error("Can't select serial port", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrNoChannel, err)
	}

	if t.ch != nil && t.handle != nil && handle.Path() != t.handle.Path() {
		t.closeLocked()
	}
	t.handle = handle
	t.logger.Info("Serial port selected", zap.String("port", handle.Path()))
	return nil
}

// Open opens the channel with the configured parameters, closing it
// first if it is already open. On failure the handle is released and the
// transport stays closed.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openLocked(ctx)
}

func (t *Transport) openLocked(ctx context.Context) error {
	if t.ch != nil {
		t.closeLocked()
	}

	if err := t.selectLocked(ctx, false); err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}

	ch, err := t.handle.Open(t.config)
	if err != nil {
		t.logger.Error("Can't open serial port",
			zap.String("port", t.handle.Path()),
			zap.Stringer("config", t.config),
			zap.Error(err),
		)
		t.handle = nil
		return fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}

	t.ch = ch
	t.dirty = false
	t.logger.Debug("Serial port opened",
		zap.String("port", t.handle.Path()),
		zap.Stringer("config", t.config),
	)
	return nil
}

// Close releases the channel. Closing a closed transport is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *Transport) closeLocked() error {
	if t.ch == nil {
		return nil
	}

	err := t.ch.Close()
	t.ch = nil
	t.dirty = false
	if errors.Is(err, ErrPortClosed) {
		err = nil
	}
	if err != nil {
		t.logger.Warn("Error closing serial port", zap.Error(err))
	}
	return err
}

// Write transmits data, opening the channel first when it is closed or
// has pending parameter changes. Input still buffered from an earlier
// exchange is discarded before sending.
func (t *Transport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch == nil || t.dirty {
		// Failure is already logged; callers see ErrChannelUnavailable below
		_ = t.openLocked(ctx)
	}

	if t.ch == nil {
		t.logger.Error("Serial port is not open or not writable")
		return ErrChannelUnavailable
	}

	if err := t.ch.FlushInput(); err != nil {
		t.logger.Debug("Input flush failed", zap.Error(err))
	}

	n, err := t.ch.WriteContext(ctx, data)
	if err != nil {
		t.logger.Error("Serial write failed",
			zap.Int("bytes_written", n),
			zap.Int("bytes_to_write", len(data)),
			zap.Error(err),
		)
		return fmt.Errorf("serial write: %w", err)
	}

	t.logger.Debug(">>>", zap.String("data", hexDump(data)))
	return nil
}

// Read collects exactly count bytes, bounded by the reply timeout.
// If the deadline passes first the receive is cancelled and
// ErrReadTimeout is returned with no data; bytes that arrive later stay
// in the channel.
func (t *Transport) Read(ctx context.Context, count int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch == nil {
		t.logger.Error("Serial port is not open or not readable")
		return nil, ErrChannelUnavailable
	}
	if count <= 0 {
		return []byte{}, nil
	}

	rctx, cancel := context.WithTimeoutCause(ctx, t.replyTimeout, ErrReadTimeout)
	defer cancel()

	buf := make([]byte, count)
	got := 0
	for got < count {
		n, err := t.ch.ReadContext(rctx, buf[got:])
		if n > 0 {
			got += n
		}
		if err == nil {
			continue
		}

		if cause := context.Cause(rctx); cause != nil {
			if errors.Is(cause, ErrReadTimeout) && ctx.Err() == nil {
				t.logger.Debug("Read timed out",
					zap.Int("expected", count),
					zap.Int("received", got),
					zap.Duration("timeout", t.replyTimeout),
				)
				return nil, fmt.Errorf("%w: received %d of %d bytes", ErrReadTimeout, got, count)
			}
			return nil, ctx.Err()
		}

		t.logger.Error("Serial read failed", zap.Error(err))
		return nil, fmt.Errorf("serial read: %w", err)
	}

	t.logger.Debug("<<<", zap.String("data", hexDump(buf)))
	return buf, nil
}

// hexDump formats bytes as space separated upper-case hex
func hexDump(data []byte) string {
	return fmt.Sprintf("% X", data)
}
