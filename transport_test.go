package busscan

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestTransportConfigureTimeout(t *testing.T) {
	tests := []struct {
		baud int
		want time.Duration
	}{
		{1200, time.Second},
		{4799, time.Second},
		{4800, 500 * time.Millisecond},
		{38399, 500 * time.Millisecond},
		{38400, 250 * time.Millisecond},
		{115200, 250 * time.Millisecond},
	}

	tr, _, _ := newFakeTransport()
	for _, tt := range tests {
		cfg := DefaultPortConfig()
		cfg.BaudRate = tt.baud
		if got := tr.Configure(cfg); got != tt.want {
			t.Errorf("Configure(%d) = %v, want %v", tt.baud, got, tt.want)
		}
		if got := tr.ReplyTimeout(); got != tt.want {
			t.Errorf("ReplyTimeout after %d = %v, want %v", tt.baud, got, tt.want)
		}
	}
}

func TestTransportSelectChannel(t *testing.T) {
	tr, host, _ := newFakeTransport()
	ctx := context.Background()

	if err := tr.SelectChannel(ctx, false); err != nil {
		t.Fatalf("SelectChannel failed: %v", err)
	}
	if err := tr.SelectChannel(ctx, false); err != nil {
		t.Fatalf("SelectChannel failed: %v", err)
	}
	if host.requests != 1 {
		t.Errorf("Expected 1 host request without force, got %d", host.requests)
	}

	if err := tr.SelectChannel(ctx, true); err != nil {
		t.Fatalf("SelectChannel(force) failed: %v", err)
	}
	if host.requests != 2 {
		t.Errorf("Expected forced request, got %d requests", host.requests)
	}
	if tr.Path() != "/dev/ttyFAKE0" {
		t.Errorf("Path = %q", tr.Path())
	}
}

func TestTransportSelectChannelHostError(t *testing.T) {
	tr, host, _ := newFakeTransport()
	host.err = ErrDeviceNotFound

	err := tr.SelectChannel(context.Background(), false)
	if !errors.Is(err, ErrNoChannel) || !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrNoChannel wrapping ErrDeviceNotFound, got %v", err)
	}
}

func TestTransportOpenClose(t *testing.T) {
	tr, host, ch := newFakeTransport()
	ctx := context.Background()

	if tr.State() != StateClosed {
		t.Fatalf("New transport should be closed")
	}
	if err := tr.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if tr.State() != StateOpen {
		t.Errorf("State = %v, want open", tr.State())
	}

	// Opening again closes the previous channel first
	if err := tr.Open(ctx); err != nil {
		t.Fatalf("Second open failed: %v", err)
	}
	if host.handle.openCount() != 2 {
		t.Errorf("Expected 2 opens, got %d", host.handle.openCount())
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !ch.closed {
		t.Error("Channel was not closed")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
	if tr.State() != StateClosed {
		t.Errorf("State = %v, want closed", tr.State())
	}
}

func TestTransportOpenFailureReleasesHandle(t *testing.T) {
	tr, host, _ := newFakeTransport()
	host.handle.openErr = errFakeOpen

	err := tr.Open(context.Background())
	if !errors.Is(err, ErrOpenFailure) {
		t.Fatalf("Expected ErrOpenFailure, got %v", err)
	}
	if tr.State() != StateClosed {
		t.Error("Transport should stay closed after failed open")
	}
	if tr.Path() != "" {
		t.Errorf("Handle should be released, path = %q", tr.Path())
	}

	// Write observes "not open" rather than the open error
	err = tr.Write(context.Background(), []byte{0x01})
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("Expected ErrChannelUnavailable, got %v", err)
	}
	if host.requests != 2 {
		t.Errorf("Write should request a fresh handle, got %d requests", host.requests)
	}
}

func TestTransportWriteOpensImplicitly(t *testing.T) {
	tr, host, ch := newFakeTransport()

	data := []byte{0xFD, 0x60, 0x01}
	if err := tr.Write(context.Background(), data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if tr.State() != StateOpen {
		t.Error("Write should leave the transport open")
	}
	writes := ch.written()
	if len(writes) != 1 || !bytes.Equal(writes[0], data) {
		t.Errorf("Unexpected writes: %v", writes)
	}
	if ch.flushes != 1 {
		t.Errorf("Expected input flush before write, got %d", ch.flushes)
	}
	if host.handle.openCount() != 1 {
		t.Errorf("Expected a single open, got %d", host.handle.openCount())
	}
}

func TestTransportWriteReopensAfterConfigure(t *testing.T) {
	tr, host, _ := newFakeTransport()
	ctx := context.Background()

	if err := tr.Write(ctx, []byte{0x01}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	cfg := DefaultPortConfig()
	tr.Configure(cfg)
	if err := tr.Write(ctx, []byte{0x02}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if host.handle.openCount() != 1 {
		t.Errorf("Unchanged config should not reopen, got %d opens", host.handle.openCount())
	}

	cfg.BaudRate = 19200
	tr.Configure(cfg)
	if err := tr.Write(ctx, []byte{0x03}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	opens := host.handle.opens
	if len(opens) != 2 {
		t.Fatalf("Expected reopen after reconfigure, got %d opens", len(opens))
	}
	if opens[1].BaudRate != 19200 {
		t.Errorf("Reopened at %d, want 19200", opens[1].BaudRate)
	}
}

func TestTransportReadRequiresOpen(t *testing.T) {
	tr, host, _ := newFakeTransport()

	_, err := tr.Read(context.Background(), 4)
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("Expected ErrChannelUnavailable, got %v", err)
	}
	if host.requests != 0 {
		t.Error("Read must not open implicitly")
	}
}

func TestTransportReadAccumulates(t *testing.T) {
	tr, _, ch := newFakeTransport()
	ctx := context.Background()
	if err := tr.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ch.feed([]byte{0x03})
	ch.feed([]byte{0x00, 0x12})
	ch.feed([]byte{0x34, 0x56, 0x07, 0xAA})

	got, err := tr.Read(ctx, 6)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []byte{0x03, 0x00, 0x12, 0x34, 0x56, 0x07}
	if !bytes.Equal(got, want) {
		t.Errorf("Read = % X, want % X", got, want)
	}

	// The surplus byte is kept for the next read
	rest, err := tr.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rest[0] != 0xAA {
		t.Errorf("Read = % X, want AA", rest)
	}
}

func TestTransportReadTimeout(t *testing.T) {
	tr, _, ch := newFakeTransport()
	ctx := context.Background()
	cfg := DefaultPortConfig()
	cfg.BaudRate = 115200
	tr.Configure(cfg)
	if err := tr.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ch.feed([]byte{0x01, 0x02})

	start := time.Now()
	got, err := tr.Read(ctx, 4)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("Expected ErrReadTimeout, got %v", err)
	}
	if got != nil {
		t.Errorf("Timed out read must not return data, got % X", got)
	}
	if elapsed < FastReplyTimeout {
		t.Errorf("Read returned after %v, before the %v deadline", elapsed, FastReplyTimeout)
	}

	// A late byte is not lost to the abandoned read
	ch.feed([]byte{0x7F})
	late, err := tr.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read after timeout failed: %v", err)
	}
	if late[0] != 0x7F {
		t.Errorf("Read = % X, want 7F", late)
	}
}

func TestTransportReadParentCancel(t *testing.T) {
	tr, _, _ := newFakeTransport()
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := tr.Read(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrReadTimeout) {
		t.Error("Caller cancellation must not be reported as a timeout")
	}
}

func TestTransportReadZero(t *testing.T) {
	tr, _, _ := newFakeTransport()
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, err := tr.Read(context.Background(), 0)
	if err != nil || len(got) != 0 {
		t.Errorf("Read(0) = % X, %v", got, err)
	}
}
