//go:build linux

package busscan

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestGetBaudRate(t *testing.T) {
	tests := []struct {
		rate     int
		expected uint32
		hasError bool
	}{
		{1200, unix.B1200, false},
		{9600, unix.B9600, false},
		{38400, unix.B38400, false},
		{115200, unix.B115200, false},
		{230400, unix.B230400, false},
		{12345, 0, true},
		{0, 0, true},
	}

	for _, test := range tests {
		result, err := getBaudRate(test.rate)
		if test.hasError {
			if err == nil {
				t.Errorf("Expected error for baud rate %d", test.rate)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unexpected error for baud rate %d: %v", test.rate, err)
		}
		if result != test.expected {
			t.Errorf("Expected %d for baud rate %d, got %d", test.expected, test.rate, result)
		}
	}
}

func TestGetBaudRateCoversSupportedRates(t *testing.T) {
	for _, rate := range SupportedBaudRates {
		if _, err := getBaudRate(rate); err != nil {
			t.Errorf("Supported rate %d has no termios constant", rate)
		}
	}
}

func TestOpenNonexistentPort(t *testing.T) {
	_, err := openNative("/dev/nonexistent", DefaultPortConfig())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}

	_, err = bugstHandle{path: "/dev/nonexistent"}.Open(DefaultPortConfig())
	if err == nil {
		t.Error("Expected error opening nonexistent port")
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := DefaultPortConfig()
	cfg.BaudRate = 12345

	_, err := openNative("/dev/nonexistent", cfg)
	if !errors.Is(err, ErrInvalidBaudRate) {
		t.Errorf("Expected ErrInvalidBaudRate, got %v", err)
	}
}

func TestNewHandleBackend(t *testing.T) {
	if _, ok := NewHandle("/dev/ttyS0", BackendBugst).(bugstHandle); !ok {
		t.Error("Expected bugst handle")
	}
	if _, ok := NewHandle("/dev/ttyS0", BackendNative).(nativeHandle); !ok {
		t.Error("Expected native handle")
	}
	if h := NewHandle("/dev/ttyS0", ""); h.Path() != "/dev/ttyS0" {
		t.Errorf("Path = %q", h.Path())
	}
}

// openPTYMaster returns the master fd of a new pseudo terminal and the
// path of its slave side.
func openPTYMaster(t *testing.T) (int, string) {
	t.Helper()

	master, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		t.Skipf("No pty support: %v", err)
	}
	t.Cleanup(func() { unix.Close(master) })

	if err := unix.IoctlSetPointerInt(master, unix.TIOCSPTLCK, 0); err != nil {
		t.Skipf("Can't unlock pty: %v", err)
	}
	n, err := unix.IoctlGetInt(master, unix.TIOCGPTN)
	if err != nil {
		t.Skipf("Can't get pty number: %v", err)
	}
	return master, "/dev/pts/" + strconv.Itoa(n)
}

// openPTY returns a native port on the slave side of a pseudo terminal
// and the master fd feeding it.
func openPTY(t *testing.T) (*port, int) {
	t.Helper()

	master, slave := openPTYMaster(t)
	p, err := openNative(slave, DefaultPortConfig())
	if err != nil {
		t.Skipf("Can't open pty slave: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, master
}

// openBugstPTY is openPTY for the go.bug.st backend.
func openBugstPTY(t *testing.T) (Channel, int) {
	t.Helper()

	master, slave := openPTYMaster(t)
	ch, err := bugstHandle{path: slave}.Open(DefaultPortConfig())
	if err != nil {
		t.Skipf("Can't open pty slave: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch, master
}

func TestNativeReadContextCancel(t *testing.T) {
	p, _ := openPTY(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	buf := make([]byte, 4)
	start := time.Now()
	n, err := p.ReadContext(ctx, buf)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got n=%d err=%v", n, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ReadContext took %v to notice cancellation", elapsed)
	}
}

func TestNativeReadContextData(t *testing.T) {
	p, master := openPTY(t)

	if _, err := unix.Write(master, []byte{0x03, 0x04}); err != nil {
		t.Fatalf("Write to pty master failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	buf := make([]byte, 2)
	got := 0
	for got < len(buf) {
		n, err := p.ReadContext(ctx, buf[got:])
		if err != nil {
			t.Fatalf("ReadContext failed: %v", err)
		}
		got += n
	}
	if buf[0] != 0x03 || buf[1] != 0x04 {
		t.Errorf("Read % X, want 03 04", buf)
	}
}

func TestNativeCloseTwice(t *testing.T) {
	p, _ := openPTY(t)

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Close(); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Expected ErrPortClosed, got %v", err)
	}
	if _, err := p.ReadContext(context.Background(), make([]byte, 1)); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Expected ErrPortClosed on read, got %v", err)
	}
}

func TestBugstReadContextCancel(t *testing.T) {
	ch, _ := openBugstPTY(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	buf := make([]byte, 4)
	start := time.Now()
	n, err := ch.ReadContext(ctx, buf)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got n=%d err=%v", n, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ReadContext took %v to notice cancellation", elapsed)
	}
}

func TestBugstReadContextKeepsLateBytes(t *testing.T) {
	ch, master := openBugstPTY(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(8 * time.Millisecond)
		unix.Write(master, []byte{0x7F})
	}()

	buf := make([]byte, 4)
	n, err := ch.ReadContext(ctx, buf)
	if !errors.Is(err, context.DeadlineExceeded) || n != 0 {
		t.Fatalf("Expected 0 bytes and context.DeadlineExceeded, got n=%d err=%v", n, err)
	}

	next, cancelNext := context.WithTimeout(context.Background(), time.Second)
	defer cancelNext()

	n, err = ch.ReadContext(next, buf)
	if err != nil {
		t.Fatalf("ReadContext failed: %v", err)
	}
	if n != 1 || buf[0] != 0x7F {
		t.Errorf("Read % X, want 7F", buf[:n])
	}
}

func TestBugstFlushInputDropsLateBytes(t *testing.T) {
	ch, master := openBugstPTY(t)
	bp := ch.(*bugstPort)

	bp.pendMu.Lock()
	bp.pending = []byte{0x01, 0x02}
	bp.pendMu.Unlock()

	if err := ch.FlushInput(); err != nil {
		t.Fatalf("FlushInput failed: %v", err)
	}
	if _, err := unix.Write(master, []byte{0x03}); err != nil {
		t.Fatalf("Write to pty master failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	buf := make([]byte, 4)
	n, err := ch.ReadContext(ctx, buf)
	if err != nil {
		t.Fatalf("ReadContext failed: %v", err)
	}
	if n != 1 || buf[0] != 0x03 {
		t.Errorf("Read % X, want 03", buf[:n])
	}
}
