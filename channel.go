package busscan

import "context"

// Channel is an open serial line handed out by a Handle.
//
// ReadContext must stop consuming bytes as soon as ctx is done: a byte
// that arrives after cancellation stays in the line for the next reader
// instead of being dropped into a buffer nobody owns anymore.
type Channel interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
	WriteContext(ctx context.Context, data []byte) (int, error)
	FlushInput() error
	Close() error
}

// Handle is a serial port obtained from the host environment. A handle
// can be opened and closed repeatedly with different line parameters.
type Handle interface {
	Path() string
	Open(cfg PortConfig) (Channel, error)
}

// Host hands out port handles, e.g. by configured path or by scanning
// the system for matching adapters.
type Host interface {
	Request(ctx context.Context) (Handle, error)
}

// Backend selects the implementation used to open a port path.
type Backend string

const (
	BackendNative Backend = "native" // termios via golang.org/x/sys
	BackendBugst  Backend = "bugst"  // go.bug.st/serial
)

// NewHandle returns a handle for path using the given backend.
func NewHandle(path string, backend Backend) Handle {
	if backend == BackendBugst {
		return bugstHandle{path: path}
	}
	return nativeHandle{path: path}
}
