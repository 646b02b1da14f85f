package busscan

import (
	"errors"
	"fmt"
)

// Predefined error types for robust error handling
var (
	ErrDeviceNotFound   = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrDeviceInUse      = errors.New("serial device already in use")
	ErrInvalidBaudRate  = errors.New("invalid baud rate")
	ErrInvalidConfig    = errors.New("invalid serial configuration")
	ErrPortClosed       = errors.New("serial port is closed")

	// Transport errors
	ErrNoChannel          = errors.New("no serial channel selected")
	ErrChannelUnavailable = errors.New("serial channel is not open")
	ErrOpenFailure        = errors.New("failed to open serial channel")
	ErrReadTimeout        = errors.New("read operation timed out")

	// Correlation and decoding errors
	ErrRequestPending  = errors.New("another request is still pending")
	ErrUnknownRequest  = errors.New("reply for unknown request")
	ErrMalformedReply  = errors.New("malformed reply envelope")
	ErrUnknownCommand  = errors.New("unknown command kind")
	ErrExecutorStopped = errors.New("command executor stopped")
)

// Result codes carried by ProtocolError. Positive codes are Modbus
// exception codes reported by the addressed device.
const (
	CodeWrongParam = -1
	CodeWrongPort  = -2
	CodePortIO     = -3
	CodeTimeout    = -4
)

// ProtocolError is an error reported inside a reply envelope.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// NewProtocolError builds a ProtocolError with a formatted message.
func NewProtocolError(code int, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}
