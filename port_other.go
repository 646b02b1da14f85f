//go:build !linux

package busscan

import "fmt"

type nativeHandle struct {
	path string
}

func (h nativeHandle) Path() string { return h.path }

func (h nativeHandle) Open(cfg PortConfig) (Channel, error) {
	return nil, fmt.Errorf("%w: native backend requires linux, use the bugst backend", ErrInvalidConfig)
}
