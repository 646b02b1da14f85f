// Package wbmodbus executes busscan commands against Wiren Board style
// Modbus devices: fast bus scan, serial-number addressed detail reads and
// slave-addressed configuration reads and writes.
package wbmodbus

import (
	"context"
	"errors"
	"sync"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/allbin/busscan"
)

type job struct {
	ctx  context.Context
	req  busscan.RequestEnvelope
	sink busscan.ReplySink
}

// Executor runs requests one at a time on a worker goroutine and
// delivers a reply envelope for every accepted request.
type Executor struct {
	bus    Bus
	logger *zap.Logger

	jobs     chan job
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ busscan.Executor = (*Executor)(nil)

// New starts an executor on bus. Close stops it.
func New(bus Bus, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		bus:    bus,
		logger: logger.With(zap.String("component", "executor")),
		jobs:   make(chan job),
		stop:   make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Submit hands req to the worker. It blocks until the worker accepts the
// request, ctx is done, or the executor is closed.
func (e *Executor) Submit(ctx context.Context, req busscan.RequestEnvelope, sink busscan.ReplySink) error {
	select {
	case <-e.stop:
		return busscan.ErrExecutorStopped
	default:
	}

	select {
	case e.jobs <- job{ctx: ctx, req: req, sink: sink}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stop:
		return busscan.ErrExecutorStopped
	}
}

// Close stops the worker after the request in progress, if any.
func (e *Executor) Close() error {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
	return nil
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case j := <-e.jobs:
			raw := e.execute(j.ctx, j.req)
			if err := j.sink.Deliver(j.req.ID, raw); err != nil {
				e.logger.Warn("Reply not delivered", zap.String("request_id", j.req.ID), zap.Error(err))
			}
		}
	}
}

// execute runs one request and encodes its reply envelope
func (e *Executor) execute(ctx context.Context, req busscan.RequestEnvelope) []byte {
	log := e.logger.With(zap.String("request_id", req.ID), zap.String("kind", string(req.Kind)))

	cmd, err := req.Command()
	if err != nil {
		log.Error("Bad request", zap.Error(err))
		return busscan.EncodeError(busscan.NewProtocolError(busscan.CodeWrongParam, "%v", err))
	}
	if err := cmd.Line().Validate(); err != nil {
		log.Error("Bad port settings", zap.Error(err))
		return busscan.EncodeError(busscan.NewProtocolError(busscan.CodeWrongParam, "%v", err))
	}

	e.bus.Configure(cmd.Line())

	var value any
	switch c := cmd.(type) {
	case busscan.ScanCommand:
		value, err = e.scan(ctx, c)
	case busscan.LoadConfigCommand:
		value, err = e.loadConfig(ctx, c)
	case busscan.SetConfigCommand:
		value, err = e.setConfig(ctx, c)
	}
	if err != nil {
		pe := toProtocolError(err)
		log.Warn("Request failed", zap.Int("code", pe.Code), zap.String("message", pe.Message))
		return busscan.EncodeError(pe)
	}

	raw, err := busscan.EncodeValue(value)
	if err != nil {
		log.Error("Can't encode reply", zap.Error(err))
		return busscan.EncodeError(busscan.NewProtocolError(busscan.CodePortIO, "encoding reply: %v", err))
	}
	return raw
}

// toProtocolError maps executor failures onto reply error codes
func toProtocolError(err error) *busscan.ProtocolError {
	var pe *busscan.ProtocolError
	if errors.As(err, &pe) {
		return pe
	}

	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return &busscan.ProtocolError{Code: int(me.ExceptionCode), Message: err.Error()}
	}

	code := busscan.CodePortIO
	switch {
	case errors.Is(err, busscan.ErrReadTimeout),
		errors.Is(err, context.DeadlineExceeded):
		code = busscan.CodeTimeout
	case errors.Is(err, busscan.ErrChannelUnavailable),
		errors.Is(err, busscan.ErrOpenFailure),
		errors.Is(err, busscan.ErrNoChannel):
		code = busscan.CodeWrongPort
	case errors.Is(err, busscan.ErrInvalidConfig),
		errors.Is(err, busscan.ErrInvalidBaudRate),
		errors.Is(err, errUnknownParameter):
		code = busscan.CodeWrongParam
	}
	return &busscan.ProtocolError{Code: code, Message: err.Error()}
}
