package busscan

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReplySink receives raw reply envelopes from an Executor.
type ReplySink interface {
	Deliver(id string, raw []byte) error
}

// Executor runs encoded commands against the bus. Submit hands over the
// request and returns; the reply is later delivered to sink under the
// request's id, exactly once.
type Executor interface {
	Submit(ctx context.Context, req RequestEnvelope, sink ReplySink) error
}

// Correlator turns a dispatched command into an awaitable reply. Each
// request is tagged with a fresh id and waits on its own completion
// channel; only one request may be outstanding at a time.
type Correlator struct {
	exec   Executor
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]chan []byte
}

var _ ReplySink = (*Correlator)(nil)

func NewCorrelator(exec Executor, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		exec:    exec,
		logger:  logger.With(zap.String("component", "correlator")),
		pending: make(map[string]chan []byte),
	}
}

// Dispatch submits cmd and blocks until its reply arrives or ctx is done.
// A dispatch made while another is outstanding fails with
// ErrRequestPending. The correlator applies no timeout of its own.
func (c *Correlator) Dispatch(ctx context.Context, cmd Command) (Reply, error) {
	id := uuid.NewString()
	req, err := NewRequest(id, cmd)
	if err != nil {
		return Reply{}, err
	}

	done := make(chan []byte, 1)
	c.mu.Lock()
	if len(c.pending) > 0 {
		c.mu.Unlock()
		return Reply{}, ErrRequestPending
	}
	c.pending[id] = done
	c.mu.Unlock()
	defer c.forget(id)

	log := c.logger.With(zap.String("request_id", id), zap.String("kind", string(cmd.Kind())))
	log.Debug("Dispatching request")

	if err := c.exec.Submit(ctx, req, c); err != nil {
		log.Error("Executor rejected request", zap.Error(err))
		return Reply{}, fmt.Errorf("submitting %s: %w", cmd.Kind(), err)
	}

	select {
	case raw := <-done:
		reply, err := DecodeReply(raw)
		if err != nil {
			log.Error("Malformed reply", zap.ByteString("reply", raw), zap.Error(err))
			return Reply{}, err
		}
		if reply.Failure != nil {
			log.Warn("Request failed",
				zap.Int("code", reply.Failure.Code),
				zap.String("message", reply.Failure.Message),
			)
		}
		return reply, nil
	case <-ctx.Done():
		log.Warn("Request abandoned", zap.Error(ctx.Err()))
		return Reply{}, ctx.Err()
	}
}

// Deliver completes the pending request with the given id. Replies for
// ids that are not pending, including abandoned ones, are dropped.
func (c *Correlator) Deliver(id string, raw []byte) error {
	c.mu.Lock()
	done, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("Dropping reply for unknown request", zap.String("request_id", id))
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	done <- raw
	return nil
}

// Pending reports whether a request is outstanding.
func (c *Correlator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

func (c *Correlator) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
