// Package app wires the transport, executor, correlator and scanner into
// a Session shared by the CLI commands and the HTTP server.
package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/allbin/busscan"
	"github.com/allbin/busscan/internal/config"
	"github.com/allbin/busscan/internal/wbmodbus"
)

// Session owns one serial port. Operations are serialized: a call waits
// for the one in progress to finish.
type Session struct {
	cfg    *config.Config
	logger *zap.Logger

	transport *busscan.Transport
	exec      *wbmodbus.Executor
	client    *busscan.Client

	mu sync.Mutex
}

// NewSession selects the port described by cfg.
func NewSession(cfg *config.Config, logger *zap.Logger) (*Session, error) {
	filters, err := cfg.Port.Filters()
	if err != nil {
		return nil, err
	}
	host := &busscan.Selector{
		Path:    cfg.Port.Path,
		Backend: busscan.Backend(cfg.Port.Backend),
		Filters: filters,
	}
	return newSession(cfg, host, logger), nil
}

func newSession(cfg *config.Config, host busscan.Host, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := busscan.NewTransport(host, logger)
	exec := wbmodbus.New(transport, logger)
	return &Session{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "session")),
		transport: transport,
		exec:      exec,
		client:    busscan.NewClient(busscan.NewCorrelator(exec, logger)),
	}
}

// Port returns the selected port path, selecting one if needed.
func (s *Session) Port(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transport.SelectChannel(ctx, false); err != nil {
		return "", err
	}
	return s.transport.Path(), nil
}

// Scan discovers devices on the bus. progress, when set, is called after
// every probe.
func (s *Session) Scan(ctx context.Context, progress func(busscan.ScanEvent)) ([]busscan.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transport.SelectChannel(ctx, false); err != nil {
		return nil, err
	}

	sc := s.cfg.Scan
	scanner := busscan.NewScanner(s.client,
		busscan.WithLadder(sc.BaudRates...),
		busscan.WithScanOpcode(byte(sc.Command)),
		busscan.WithMaxNextProbes(sc.MaxNextProbes),
		busscan.WithProbeFormat(sc.DataBits, sc.ProbeParity(), sc.StopBits),
		busscan.WithProgress(progress),
		busscan.WithScanLogger(s.logger),
	)

	s.logger.Info("Scan started",
		zap.String("port", s.transport.Path()),
		zap.Ints("baud_rates", sc.BaudRates),
	)
	devices, err := scanner.Scan(ctx)
	if err != nil {
		s.logger.Error("Scan failed", zap.Error(err), zap.Int("found", len(devices)))
		return devices, err
	}
	s.logger.Info("Scan finished", zap.Int("found", len(devices)))
	return devices, nil
}

func (s *Session) LoadConfig(ctx context.Context, cmd busscan.LoadConfigCommand) (busscan.ConfigValues, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.LoadConfig(ctx, cmd)
}

func (s *Session) SetConfig(ctx context.Context, cmd busscan.SetConfigCommand) (busscan.ConfigValues, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.SetConfig(ctx, cmd)
}

func (s *Session) SetBaudRate(ctx context.Context, dev *busscan.Device, baudRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.SetBaudRate(ctx, dev, baudRate)
}

// Close stops the executor and releases the port.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.exec.Close(); err != nil {
		return fmt.Errorf("stopping executor: %w", err)
	}
	return s.transport.Close()
}
