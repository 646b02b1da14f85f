package busscan

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// DefaultLadder is the order in which speeds are probed
var DefaultLadder = []int{115200, 57600, 38400, 19200, 9600, 4800, 2400, 1200}

// DefaultMaxNextProbes bounds the Next probes at one speed: one per
// addressable slave id.
const DefaultMaxNextProbes = 247

// Prober sends a single scan probe. *Client implements it.
type Prober interface {
	Scan(ctx context.Context, cmd ScanCommand) (ScanResult, error)
}

// ScanEvent reports the outcome of one probe
type ScanEvent struct {
	Index    int
	BaudRate int
	Mode     ScanMode
	Found    []Device
	Err      error
}

// Scanner enumerates devices by probing each speed of a ladder.
type Scanner struct {
	prober        Prober
	ladder        []int
	opcode        byte
	maxNextProbes int
	probe         PortConfig
	progress      func(ScanEvent)
	logger        *zap.Logger
}

// ScannerOption configures a Scanner
type ScannerOption func(*Scanner)

// WithLadder sets the probed speeds, in probe order.
func WithLadder(rates ...int) ScannerOption {
	return func(s *Scanner) {
		s.ladder = append([]int(nil), rates...)
	}
}

// WithScanOpcode sets the scan command byte sent with every probe.
func WithScanOpcode(op byte) ScannerOption {
	return func(s *Scanner) {
		s.opcode = op
	}
}

// WithMaxNextProbes bounds the Next probes issued at a single speed.
func WithMaxNextProbes(n int) ScannerOption {
	return func(s *Scanner) {
		s.maxNextProbes = n
	}
}

// WithProbeFormat sets data bits, parity and stop bits of the probes.
func WithProbeFormat(dataBits int, parity Parity, stopBits int) ScannerOption {
	return func(s *Scanner) {
		s.probe.DataBits = dataBits
		s.probe.Parity = parity
		s.probe.StopBits = stopBits
	}
}

// WithProgress registers a callback invoked after every probe.
func WithProgress(fn func(ScanEvent)) ScannerOption {
	return func(s *Scanner) {
		s.progress = fn
	}
}

// WithScanLogger sets the scanner's logger.
func WithScanLogger(logger *zap.Logger) ScannerOption {
	return func(s *Scanner) {
		s.logger = logger
	}
}

func NewScanner(prober Prober, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		prober:        prober,
		ladder:        DefaultLadder,
		opcode:        ScanOpcode,
		maxNextProbes: DefaultMaxNextProbes,
		probe:         DefaultPortConfig(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("component", "scanner"))
	return s
}

// Scan walks the ladder once. At each speed a Start probe is sent; while
// probes keep returning devices the scanner stays at that speed and
// sends Next probes, then moves on. A speed is never revisited.
//
// A ProtocolError reply skips the rest of that speed. Any other failure,
// including a malformed reply, stops the scan and returns the devices
// found so far along with the error.
func (s *Scanner) Scan(ctx context.Context) ([]Device, error) {
	discovered := []Device{}

	index := 0
	mode := ScanStart
	nextProbes := 0

	advance := func() {
		index++
		mode = ScanStart
		nextProbes = 0
	}

	for index < len(s.ladder) {
		if err := ctx.Err(); err != nil {
			return discovered, err
		}

		baud := s.ladder[index]
		line := s.probe
		line.BaudRate = baud
		log := s.logger.With(zap.Int("baud_rate", baud), zap.String("mode", string(mode)))

		res, err := s.prober.Scan(ctx, ScanCommand{Port: line, Command: s.opcode, Mode: mode})
		s.emit(ScanEvent{Index: index, BaudRate: baud, Mode: mode, Found: res.Devices, Err: err})

		if err != nil {
			var pe *ProtocolError
			if errors.As(err, &pe) {
				log.Warn("Scan probe failed, skipping speed", zap.Error(err))
				advance()
				continue
			}
			log.Error("Scan aborted", zap.Error(err), zap.Int("found", len(discovered)))
			return discovered, err
		}

		if len(res.Devices) == 0 {
			log.Debug("No more devices at this speed")
			advance()
			continue
		}

		log.Info("Devices found", zap.Int("count", len(res.Devices)))
		discovered = append(discovered, res.Devices...)

		if nextProbes >= s.maxNextProbes {
			log.Warn("Too many scan probes at one speed, moving on",
				zap.Int("max_next_probes", s.maxNextProbes),
			)
			advance()
			continue
		}
		mode = ScanNext
		nextProbes++
	}

	return discovered, nil
}

func (s *Scanner) emit(ev ScanEvent) {
	if s.progress != nil {
		s.progress(ev)
	}
}
