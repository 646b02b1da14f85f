package busscan

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	// ParityUnknown is reported for a device register holding an
	// unrecognized value. A line can't be opened with it.
	ParityUnknown
)

// ParseParity decodes a single parity character. Anything other than
// 'E' or 'O' decodes to ParityNone.
func ParseParity(c byte) Parity {
	switch c {
	case 'E':
		return ParityEven
	case 'O':
		return ParityOdd
	default:
		return ParityNone
	}
}

// Char returns the single character encoding of the parity mode.
func (p Parity) Char() byte {
	switch p {
	case ParityEven:
		return 'E'
	case ParityOdd:
		return 'O'
	case ParityUnknown:
		return 'U'
	default:
		return 'N'
	}
}

func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	case ParityUnknown:
		return "unknown"
	default:
		return "none"
	}
}

func (p Parity) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p.Char()))
}

func (p *Parity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if len(s) != 1 {
		*p = ParityNone
		return nil
	}
	*p = ParseParity(s[0])
	return nil
}

// Reply timeout classes by link speed
const (
	SlowReplyTimeout   = 1000 * time.Millisecond // below 4800 baud
	MediumReplyTimeout = 500 * time.Millisecond  // below 38400 baud
	FastReplyTimeout   = 250 * time.Millisecond
)

// ReplyTimeout returns how long a full reply may take to arrive at the
// given baud rate.
func ReplyTimeout(baudRate int) time.Duration {
	switch {
	case baudRate < 4800:
		return SlowReplyTimeout
	case baudRate < 38400:
		return MediumReplyTimeout
	default:
		return FastReplyTimeout
	}
}

// SupportedBaudRates lists the rates every channel backend accepts.
var SupportedBaudRates = []int{
	1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400,
}

// PortConfig holds the line parameters of a serial channel
type PortConfig struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	Parity   Parity `json:"parity"`
	StopBits int    `json:"stop_bits"`
}

// Option is a functional option for configuring a serial port
type Option func(*PortConfig) error

// DefaultPortConfig returns the line parameters used by bus probes: 9600 8N2.
func DefaultPortConfig() PortConfig {
	return PortConfig{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: 2,
	}
}

// NewPortConfig applies opts on top of DefaultPortConfig.
func NewPortConfig(opts ...Option) (PortConfig, error) {
	cfg := DefaultPortConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return PortConfig{}, err
		}
	}
	return cfg, nil
}

// Validate checks that every parameter is within range.
func (c PortConfig) Validate() error {
	if !slices.Contains(SupportedBaudRates, c.BaudRate) {
		return fmt.Errorf("%w: %d", ErrInvalidBaudRate, c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("%w: data bits %d", ErrInvalidConfig, c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidConfig, c.StopBits)
	}
	if c.Parity < ParityNone || c.Parity > ParityEven {
		return fmt.Errorf("%w: parity %s", ErrInvalidConfig, c.Parity)
	}
	return nil
}

// String renders the config the usual way, e.g. "9600 8N2".
func (c PortConfig) String() string {
	return fmt.Sprintf("%d %d%c%d", c.BaudRate, c.DataBits, c.Parity.Char(), c.StopBits)
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *PortConfig) error {
		if !slices.Contains(SupportedBaudRates, rate) {
			return ErrInvalidBaudRate
		}
		c.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *PortConfig) error {
		if bits < 5 || bits > 8 {
			return ErrInvalidConfig
		}
		c.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *PortConfig) error {
		if bits != 1 && bits != 2 {
			return ErrInvalidConfig
		}
		c.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *PortConfig) error {
		c.Parity = parity
		return nil
	}
}
