// Package config loads busscan settings from defaults, an optional YAML
// file, BUSSCAN_* environment variables and bound command line flags.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/allbin/busscan"
)

type Config struct {
	Port   PortConfig   `mapstructure:"port"`
	Scan   ScanConfig   `mapstructure:"scan"`
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
}

// PortConfig selects the serial port
type PortConfig struct {
	Path    string   `mapstructure:"path"`
	Backend string   `mapstructure:"backend"`
	VIDPID  []string `mapstructure:"vid_pid"`
}

// ScanConfig controls bus discovery
type ScanConfig struct {
	BaudRates     []int  `mapstructure:"baud_rates"`
	Command       int    `mapstructure:"command"`
	MaxNextProbes int    `mapstructure:"max_next_probes"`
	DataBits      int    `mapstructure:"data_bits"`
	Parity        string `mapstructure:"parity"`
	StopBits      int    `mapstructure:"stop_bits"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port.path", "")
	v.SetDefault("port.backend", string(busscan.BackendNative))
	v.SetDefault("port.vid_pid", []string{})

	v.SetDefault("scan.baud_rates", busscan.DefaultLadder)
	v.SetDefault("scan.command", int(busscan.ScanOpcode))
	v.SetDefault("scan.max_next_probes", busscan.DefaultMaxNextProbes)
	v.SetDefault("scan.data_bits", 8)
	v.SetDefault("scan.parity", "N")
	v.SetDefault("scan.stop_bits", 2)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("server.listen", ":8080")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BUSSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads file (when set) into v, decodes and validates the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks value ranges that viper cannot.
func (c *Config) Validate() error {
	var errs []error

	switch busscan.Backend(c.Port.Backend) {
	case busscan.BackendNative, busscan.BackendBugst:
	default:
		errs = append(errs, fmt.Errorf("port.backend: unknown backend %q", c.Port.Backend))
	}
	if _, err := c.Port.Filters(); err != nil {
		errs = append(errs, fmt.Errorf("port.vid_pid: %w", err))
	}

	if len(c.Scan.BaudRates) == 0 {
		errs = append(errs, errors.New("scan.baud_rates: empty ladder"))
	}
	for _, b := range c.Scan.BaudRates {
		if !slices.Contains(busscan.SupportedBaudRates, b) {
			errs = append(errs, fmt.Errorf("scan.baud_rates: unsupported baud rate %d", b))
		}
	}
	if c.Scan.Command < 0 || c.Scan.Command > 0xFF {
		errs = append(errs, fmt.Errorf("scan.command: %d is not a byte", c.Scan.Command))
	}
	if c.Scan.MaxNextProbes <= 0 {
		errs = append(errs, fmt.Errorf("scan.max_next_probes: must be positive, got %d", c.Scan.MaxNextProbes))
	}
	if c.Scan.DataBits < 5 || c.Scan.DataBits > 8 {
		errs = append(errs, fmt.Errorf("scan.data_bits: %d out of range", c.Scan.DataBits))
	}
	if c.Scan.StopBits != 1 && c.Scan.StopBits != 2 {
		errs = append(errs, fmt.Errorf("scan.stop_bits: %d out of range", c.Scan.StopBits))
	}
	if len(c.Scan.Parity) != 1 || !strings.ContainsAny(c.Scan.Parity, "NEO") {
		errs = append(errs, fmt.Errorf("scan.parity: %q is not one of N, E, O", c.Scan.Parity))
	}

	return errors.Join(errs...)
}

// Filters parses the configured VID:PID filters.
func (p PortConfig) Filters() ([]busscan.USBFilter, error) {
	filters := make([]busscan.USBFilter, 0, len(p.VIDPID))
	for _, s := range p.VIDPID {
		f, err := busscan.ParseUSBFilter(s)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// ProbeParity decodes the configured parity character.
func (s ScanConfig) ProbeParity() busscan.Parity {
	if s.Parity == "" {
		return busscan.ParityNone
	}
	return busscan.ParseParity(s.Parity[0])
}
