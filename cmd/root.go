/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/allbin/busscan/internal/app"
	"github.com/allbin/busscan/internal/config"
	"github.com/allbin/busscan/internal/logging"
)

var (
	cfgFile string
	v       = config.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "busscan",
	Short: "Discover and configure Modbus RTU devices on a serial bus",
	Long: `busscan finds devices on an RS-485 bus and reads or changes their
configuration.

A scan probes every speed of the baud ladder with the fast-scan broadcast
and reports each device that answers, together with its serial number,
firmware and line settings.

Settings are read from a YAML file (--config), BUSSCAN_* environment
variables and the flags below, in increasing order of precedence.

Example usage:
  busscan list --table
  busscan scan --port /dev/ttyRS485-1
  busscan scan --vid-pid 0403:6001 --tui
  busscan load-config --slave 12 --baud 9600
  busscan serve --listen :8080`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (YAML)")
	flags.StringP("port", "p", "", "Serial port path (default: first port matching --vid-pid)")
	flags.String("backend", "", "Port backend: native, bugst (default: native)")
	flags.StringSlice("vid-pid", nil, "USB adapter filter as VID:PID, repeatable")
	flags.String("log-level", "", "Log level: debug, info, warn, error (default: info)")
	flags.String("log-format", "", "Log format: console, json (default: console)")
	flags.String("log-output", "", "Log output: stderr, stdout or a file path (default: stderr)")

	bindFlag("port.path", "port")
	bindFlag("port.backend", "backend")
	bindFlag("port.vid_pid", "vid-pid")
	bindFlag("log.level", "log-level")
	bindFlag("log.format", "log-format")
	bindFlag("log.output", "log-output")
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

func bindLocalFlag(c *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, c.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

// loadConfig merges file, environment and flags.
func loadConfig() (*config.Config, error) {
	return config.Load(v, cfgFile)
}

// openSession builds the logger and session shared by the bus commands.
func openSession() (*app.Session, *config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	session, err := app.NewSession(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return session, cfg, logger, nil
}

// fail prints err and exits.
func fail(format string, err error) {
	fmt.Fprintf(os.Stderr, format+": %v\n", err)
	os.Exit(1)
}
