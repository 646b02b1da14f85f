/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/allbin/busscan"
)

// loadConfigCmd represents the load-config command
var loadConfigCmd = &cobra.Command{
	Use:   "load-config",
	Short: "Read the configuration of one device",
	Long: `Read slave id, line settings, model, firmware and serial number from
the device at --slave, addressed with the given line settings.

Example usage:
  busscan load-config --slave 12
  busscan load-config --slave 12 --baud 115200 --parity E --stop-bits 1 -o json`,
	Run: func(cmd *cobra.Command, args []string) {
		line, slaveID, output := deviceFlags(cmd)
		deviceType, _ := cmd.Flags().GetString("device-type")

		runDeviceCommand(func(ctx context.Context, s sessionAPI) error {
			values, err := s.LoadConfig(ctx, busscan.LoadConfigCommand{
				Port:       line,
				DeviceType: deviceType,
				SlaveID:    slaveID,
			})
			if err != nil {
				return err
			}
			return writeValues(os.Stdout, output, values)
		})
	},
}

// setCmd represents the set command
var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Write parameters and channels of one device",
	Long: `Write named parameters and output channels of the device at --slave.

Parameters: slave_id, baud_rate, parity, stop_bits, continuous_read.
Channels: K<n> (relay n), coil:<addr>, holding:<addr>.

Every value is checked before anything is written. Channels are written
first, then parameters, with slave_id and baud_rate last.

Example usage:
  busscan set --slave 12 --channel K1=1 --channel K2=0
  busscan set --slave 12 --param stop_bits=1 --param parity=2`,
	Run: func(cmd *cobra.Command, args []string) {
		line, slaveID, output := deviceFlags(cmd)
		deviceType, _ := cmd.Flags().GetString("device-type")
		params, _ := cmd.Flags().GetStringToInt("param")
		channels, _ := cmd.Flags().GetStringToInt("channel")
		if len(params) == 0 && len(channels) == 0 {
			fail("Error", fmt.Errorf("nothing to write, use --param or --channel"))
		}

		runDeviceCommand(func(ctx context.Context, s sessionAPI) error {
			values, err := s.SetConfig(ctx, busscan.SetConfigCommand{
				Port:       line,
				DeviceType: deviceType,
				SlaveID:    slaveID,
				Parameters: params,
				Channels:   channels,
			})
			if err != nil {
				return err
			}
			return writeValues(os.Stdout, output, values)
		})
	},
}

// setBaudCmd represents the set-baud command
var setBaudCmd = &cobra.Command{
	Use:   "set-baud <baud>",
	Short: "Change the baud rate of one device",
	Long: `Change the baud rate of the device at --slave. The device is addressed
with --baud and answers at the new rate afterwards.

Example usage:
  busscan set-baud 115200 --slave 12 --baud 9600`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var baudRate int
		if _, err := fmt.Sscanf(args[0], "%d", &baudRate); err != nil {
			fail("Error", fmt.Errorf("invalid baud rate %q", args[0]))
		}
		line, slaveID, _ := deviceFlags(cmd)

		dev := busscan.Device{Config: busscan.DeviceConfig{
			SlaveID:  slaveID,
			BaudRate: line.BaudRate,
			Parity:   line.Parity,
			StopBits: line.StopBits,
			DataBits: line.DataBits,
		}}

		runDeviceCommand(func(ctx context.Context, s sessionAPI) error {
			if err := s.SetBaudRate(ctx, &dev, baudRate); err != nil {
				return err
			}
			fmt.Printf("Device %d now at %s\n", dev.Config.SlaveID, dev.Config.Line())
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{loadConfigCmd, setCmd, setBaudCmd} {
		rootCmd.AddCommand(c)
		addDeviceFlags(c)
	}
	for _, c := range []*cobra.Command{loadConfigCmd, setCmd} {
		c.Flags().String("device-type", "", "Device type, echoed back in the result")
		c.Flags().StringP("output", "o", outputTable, "Output format: table, json, yaml")
	}
	setCmd.Flags().StringToInt("param", nil, "Parameter to write as name=value, repeatable")
	setCmd.Flags().StringToInt("channel", nil, "Channel to write as name=value, repeatable")
}

func addDeviceFlags(c *cobra.Command) {
	c.Flags().IntP("slave", "s", 0, "Slave id of the device (1-247)")
	c.Flags().IntP("baud", "b", 9600, "Baud rate the device listens at")
	c.Flags().String("parity", "N", "Parity: N, E, O")
	c.Flags().Int("stop-bits", 2, "Stop bits: 1, 2")
	c.Flags().Int("data-bits", 8, "Data bits")
	_ = c.MarkFlagRequired("slave")
}

// deviceFlags reads the line settings and slave id shared by the device
// commands, exiting on invalid values.
func deviceFlags(cmd *cobra.Command) (busscan.PortConfig, int, string) {
	slaveID, _ := cmd.Flags().GetInt("slave")
	baud, _ := cmd.Flags().GetInt("baud")
	parity, _ := cmd.Flags().GetString("parity")
	stopBits, _ := cmd.Flags().GetInt("stop-bits")
	dataBits, _ := cmd.Flags().GetInt("data-bits")
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = outputTable
	}
	if err := checkOutputFormat(output); err != nil {
		fail("Error", err)
	}

	if slaveID < 1 || slaveID > 247 {
		fail("Error", fmt.Errorf("slave id %d out of range 1-247", slaveID))
	}
	lineParity, err := parseParityFlag(parity)
	if err != nil {
		fail("Error", err)
	}

	line, err := busscan.NewPortConfig(
		busscan.WithBaudRate(baud),
		busscan.WithDataBits(dataBits),
		busscan.WithStopBits(stopBits),
		busscan.WithParity(lineParity),
	)
	if err != nil {
		fail("Error", err)
	}
	return line, slaveID, output
}

// parseParityFlag accepts N, E or O.
func parseParityFlag(s string) (busscan.Parity, error) {
	switch s {
	case "N", "E", "O":
		return busscan.ParseParity(s[0]), nil
	default:
		return busscan.ParityNone, fmt.Errorf("invalid parity %q, want N, E or O", s)
	}
}

type sessionAPI interface {
	LoadConfig(ctx context.Context, cmd busscan.LoadConfigCommand) (busscan.ConfigValues, error)
	SetConfig(ctx context.Context, cmd busscan.SetConfigCommand) (busscan.ConfigValues, error)
	SetBaudRate(ctx context.Context, dev *busscan.Device, baudRate int) error
}

// runDeviceCommand opens a session, runs fn and exits non-zero on error.
func runDeviceCommand(fn func(ctx context.Context, s sessionAPI) error) {
	session, _, logger, err := openSession()
	if err != nil {
		fail("Error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = fn(ctx, session)
	stop()
	_ = session.Close()
	_ = logger.Sync()

	if err != nil {
		fail("Error", err)
	}
}
