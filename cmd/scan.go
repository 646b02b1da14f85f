/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/allbin/busscan"
	"github.com/allbin/busscan/internal/app"
	"github.com/allbin/busscan/internal/tui/components"
	"github.com/allbin/busscan/internal/tui/models"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover devices on the bus",
	Long: `Discover devices on the bus by probing each speed of the baud ladder.

At every speed a Start probe is broadcast, followed by Next probes until
the bus reports the end of the scan. Devices answering at any speed are
listed with their slave id, serial number, firmware and line settings.

Example usage:
  busscan scan --port /dev/ttyRS485-1
  busscan scan --baud-rates 9600,19200 --output yaml
  busscan scan --tui`,
	Run: func(cmd *cobra.Command, args []string) {
		useTUI, _ := cmd.Flags().GetBool("tui")
		progress, _ := cmd.Flags().GetBool("progress")
		output, _ := cmd.Flags().GetString("output")
		if err := checkOutputFormat(output); err != nil {
			fail("Error", err)
		}

		session, _, logger, err := openSession()
		if err != nil {
			fail("Error", err)
		}
		defer logger.Sync()
		defer session.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var devices []busscan.Device
		if useTUI {
			devices, err = runScanTUI(ctx, session)
		} else {
			var report func(busscan.ScanEvent)
			if progress {
				report = func(ev busscan.ScanEvent) {
					fmt.Fprintln(os.Stderr, components.FormatEvent(time.Now(), ev))
				}
			}
			devices, err = session.Scan(ctx, report)
		}

		if werr := writeDevices(os.Stdout, output, devices); werr != nil {
			fail("Error writing output", werr)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			fail("Scan failed", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Bool("tui", false, "Show scan progress in an interactive view")
	scanCmd.Flags().Bool("progress", false, "Print every probe to stderr")
	scanCmd.Flags().StringP("output", "o", outputTable, "Output format: table, json, yaml")
	scanCmd.Flags().IntSlice("baud-rates", nil, "Baud ladder in probe order (default: 115200 down to 1200)")
	scanCmd.Flags().Int("command", 0, "Scan command byte, 0x46 or 0x60 (default: 0x60)")
	scanCmd.Flags().Int("max-next-probes", 0, "Upper bound on Next probes per speed (default: 247)")

	bindLocalFlag(scanCmd, "scan.baud_rates", "baud-rates")
	bindLocalFlag(scanCmd, "scan.command", "command")
	bindLocalFlag(scanCmd, "scan.max_next_probes", "max-next-probes")
}

func runScanTUI(ctx context.Context, session *app.Session) ([]busscan.Device, error) {
	portPath, err := session.Port(ctx)
	if err != nil {
		return nil, err
	}

	m := models.NewScanModel(ctx, portPath, session.Scan)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, err
	}
	return m.Devices(), m.Err()
}
