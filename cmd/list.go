/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/allbin/busscan"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available serial ports",
	Long: `List the serial ports a bus can be attached to.

USB adapters are shown with their vendor and product id, which can be
passed to --vid-pid to select the adapter without knowing its path.

Virtual terminals and pseudo-terminals are excluded from the listing.`,
	Run: func(cmd *cobra.Command, args []string) {
		filterType, _ := cmd.Flags().GetString("filter")
		tableFormat, _ := cmd.Flags().GetBool("table")
		output, _ := cmd.Flags().GetString("output")

		infos, err := busscan.ListPortInfo()
		if err != nil {
			fail("Error listing ports", err)
		}
		infos = filterPorts(infos, filterType)

		if output == outputJSON || output == outputYAML {
			if err := writeStructured(os.Stdout, output, infos); err != nil {
				fail("Error writing output", err)
			}
			return
		}

		if len(infos) == 0 {
			if filterType != "" {
				fmt.Printf("No serial ports found matching filter: %s\n", filterType)
			} else {
				fmt.Println("No serial ports found")
			}
			return
		}

		if tableFormat {
			renderPortTable(os.Stdout, infos)
		} else {
			renderSimple(os.Stdout, infos)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("filter", "f", "", "Filter by port type: usb, rs485, standard, arm, all")
	listCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
	listCmd.Flags().StringP("output", "o", "", "Structured output: json, yaml")
}

// filterPorts filters the port list based on the specified filter type
func filterPorts(infos []*busscan.PortInfo, filterType string) []*busscan.PortInfo {
	filterType = strings.ToLower(filterType)
	if filterType == "" || filterType == "all" {
		return infos
	}

	var filtered []*busscan.PortInfo
	for _, info := range infos {
		name := strings.ToLower(info.Name)
		var keep bool
		switch filterType {
		case "usb":
			keep = info.IsUSB || strings.HasPrefix(name, "ttyusb") || strings.HasPrefix(name, "ttyacm")
		case "rs485":
			keep = strings.HasPrefix(name, "ttyrs485")
		case "standard":
			keep = strings.HasPrefix(name, "ttys")
		case "arm":
			keep = strings.HasPrefix(name, "ttyama")
		}
		if keep {
			filtered = append(filtered, info)
		}
	}
	return filtered
}

// renderPortTable renders the port list in a styled static table format
func renderPortTable(w io.Writer, infos []*busscan.PortInfo) {
	fmt.Fprintf(w, "Found %d serial port(s):\n", len(infos))

	t := newTable("Port", "Description", "VID:PID", "Serial", "Product")
	for _, info := range infos {
		var vidpid string
		if info.IsUSB {
			vidpid = info.VendorID + ":" + info.ProductID
		}
		t.Row(info.Path, info.Description, vidpid, info.SerialNumber, info.Product)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		return cellStyle
	})
	fmt.Fprintln(w, t.Render())
}

// renderSimple renders the port list in simple text format
func renderSimple(w io.Writer, infos []*busscan.PortInfo) {
	for _, info := range infos {
		fmt.Fprintln(w, info.Path)
	}
}
