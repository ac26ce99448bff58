package cmd

import (
	"strings"

	"github.com/kimboflash/ecuflash"
	"github.com/kimboflash/ecuflash/adapter"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list adapters and serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data := pterm.TableData{{"Adapter", "Alias", "Port", "Description"}}
		for _, a := range ecuflash.ListAdapters() {
			port := ""
			if a.RequiresSerialPort {
				port = "yes"
			}
			data = append(data, []string{a.Name, strings.Join(a.Alias, ", "), port, a.Description})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}

		ports, err := adapter.Ports()
		if err != nil {
			pterm.Warning.Printf("failed to list serial ports: %v\n", err)
			return nil
		}
		if len(ports) == 0 {
			pterm.Info.Println("no serial ports found")
			return nil
		}
		pd := pterm.TableData{{"Port", "USB", "VID:PID", "Serial"}}
		for _, p := range ports {
			usb, id := "no", ""
			if p.IsUSB {
				usb, id = "yes", p.VID+":"+p.PID
			}
			pd = append(pd, []string{p.Name, usb, id, p.SerialNumber})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(pd).Render()
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
