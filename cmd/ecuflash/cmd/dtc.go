package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const flagClear = "clear"

var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "read or clear diagnostic trouble codes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		tr, err := openTransport(ctx)
		if err != nil {
			return err
		}
		defer tr.Close()
		c := newClient(tr)

		if err := c.StartSession(ctx); err != nil {
			return err
		}

		if doClear, _ := cmd.Flags().GetBool(flagClear); doClear {
			if !yesNo("Clear all stored trouble codes?") {
				return nil
			}
			if err := c.ClearDTCs(ctx); err != nil {
				return err
			}
			pterm.Success.Println("trouble codes cleared")
			return nil
		}

		dtcs, err := c.ReadDTCs(ctx)
		if err != nil {
			return err
		}
		if len(dtcs) == 0 {
			pterm.Success.Println("no trouble codes stored")
			return nil
		}
		data := pterm.TableData{{"Code", "Number", "Status", "Active"}}
		for _, d := range dtcs {
			active := "no"
			if d.Active() {
				active = pterm.Red("yes")
			}
			data = append(data, []string{d.String(), fmt.Sprintf("%04d", d.Number()), fmt.Sprintf("0x%02X", d.Status), active})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	dtcCmd.Flags().Bool(flagClear, false, "clear stored codes instead of listing them")
	rootCmd.AddCommand(dtcCmd)
}
