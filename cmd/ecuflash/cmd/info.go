package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/kimboflash/ecuflash/pkg/checksum"
	"github.com/kimboflash/ecuflash/pkg/ecu"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "show variant and checksums of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		img, err := cat.Load(args[0])
		if err != nil {
			return err
		}
		data := img.Bytes()

		ident := "n/a"
		if b, err := img.ByteAt(cat.Identification.Offset); err == nil {
			ident = fmt.Sprintf("0x%02X @ 0x%X", b, cat.Identification.Offset)
		}
		table := pterm.TableData{
			{"Field", "Value"},
			{"File", filepath.Base(args[0])},
			{"Size", fmt.Sprintf("%d (0x%X)", img.Len(), img.Len())},
			{"Variant", img.Variant().String()},
			{"Identification", ident},
		}
		if stored, computed, err := checksum.VerifyTrailer(data); err == nil {
			table = append(table, []string{"Trailer checksum", checksumRow(stored, computed)})
		}
		if stored, computed, err := checksum.VerifyRange(data, cat.RangeChecksum); err == nil {
			table = append(table, []string{"Range checksum", checksumRow(stored, computed)})
		} else {
			table = append(table, []string{"Range checksum", "n/a (" + err.Error() + ")"})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(table).Render(); err != nil {
			return err
		}
		if img.Variant() == ecu.Unknown {
			pterm.Warning.Println("Unknown ECU: variant specific patches will be skipped")
		}
		return nil
	},
}

func checksumRow(stored, computed uint16) string {
	if stored == computed {
		return pterm.Green(fmt.Sprintf("0x%04X OK", stored))
	}
	return pterm.Red(fmt.Sprintf("0x%04X stored, 0x%04X computed", stored, computed))
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
