package cmd

import (
	"fmt"

	"github.com/kimboflash/ecuflash/pkg/checksum"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const (
	flagFix  = "fix"
	flagMode = "mode"
)

var checksumCmd = &cobra.Command{
	Use:   "checksum <file>",
	Short: "verify or fix the image checksum",
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
		mode, _ := cmd.Flags().GetString(flagMode)
		fix, _ := cmd.Flags().GetBool(flagFix)
		data := img.Bytes()

		var stored, computed uint16
		switch mode {
		case "trailer":
			stored, computed, err = checksum.VerifyTrailer(data)
		case "range":
			stored, computed, err = checksum.VerifyRange(data, cat.RangeChecksum)
		default:
			return fmt.Errorf("unknown mode %q, want trailer or range", mode)
		}
		if err != nil {
			return err
		}
		if stored == computed {
			pterm.Success.Printf("%s checksum OK (0x%04X)\n", mode, stored)
			return nil
		}
		pterm.Warning.Printf("%s checksum mismatch: stored 0x%04X, computed 0x%04X\n", mode, stored, computed)
		if !fix {
			return fmt.Errorf("%s checksum mismatch", mode)
		}

		if mode == "trailer" {
			_, err = checksum.ApplyTrailer(data)
		} else {
			_, err = checksum.ApplyRange(data, cat.RangeChecksum)
		}
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString(flagOutput)
		if out == "" {
			out = args[0]
		}
		if err := img.Save(out); err != nil {
			return err
		}
		pterm.Success.Printf("Wrote %s with checksum 0x%04X\n", out, computed)
		return nil
	},
}

func init() {
	f := checksumCmd.Flags()
	f.Bool(flagFix, false, "write the computed checksum")
	f.String(flagMode, "trailer", "checksum algorithm: trailer or range")
	f.StringP(flagOutput, "o", "", "output file when fixing (default overwrite)")
	rootCmd.AddCommand(checksumCmd)
}
