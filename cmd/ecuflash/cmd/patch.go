package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kimboflash/ecuflash/pkg/patch"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const (
	flagOutput          = "output"
	flagEnable          = "enable"
	flagIgnitionAdvance = "ignition-advance"
	flagFuelMixture     = "fuel-mixture"
	flagDryRun          = "dry-run"
)

var patchCmd = &cobra.Command{
	Use:   "patch <file>",
	Short: "apply feature patches and write the image with a fresh checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		sel, err := selections(cmd, cat)
		if err != nil {
			return err
		}
		if len(sel) == 0 {
			return errors.New("nothing to apply, use --enable or a scalar flag")
		}
		img, err := cat.Load(args[0])
		if err != nil {
			return err
		}
		pterm.Info.Printf("Detected %s\n", img.Variant())

		report, err := patch.NewEngine(cat, patch.WithLogger(logger.Named("patch"))).Apply(img, sel)
		printReport(report)
		if err != nil {
			return err
		}

		if dry, _ := cmd.Flags().GetBool(flagDryRun); dry {
			pterm.Warning.Println("DRY RUN - nothing written")
			return nil
		}
		out, _ := cmd.Flags().GetString(flagOutput)
		if out == "" {
			out = strings.TrimSuffix(args[0], ".bin") + "_patched.bin"
		}
		if err := patch.SaveFile(img, out); err != nil {
			return err
		}
		pterm.Success.Printf("Wrote %s\n", out)
		return nil
	},
}

// selections builds the ordered selection list: --enable names first, then
// scalar flags that were set.
func selections(cmd *cobra.Command, cat *patch.Catalog) ([]patch.Selection, error) {
	var sel []patch.Selection
	names, _ := cmd.Flags().GetStringSlice(flagEnable)
	for _, n := range names {
		d, ok := cat.Lookup(n)
		if !ok {
			return nil, fmt.Errorf("%w: %q (see 'ecuflash patch list')", patch.ErrUnknownPatch, n)
		}
		if d.Scalar {
			return nil, fmt.Errorf("%s takes a value, use --%s", n, strings.ReplaceAll(n, "_", "-"))
		}
		sel = append(sel, patch.Enable(n))
	}
	for _, flag := range []string{flagIgnitionAdvance, flagFuelMixture} {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		v, _ := cmd.Flags().GetInt(flag)
		sel = append(sel, patch.Set(strings.ReplaceAll(flag, "-", "_"), v))
	}
	return sel, nil
}

func printReport(r *patch.Report) {
	if r == nil {
		return
	}
	for _, name := range r.Applied {
		pterm.Success.Printf("applied %s\n", name)
	}
	for _, s := range r.Skipped {
		pterm.Warning.Printf("skipped %s: %s\n", s.Name, s.Reason)
	}
	for _, t := range r.Truncated {
		pterm.Warning.Printf("%s: %d does not fit in a byte, wrote 0x%02X\n", t.Name, t.Value, t.Written)
	}
}

var patchListCmd = &cobra.Command{
	Use:   "list",
	Short: "list available patches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		table := pterm.TableData{{"Name", "Title", "Variants", "Offsets", "Kind"}}
		for _, d := range cat.Patches {
			variants := "any"
			if len(d.Variants) > 0 {
				var vs []string
				for _, v := range d.Variants {
					vs = append(vs, v.String())
				}
				variants = strings.Join(vs, ",")
			}
			var offs []string
			for _, w := range d.Writes {
				if d.Scalar {
					offs = append(offs, fmt.Sprintf("0x%04X", w.Offset))
				} else {
					offs = append(offs, fmt.Sprintf("0x%04X=%02X", w.Offset, w.Value))
				}
			}
			kind := "flag"
			if d.Scalar {
				kind = "value"
			}
			table = append(table, []string{d.Name, d.Title, variants, strings.Join(offs, " "), kind})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
	},
}

func init() {
	f := patchCmd.Flags()
	f.StringP(flagOutput, "o", "", "output file (default <file>_patched.bin)")
	f.StringSliceP(flagEnable, "e", nil, "patch to enable, repeatable")
	f.Int(flagIgnitionAdvance, 0, "ignition advance value (0-255)")
	f.Int(flagFuelMixture, 0, "fuel mixture value (0-255)")
	f.Bool(flagDryRun, false, "apply in memory only")
	patchCmd.AddCommand(patchListCmd)
	rootCmd.AddCommand(patchCmd)
}
