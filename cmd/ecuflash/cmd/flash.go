package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/kimboflash/ecuflash/pkg/bar"
	"github.com/kimboflash/ecuflash/pkg/checksum"
	"github.com/kimboflash/ecuflash/pkg/kwp2000"
	"github.com/kimboflash/ecuflash/pkg/seedkey"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const flagYes = "yes"

var flashCmd = &cobra.Command{
	Use:   "flash <file>",
	Short: "flash binary to ecu",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 900*time.Second)
		defer cancel()

		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		img, err := cat.Load(args[0])
		if err != nil {
			return err
		}
		pterm.Info.Printf("loaded %d bytes from %s, %s\n", img.Len(), filepath.Base(args[0]), img.Variant())
		if stored, computed, err := checksum.VerifyTrailer(img.Bytes()); err != nil || stored != computed {
			pterm.Warning.Println("trailer checksum does not match, run 'ecuflash checksum --fix' first unless this is intended")
		}

		keyFn, err := seedkey.Lookup(cfg.SeedKey)
		if err != nil {
			return err
		}

		if yes, _ := cmd.Flags().GetBool(flagYes); !yes {
			if !yesNo("Erase and flash the ECU?") {
				return nil
			}
		}

		tr, err := openTransport(ctx)
		if err != nil {
			return err
		}
		defer tr.Close()

		steps := make(chan kwp2000.Step, 8)
		f := kwp2000.NewFlasher(newClient(tr),
			kwp2000.WithKeyFunc(keyFn),
			kwp2000.WithFlashLogger(logger.Named("flash")),
			kwp2000.WithStepHook(func(s kwp2000.Step) {
				select {
				case steps <- s:
				default:
				}
			}),
		)

		job := f.Start(ctx, img.Bytes())
		var res kwp2000.Result
		errg, gctx := errgroup.WithContext(ctx)
		errg.Go(func() error {
			spin := bar.Spinner("flashing")
			defer spin.Finish()
			t := time.NewTicker(100 * time.Millisecond)
			defer t.Stop()
			for {
				select {
				case s := <-steps:
					spin.Describe(s.String())
				case <-t.C:
					spin.Add(1)
				case <-job.Done():
					return nil
				case <-gctx.Done():
					return nil
				}
			}
		})
		errg.Go(func() error {
			res = job.Wait()
			return res.Err
		})
		if err := errg.Wait(); err != nil {
			pterm.Error.Println(err)
			return err
		}
		logger.Info("flash done", zap.Int("chunks", res.Chunks))
		pterm.Success.Printf("flashed %d bytes in %d blocks, took %s\n", res.Bytes, res.Chunks, res.Elapsed.Round(time.Millisecond))
		return nil
	},
}

func init() {
	flashCmd.Flags().BoolP(flagYes, "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(flashCmd)
}

