package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kimboflash/ecuflash/pkg/bar"
	"github.com/kimboflash/ecuflash/pkg/kwp2000"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const (
	flagAddress = "address"
	flagSize    = "size"
)

var readCmd = &cobra.Command{
	Use:   "read <file>",
	Short: "read ecu memory to file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetUint32(flagAddress)
		size, _ := cmd.Flags().GetUint32(flagSize)
		if size == 0 {
			return fmt.Errorf("--%s must be larger than 0", flagSize)
		}
		if uint64(addr)+uint64(size) > 1<<24 {
			return kwp2000.ErrAddressRange
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 900*time.Second)
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

		start := time.Now()
		pb := bar.New(int(size), "reading")
		out := make([]byte, 0, size)
		for off := uint32(0); off < size; off += kwp2000.TransferChunkSize {
			n := min(size-off, kwp2000.TransferChunkSize)
			data, err := c.ReadMemoryByAddress(ctx, addr+off, uint16(n))
			if err != nil {
				return fmt.Errorf("read at 0x%06X: %w", addr+off, err)
			}
			out = append(out, data...)
			pb.Add(len(data))
		}
		pb.Finish()
		fmt.Println()

		if err := os.WriteFile(args[0], out, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", args[0], err)
		}
		pterm.Success.Printf("read %d bytes from 0x%06X in %s\n", len(out), addr, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	f := readCmd.Flags()
	f.Uint32(flagAddress, 0, "start address")
	f.Uint32(flagSize, 0x20000, "number of bytes to read")
	rootCmd.AddCommand(readCmd)
}
