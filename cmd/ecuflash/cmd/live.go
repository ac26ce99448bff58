package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kimboflash/ecuflash/pkg/kwp2000"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const (
	flagID       = "id"
	flagInterval = "interval"
	flagCount    = "count"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "poll common identifiers from the ecu",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringSlice(flagID)
		ids, err := parseIdentifiers(raw)
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration(flagInterval)
		count, _ := cmd.Flags().GetInt(flagCount)

		ctx := cmd.Context()
		tr, err := openTransport(ctx)
		if err != nil {
			return err
		}
		defer tr.Close()
		c := newClient(tr)

		if err := c.TesterPresent(ctx); err != nil {
			return fmt.Errorf("ecu not answering: %w", err)
		}
		return poll(ctx, c, ids, interval, count)
	},
}

func poll(ctx context.Context, c *kwp2000.Client, ids []uint16, interval time.Duration, count int) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for n := 0; count <= 0 || n < count; n++ {
		data, err := c.ReadDataByCommonIdentifier(ctx, ids...)
		if err != nil {
			return err
		}
		pterm.Printf("%s %s\n", time.Now().Format("15:04:05.000"), kwp2000.NewFrame(kwp2000.SidReadDataByCommonIdentifier+kwp2000.PositiveResponseOffset, data...))
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func parseIdentifiers(raw []string) ([]uint16, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one --%s is required", flagID)
	}
	ids := make([]uint16, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid identifier %q: %w", s, err)
		}
		ids = append(ids, uint16(v))
	}
	return ids, nil
}

func init() {
	f := liveCmd.Flags()
	f.StringSlice(flagID, nil, "common identifier to read, e.g. 0x0102, repeatable")
	f.Duration(flagInterval, 500*time.Millisecond, "poll interval")
	f.Int(flagCount, 0, "number of polls, 0 runs until ctrl-c")
	rootCmd.AddCommand(liveCmd)
}
