package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kimboflash/ecuflash"
	"github.com/kimboflash/ecuflash/pkg/config"
	"github.com/kimboflash/ecuflash/pkg/kwp2000"
	"github.com/kimboflash/ecuflash/pkg/logging"
	"github.com/kimboflash/ecuflash/pkg/patch"
	"github.com/kimboflash/ecuflash/pkg/seedkey"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:               "ecuflash",
	Short:             "MS42/MS43 patch and flash tool",
	Long:              `Apply feature patches to MS42/MS43 images, fix their checksums and flash them over a K-line serial or Bluetooth interface.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command with ctx as the base context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagConfig   = "config"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagDebug    = "debug"
	flagAdapter  = "adapter"
	flagTimeout  = "timeout"
	flagLogLevel = "log-level"
	flagLogFile  = "log-file"
	flagSeedKey  = "seed-key"
	flagCatalog  = "catalog"
)

var (
	cfg    *config.Config
	logger = zap.NewNop()
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String(flagConfig, "", "config file (default is the user config dir)")
	pf.StringP(flagPort, "p", "", "com-port, Windows COM#, Linux/OSX /dev/ttyUSB# or /dev/rfcomm#")
	pf.IntP(flagBaudrate, "b", 0, "baudrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.StringP(flagAdapter, "a", "", "what adapter to use")
	pf.Duration(flagTimeout, 0, "response timeout, 0 waits forever")
	pf.String(flagLogLevel, "", "log level: debug, info, warn, error")
	pf.String(flagLogFile, "", "also write logs to this file")
	pf.String(flagSeedKey, "", "seed/key algorithm ("+strings.Join(seedkey.Names(), ", ")+")")
	pf.String(flagCatalog, "", "patch catalog file replacing the built in one")
}

// setup loads the config file and lets explicitly set flags override it.
func setup(cmd *cobra.Command, args []string) error {
	pf := cmd.Flags()
	path, _ := pf.GetString(flagConfig)
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if pf.Changed(flagPort) {
		c.Port, _ = pf.GetString(flagPort)
	}
	if pf.Changed(flagBaudrate) {
		c.Baudrate, _ = pf.GetInt(flagBaudrate)
	}
	if pf.Changed(flagAdapter) {
		c.Adapter, _ = pf.GetString(flagAdapter)
	}
	if pf.Changed(flagTimeout) {
		c.ResponseTimeout, _ = pf.GetDuration(flagTimeout)
	}
	if pf.Changed(flagLogLevel) {
		c.Log.Level, _ = pf.GetString(flagLogLevel)
	}
	if pf.Changed(flagLogFile) {
		c.Log.File, _ = pf.GetString(flagLogFile)
	}
	if pf.Changed(flagSeedKey) {
		c.SeedKey, _ = pf.GetString(flagSeedKey)
	}
	if pf.Changed(flagCatalog) {
		c.Catalog, _ = pf.GetString(flagCatalog)
	}
	if debug, _ := pf.GetBool(flagDebug); debug && c.Log.Level == "" {
		c.Log.Level = "debug"
	}

	l, err := logging.New(c.Log)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

func loadCatalog() (*patch.Catalog, error) {
	if cfg == nil || cfg.Catalog == "" {
		return patch.DefaultCatalog()
	}
	f, err := os.Open(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return patch.LoadCatalog(f)
}

func openTransport(ctx context.Context) (ecuflash.Transport, error) {
	debug, _ := rootCmd.PersistentFlags().GetBool(flagDebug)
	tr, err := ecuflash.OpenAdapter(ctx, cfg.Adapter, &ecuflash.AdapterConfig{
		Debug:        debug,
		Port:         cfg.Port,
		PortBaudrate: cfg.Baudrate,
		ReadTimeout:  cfg.ReadTimeout,
		Logger:       logger,
		AdditionalConfig: map[string]string{
			"seed_key": cfg.SeedKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open adapter %q: %w", cfg.Adapter, err)
	}
	logger.Info("adapter open", zap.String("adapter", tr.Name()))
	return tr, nil
}

func newClient(tr ecuflash.Transport) *kwp2000.Client {
	return kwp2000.New(tr,
		kwp2000.WithTimeout(cfg.ResponseTimeout),
		kwp2000.WithLogger(logger.Named("kwp2000")),
	)
}

