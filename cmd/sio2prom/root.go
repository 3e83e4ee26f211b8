package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ccowart83/sio2prom/internal/config"
)

var (
	// Global flags.
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sio2prom",
	Short: "Export ScaleIO statistics as Prometheus metrics",
	Long: `sio2prom polls a ScaleIO REST gateway and serves its statistics on a
Prometheus exposition endpoint.

Settings are read from cfg/sio2prom.json by default. Every setting can be
overridden by a SIO2PROM_ environment variable (SIO2PROM_SIO_PASS) or a flag.

Examples:
  # Serve metrics using cfg/sio2prom.json
  sio2prom serve

  # Collect once and print the exposition text
  sio2prom collect

  # Record a snapshot for later replay
  sio2prom collect --snapshot-out s3://bucket/sio2prom/latest.jsonl.zst

  # Serve a recorded snapshot instead of a live gateway
  sio2prom serve --source snapshot --snapshot ./latest.jsonl.zst`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	config.RegisterFlags(rootCmd.PersistentFlags())
}

// loadConfig loads the config, applying the command's flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds a JSON production logger, or a console development logger
// with --verbose.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
