package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/ccowart83/sio2prom/fx/sio2promfx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Collect periodically and serve the exposition endpoint",
	Long: `Seed the metric registry with one collection, then collect every
sio.metric_update seconds while serving prom.path on
prom.listen_ip:prom.listen_port.

If the first collection fails the process exits with a non-zero status
before the endpoint is bound. A metric_update of 0 collects only once.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var startTimeout time.Duration

func init() {
	serveCmd.Flags().DurationVar(&startTimeout, "start-timeout", 2*time.Minute, "maximum time for the initial collection")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	app := fx.New(
		fx.Supply(cfg),
		fx.Supply(logger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.StartTimeout(startTimeout),
		sio2promfx.SourceModule,
		sio2promfx.Module,
	)

	// Run blocks until a stop signal, and exits the process on start failure.
	app.Run()
	return nil
}
