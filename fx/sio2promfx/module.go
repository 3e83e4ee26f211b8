// Package sio2promfx provides fx modules that run a sio2prom exporter and its
// HTTP endpoint inside an fx application.
package sio2promfx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ccowart83/sio2prom"
	"github.com/ccowart83/sio2prom/internal/config"
	"github.com/ccowart83/sio2prom/internal/source"
	"github.com/ccowart83/sio2prom/internal/source/sio"
	"github.com/ccowart83/sio2prom/internal/source/snapshot"
	"github.com/ccowart83/sio2prom/internal/stats"
	"github.com/ccowart83/sio2prom/internal/stats/logger"
	statsprom "github.com/ccowart83/sio2prom/internal/stats/prometheus"
)

// ShutdownTimeout bounds how long in-flight scrapes may take on stop.
const ShutdownTimeout = 5 * time.Second

// Module provides an Exporter and serves it over HTTP for the lifetime of the
// application. Requires a config.Config, a *zap.Logger and a source.Source.
var Module = fx.Module("sio2prom",
	fx.Provide(
		newGatherer,
		newStatsCollector,
		newExporter,
		newServer,
	),
	fx.Invoke(registerLifecycle),
)

// SourceModule provides the source.Source selected by config.Config.
var SourceModule = fx.Module("sio2prom.source",
	fx.Provide(newSource),
)

func newGatherer() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func newStatsCollector(cfg config.Config, g *prometheus.Registry, log *zap.Logger) stats.Collector {
	c := statsprom.New(g)
	if cfg.Log.Level == "debug" {
		return stats.NewMulti(c, logger.New(log.Named("stats")))
	}
	return c
}

// SourceParams holds dependencies for creating the source.
type SourceParams struct {
	fx.In

	Config config.Config
	Logger *zap.Logger
}

// SourceResult holds the provided source.
type SourceResult struct {
	fx.Out

	Source source.Source
}

func newSource(p SourceParams) (SourceResult, error) {
	src, err := NewSource(context.Background(), p.Config, p.Logger)
	if err != nil {
		return SourceResult{}, err
	}
	return SourceResult{Source: src}, nil
}

// NewSource builds the source selected by cfg.Source.Kind.
func NewSource(ctx context.Context, cfg config.Config, log *zap.Logger) (source.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceSnapshot:
		return snapshot.Open(ctx, cfg.Source.Snapshot, snapshot.WithLogger(log))

	case config.SourceSIO:
		defs, err := sio.LoadDefinitions(cfg.SIO.Definitions)
		if err != nil {
			return nil, err
		}
		client, err := sio.NewClient(cfg.SIO.Host, cfg.SIO.User, cfg.SIO.Pass,
			sio.WithInsecureSkipVerify(cfg.SIO.Insecure),
			sio.WithTimeout(time.Duration(cfg.SIO.Timeout)*time.Second),
			sio.WithClientLogger(log.Named("sio")),
		)
		if err != nil {
			return nil, err
		}
		opts := []sio.Option{sio.WithLogger(log)}
		if cfg.SIO.InstanceTTL > 0 {
			opts = append(opts, sio.WithInstanceTTL(time.Duration(cfg.SIO.InstanceTTL)*time.Second))
		}
		src, err := sio.New(client, defs, opts...)
		if err != nil {
			return nil, err
		}
		return src, nil

	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

// Params holds dependencies for creating the exporter.
type Params struct {
	fx.In

	Config    config.Config
	Logger    *zap.Logger
	Source    source.Source
	Gatherer  *prometheus.Registry
	Collector stats.Collector
}

// Result holds the provided exporter.
type Result struct {
	fx.Out

	Exporter *sio2prom.Exporter
}

func newExporter(p Params) (Result, error) {
	exp, err := sio2prom.New(
		sio2prom.WithSource(p.Source),
		sio2prom.WithInterval(p.Config.Interval()),
		sio2prom.WithRegistry(p.Gatherer),
		sio2prom.WithStats(p.Collector),
		sio2prom.WithLogger(p.Logger.Named("sio2prom")),
		sio2prom.WithCompression(p.Config.Prom.Compression),
		sio2prom.WithGoCollector(p.Config.Prom.GoCollector),
	)
	if err != nil {
		return Result{}, err
	}
	return Result{Exporter: exp}, nil
}

func newServer(cfg config.Config, exp *sio2prom.Exporter) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Prom.Path, exp.Handler())
	return &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// lifecycleParams holds dependencies for the start and stop hooks.
type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Exporter  *sio2prom.Exporter
	Server    *http.Server
	Logger    *zap.Logger
}

// registerLifecycle seeds the registry on start before anything else runs,
// then starts the scheduler and the listener. A failed seed aborts start, so
// the listener is never bound.
func registerLifecycle(p lifecycleParams) {
	log := p.Logger.Named("server")
	runCtx, cancel := context.WithCancel(context.Background())
	schedulerDone := make(chan struct{})
	serverDone := make(chan struct{})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Exporter.Bootstrap(ctx); err != nil {
				cancel()
				return err
			}

			go func() {
				defer close(schedulerDone)
				p.Exporter.Run(runCtx)
			}()

			ln, err := net.Listen("tcp", p.Server.Addr)
			if err != nil {
				cancel()
				<-schedulerDone
				return fmt.Errorf("listening on %s: %w", p.Server.Addr, err)
			}
			log.Info("starting exporter", zap.String("addr", ln.Addr().String()))

			go func() {
				defer close(serverDone)
				if err := p.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-schedulerDone

			shutdownCtx, done := context.WithTimeout(ctx, ShutdownTimeout)
			defer done()
			err := p.Server.Shutdown(shutdownCtx)
			<-serverDone

			if cerr := p.Exporter.Close(); cerr != nil && !errors.Is(cerr, sio2prom.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
			return err
		},
	})
}
