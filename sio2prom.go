// Package sio2prom bridges measurements from a monitored storage system into
// Prometheus metrics.
//
// An Exporter seeds its metric registry with one synchronous collection,
// then refreshes it on a fixed-delay schedule while serving the exposition
// endpoint concurrently.
//
// Example usage:
//
//	exp, err := sio2prom.New(
//	    sio2prom.WithSource(src),
//	    sio2prom.WithInterval(time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exp.Close()
//
//	if err := exp.Bootstrap(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	go exp.Run(ctx)
//	http.Handle("/metrics", exp.Handler())
package sio2prom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ccowart83/sio2prom/internal/exposition"
	"github.com/ccowart83/sio2prom/internal/measurement"
	"github.com/ccowart83/sio2prom/internal/registry"
	"github.com/ccowart83/sio2prom/internal/scheduler"
	"github.com/ccowart83/sio2prom/internal/source"
	"github.com/ccowart83/sio2prom/internal/stats"
	statsprom "github.com/ccowart83/sio2prom/internal/stats/prometheus"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrClosed indicates the exporter has been closed.
	ErrClosed = errors.New("sio2prom: exporter closed")

	// ErrNoSource indicates no measurement source was provided.
	ErrNoSource = errors.New("sio2prom: no source provided")
)

// Measurement is one reported value for one collection cycle.
type Measurement = measurement.Measurement

// Source reports the current measurements of a monitored system.
type Source = source.Source

// Exporter owns the metric registry and the components reading and writing
// it. An Exporter is safe for concurrent use by multiple goroutines.
type Exporter struct {
	source    source.Source
	gatherer  *prometheus.Registry
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	handler   *exposition.Handler
	stats     stats.Collector
	logger    *zap.Logger
	closed    atomic.Bool
}

// New creates a new Exporter with the given options.
// A source is required; everything else has a default.
func New(opts ...Option) (*Exporter, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.source == nil {
		return nil, ErrNoSource
	}
	if cfg.interval < 0 {
		return nil, fmt.Errorf("sio2prom: negative interval %v", cfg.interval)
	}

	if cfg.gatherer == nil {
		cfg.gatherer = prometheus.NewRegistry()
	}
	if cfg.goCollector {
		for _, c := range []prometheus.Collector{
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		} {
			if err := cfg.gatherer.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					return nil, fmt.Errorf("registering runtime collector: %w", err)
				}
			}
		}
	}
	if cfg.stats == nil {
		cfg.stats = statsprom.New(cfg.gatherer)
	}

	logger := cfg.logger
	reg := registry.New(
		registry.WithRegisterer(cfg.gatherer),
		registry.WithStats(cfg.stats),
		registry.WithLogger(logger),
	)

	sched := scheduler.New(cfg.source, reg, cfg.interval,
		scheduler.WithStats(cfg.stats),
		scheduler.WithLogger(logger),
	)
	handler := exposition.NewHandler(cfg.gatherer,
		exposition.WithStats(cfg.stats),
		exposition.WithLogger(logger),
		exposition.WithCompression(cfg.compression),
	)

	e := &Exporter{
		source:    cfg.source,
		gatherer:  cfg.gatherer,
		registry:  reg,
		scheduler: sched,
		handler:   handler,
		stats:     cfg.stats,
		logger:    logger,
	}

	e.logger.Debug("exporter initialized",
		zap.Duration("interval", cfg.interval),
		zap.Bool("compression", cfg.compression),
		zap.Bool("goCollector", cfg.goCollector),
	)

	return e, nil
}

// Bootstrap performs the startup pass: one synchronous collect, register
// and apply. A source failure is returned and must abort startup; register
// and apply problems are logged per measurement and do not fail it.
func (e *Exporter) Bootstrap(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}

	ms, err := e.source.Collect(ctx)
	if err != nil {
		e.stats.IncCounter(stats.MetricCollectFailures, 1)
		return fmt.Errorf("initial collection: %w", err)
	}

	start := time.Now()
	if err := e.registry.Register(ms); err != nil {
		e.logger.Warn("some metrics could not be registered", zap.Error(err))
	}
	if err := e.registry.Apply(ms); err != nil {
		e.logger.Warn("some measurements could not be applied", zap.Error(err))
	}
	e.stats.ObserveHistogram(stats.MetricUpdateDuration, time.Since(start).Seconds())

	e.logger.Info("registry seeded",
		zap.Int("measurements", len(ms)),
		zap.Strings("counters", e.registry.CounterNames()),
		zap.Strings("gauges", e.registry.GaugeNames()),
	)
	return nil
}

// Run drives the collection schedule until ctx is canceled. It returns
// immediately when the interval is zero.
func (e *Exporter) Run(ctx context.Context) {
	if e.closed.Load() {
		return
	}
	e.scheduler.Run(ctx)
}

// Handler returns the exposition endpoint.
func (e *Exporter) Handler() http.Handler {
	return e.handler
}

// Gatherer returns the Prometheus registry backing the exposition endpoint.
func (e *Exporter) Gatherer() *prometheus.Registry {
	return e.gatherer
}

// Registry returns the metric registry measurements are applied to.
func (e *Exporter) Registry() *registry.Registry {
	return e.registry
}

// Close releases the source if it holds resources.
// A second Close returns ErrClosed.
func (e *Exporter) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if c, ok := e.source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("closing source: %w", err)
		}
	}
	return nil
}
