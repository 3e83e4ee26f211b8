package sio2prom

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ccowart83/sio2prom/internal/source/snapshot"
	"github.com/ccowart83/sio2prom/internal/stats"
)

// DefaultInterval is the collection interval used when none is set.
const DefaultInterval = time.Minute

// Option configures an Exporter.
type Option interface {
	apply(*options)
}

// options holds the exporter configuration.
type options struct {
	source      Source
	interval    time.Duration
	gatherer    *prometheus.Registry
	stats       stats.Collector
	logger      *zap.Logger
	compression bool
	goCollector bool
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		interval:    DefaultInterval,
		logger:      zap.NewNop(),
		compression: true,
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithSource sets the measurement source.
func WithSource(s Source) Option {
	return optionFunc(func(o *options) {
		o.source = s
	})
}

// WithInterval sets the delay between collection cycles.
// Zero disables periodic collection; only the bootstrap pass runs.
func WithInterval(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.interval = d
	})
}

// WithRegistry sets the Prometheus registry metrics are registered on and
// served from. If not set, a fresh registry is created.
func WithRegistry(r *prometheus.Registry) Option {
	return optionFunc(func(o *options) {
		o.gatherer = r
	})
}

// WithStats sets the self-observability collector.
// If not set, self metrics are registered on the exporter's registry.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// WithCompression enables zstd and gzip response compression for clients
// that accept it. Enabled by default.
func WithCompression(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.compression = enabled
	})
}

// WithGoCollector additionally exports Go runtime and process metrics.
func WithGoCollector(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.goCollector = enabled
	})
}

// WithSnapshot replays measurements from a snapshot URL: a file path,
// file://, s3:// or gs:// location. The snapshot is read on every cycle.
func WithSnapshot(ctx context.Context, rawURL string) (Option, error) {
	src, err := snapshot.Open(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	return WithSource(src), nil
}
