// Package logger provides a stats collector that writes self-observability
// samples to a zap logger. It is useful when nothing scrapes the exporter's
// own metrics, e.g. while debugging a gateway connection.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ccowart83/sio2prom/internal/stats"
)

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// Collector implements stats.Collector by logging every sample. Counters are
// also summed so each entry carries the running total.
type Collector struct {
	logger *zap.Logger
	level  zapcore.Level

	mu     sync.Mutex
	totals map[string]int64
}

// Option configures a Collector.
type Option func(*Collector)

// WithLevel sets the level samples are logged at. Defaults to debug.
func WithLevel(level zapcore.Level) Option {
	return func(c *Collector) {
		c.level = level
	}
}

// New creates a logging collector. A nil logger discards everything.
func New(logger *zap.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger,
		level:  zapcore.DebugLevel,
		totals: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IncCounter logs the increment and the counter's running total.
func (c *Collector) IncCounter(name string, delta int64) {
	c.mu.Lock()
	c.totals[name] += delta
	total := c.totals[name]
	c.mu.Unlock()

	c.write("counter", name, zap.Int64("delta", delta), zap.Int64("total", total))
}

// SetGauge logs a gauge value.
func (c *Collector) SetGauge(name string, value int64) {
	c.write("gauge", name, zap.Int64("value", value))
}

// ObserveHistogram logs a histogram observation.
func (c *Collector) ObserveHistogram(name string, value float64) {
	c.write("histogram", name, zap.Float64("value", value))
}

// Total returns the summed increments of counter name.
func (c *Collector) Total(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[name]
}

func (c *Collector) write(kind, name string, fields ...zap.Field) {
	ce := c.logger.Check(c.level, kind)
	if ce == nil {
		return
	}
	ce.Write(append([]zap.Field{
		zap.String("metric", name),
		zap.String("help", stats.Help(name)),
	}, fields...)...)
}
