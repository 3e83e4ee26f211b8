// Package prometheus provides a Prometheus-based stats collector.
package prometheus

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ccowart83/sio2prom/internal/stats"
)

// Collector implements stats.Collector using Prometheus metrics.
// Metrics are registered on first use.
type Collector struct {
	registry prometheus.Registerer
	buckets  []float64

	mu         sync.RWMutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// Option configures a Collector.
type Option func(*Collector)

// WithBuckets sets the histogram buckets. Default is prometheus.DefBuckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Collector) {
		c.buckets = buckets
	}
}

// New creates a new Prometheus collector.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer, opts ...Option) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	c := &Collector{
		registry:   registry,
		buckets:    prometheus.DefBuckets,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	counter := getOrCreate(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Name: name,
			Help: stats.Help(name),
		})
	})
	counter.Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	gauge := getOrCreate(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name,
			Help: stats.Help(name),
		})
	})
	gauge.Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
func (c *Collector) ObserveHistogram(name string, value float64) {
	histogram := getOrCreate(c, c.histograms, name, func() prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    stats.Help(name),
			Buckets: c.buckets,
		})
	})
	histogram.Observe(value)
}

// getOrCreate returns the metric stored under name in m, creating and
// registering it on first use. If the registry already holds a compatible
// collector under the same descriptor, that collector is reused.
func getOrCreate[T prometheus.Collector](c *Collector, m map[string]T, name string, create func() T) T {
	c.mu.RLock()
	metric, ok := m[name]
	c.mu.RUnlock()
	if ok {
		return metric
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if metric, ok = m[name]; ok {
		return metric
	}

	metric = create()
	if err := c.registry.Register(metric); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				metric = existing
			}
		}
		// Otherwise keep the unregistered metric so callers never see nil.
	}
	m[name] = metric
	return metric
}
