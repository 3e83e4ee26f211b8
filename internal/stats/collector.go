// Package stats provides a unified interface for the exporter's metrics about
// itself.
package stats

// Metric names used throughout the exporter.
const (
	// Scheduler metrics.
	MetricUpdateDuration  = "sio2prom_update_duration_seconds"
	MetricCollectFailures = "sio2prom_collect_failures_total"

	// Registry metrics.
	MetricRegisterErrors = "sio2prom_register_errors_total"
	MetricApplyErrors    = "sio2prom_apply_errors_total"

	// Exposition metrics.
	MetricHTTPResponseSize    = "sio2prom_http_response_size_bytes"
	MetricHTTPRequestDuration = "sio2prom_http_request_duration_seconds"
)

var help = map[string]string{
	MetricUpdateDuration:      "The time in seconds it took to collect the ScaleIO stats",
	MetricCollectFailures:     "Number of collection cycles skipped because the source failed.",
	MetricRegisterErrors:      "Number of measurements that could not be registered as metric families.",
	MetricApplyErrors:         "Number of measurements that could not be applied to a registered family.",
	MetricHTTPResponseSize:    "The HTTP response sizes in bytes.",
	MetricHTTPRequestDuration: "The HTTP request latencies in seconds.",
}

// Help returns the help text for a known metric name, or the name itself.
func Help(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}

// Noop discards every sample. Components built without a collector use it.
type Noop struct{}

var _ Collector = (*Noop)(nil)

// NewNoop returns a collector that records nothing.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) IncCounter(string, int64)         {}
func (*Noop) SetGauge(string, int64)           {}
func (*Noop) ObserveHistogram(string, float64) {}
