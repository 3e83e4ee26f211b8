// Package registry holds the metric families created from measurements
// discovered at runtime and routes fresh values to their series.
//
// A family is created once per metric name, with the kind and label names of
// the first measurement registered under that name. Series inside a family are
// created the first time a label-value combination is applied and are never
// removed, so label cardinality reported by the source must be bounded.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ccowart83/sio2prom/internal/measurement"
	"github.com/ccowart83/sio2prom/internal/stats"
)

// Sentinel errors reported per measurement.
var (
	// ErrNotRegistered indicates a measurement whose name has no family.
	ErrNotRegistered = errors.New("registry: metric not registered")

	// ErrKindMismatch indicates a measurement whose kind differs from its family.
	ErrKindMismatch = errors.New("registry: kind mismatch")

	// ErrLabelMismatch indicates a measurement whose label names differ from
	// the label names fixed at registration.
	ErrLabelMismatch = errors.New("registry: label mismatch")

	// ErrNegativeCounter indicates a negative value applied to a counter.
	ErrNegativeCounter = errors.New("registry: negative counter increment")

	// ErrInvalidName indicates a metric or label name the exposition format
	// cannot carry.
	ErrInvalidName = errors.New("registry: invalid name")
)

// Registry owns the counter and gauge families.
// A Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	registerer prometheus.Registerer
	stats      stats.Collector
	logger     *zap.Logger

	mu       sync.RWMutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
}

// Option configures a Registry.
type Option func(*Registry)

// WithRegisterer sets where families are registered for exposition.
// Default is prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(reg *Registry) {
		reg.registerer = r
	}
}

// WithStats sets the stats collector.
func WithStats(c stats.Collector) Option {
	return func(reg *Registry) {
		reg.stats = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(reg *Registry) {
		reg.logger = l
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		registerer: prometheus.DefaultRegisterer,
		stats:      stats.NewNoop(),
		logger:     zap.NewNop(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a family for every measurement whose name is not known yet.
// Names that are already registered are left untouched. A measurement that
// cannot be registered is logged and skipped; the returned error combines
// every such failure and is nil when the whole batch was accepted.
func (r *Registry) Register(ms []measurement.Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for _, m := range ms {
		if err := r.registerLocked(m); err != nil {
			r.logger.Warn("skipping metric registration",
				zap.String("metric", m.Name),
				zap.Stringer("kind", m.Kind),
				zap.Error(err),
			)
			r.stats.IncCounter(stats.MetricRegisterErrors, 1)
			errs = multierr.Append(errs, fmt.Errorf("registering %s: %w", m.Name, err))
		}
	}

	r.logger.Info("loaded metric families",
		zap.Strings("counters", sortedKeys(r.counters)),
		zap.Strings("gauges", sortedKeys(r.gauges)),
	)
	return errs
}

func (r *Registry) registerLocked(m measurement.Measurement) error {
	if _, ok := r.counters[m.Name]; ok {
		return nil
	}
	if _, ok := r.gauges[m.Name]; ok {
		return nil
	}

	labels := m.LabelNames()
	if err := validateNames(m.Name, labels); err != nil {
		return err
	}

	r.logger.Debug("registering metric",
		zap.String("metric", m.Name),
		zap.Strings("labels", labels),
		zap.Stringer("kind", m.Kind),
	)

	switch m.Kind {
	case measurement.Counter:
		vec, err := register(r.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: m.Name,
			Help: m.Help,
		}, labels))
		if err != nil {
			return err
		}
		r.counters[m.Name] = vec
	case measurement.Gauge:
		vec, err := register(r.registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: m.Name,
			Help: m.Help,
		}, labels))
		if err != nil {
			return err
		}
		r.gauges[m.Name] = vec
	default:
		return fmt.Errorf("%w: %s", measurement.ErrUnknownKind, m.Kind)
	}
	return nil
}

// register adds vec to the registerer, adopting an identical collector that
// is already registered there.
func register[T prometheus.Collector](registerer prometheus.Registerer, vec T) (T, error) {
	err := registerer.Register(vec)
	if err == nil {
		return vec, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	var zero T
	return zero, err
}

func validateNames(name string, labels []string) error {
	if !model.LegacyValidation.IsValidMetricName(name) {
		return fmt.Errorf("%w: metric %q", ErrInvalidName, name)
	}
	for _, l := range labels {
		if !model.LegacyValidation.IsValidLabelName(l) {
			return fmt.Errorf("%w: label %q", ErrInvalidName, l)
		}
	}
	return nil
}

// Apply routes each measurement's value to its series: counters are
// incremented by the value, gauges are set to it. Measurements that cannot be
// applied are logged and skipped without interrupting the batch; the returned
// error combines every such failure.
func (r *Registry) Apply(ms []measurement.Measurement) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs error
	for _, m := range ms {
		if err := r.applyLocked(m); err != nil {
			r.logger.Error("skipping metric update",
				zap.String("metric", m.Name),
				zap.Stringer("kind", m.Kind),
				zap.Any("labels", m.Labels),
				zap.Error(err),
			)
			r.stats.IncCounter(stats.MetricApplyErrors, 1)
			errs = multierr.Append(errs, fmt.Errorf("applying %s: %w", m.Name, err))
		}
	}
	return errs
}

func (r *Registry) applyLocked(m measurement.Measurement) error {
	counter, isCounter := r.counters[m.Name]
	gauge, isGauge := r.gauges[m.Name]

	switch {
	case !isCounter && !isGauge:
		return ErrNotRegistered
	case isCounter && m.Kind != measurement.Counter, isGauge && m.Kind != measurement.Gauge:
		return fmt.Errorf("%w: reported %s", ErrKindMismatch, m.Kind)
	}

	labels := prometheus.Labels(m.Labels)
	if labels == nil {
		labels = prometheus.Labels{}
	}

	if isCounter {
		if m.Value < 0 {
			return fmt.Errorf("%w: %g", ErrNegativeCounter, m.Value)
		}
		c, err := counter.GetMetricWith(labels)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLabelMismatch, err)
		}
		c.Add(m.Value)
		return nil
	}

	g, err := gauge.GetMetricWith(labels)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLabelMismatch, err)
	}
	g.Set(m.Value)
	return nil
}

// CounterNames returns the names of all counter families, sorted.
func (r *Registry) CounterNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.counters)
}

// GaugeNames returns the names of all gauge families, sorted.
func (r *Registry) GaugeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.gauges)
}

// Len returns the number of registered families.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.counters) + len(r.gauges)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
