package registry

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/multierr"

	"github.com/ccowart83/sio2prom/internal/measurement"
	"github.com/ccowart83/sio2prom/internal/stats"
	statsprom "github.com/ccowart83/sio2prom/internal/stats/prometheus"
)

func counter(name string, labels map[string]string, value float64) measurement.Measurement {
	return measurement.Measurement{
		Name:   name,
		Kind:   measurement.Counter,
		Help:   name + " help",
		Labels: labels,
		Value:  value,
	}
}

func gauge(name string, labels map[string]string, value float64) measurement.Measurement {
	m := counter(name, labels, value)
	m.Kind = measurement.Gauge
	return m
}

func newTestRegistry(t *testing.T) (*Registry, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(WithRegisterer(reg)), reg
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	r, reg := newTestRegistry(t)
	m := counter("req_total", map[string]string{"method": "GET"}, 1)

	if err := r.Register([]measurement.Measurement{m}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register([]measurement.Measurement{m}); err != nil {
		t.Fatalf("second Register() error = %v", err)
	}

	if got := r.CounterNames(); !reflect.DeepEqual(got, []string{"req_total"}) {
		t.Errorf("CounterNames() = %v, want [req_total]", got)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	// A second registration under the same name is a no-op even with a
	// different kind or label set.
	other := gauge("req_total", map[string]string{"code": "200"}, 1)
	if err := r.Register([]measurement.Measurement{other}); err != nil {
		t.Fatalf("Register() with conflicting definition error = %v", err)
	}
	if got := r.GaugeNames(); len(got) != 0 {
		t.Errorf("GaugeNames() = %v, want empty", got)
	}

	if err := r.Apply([]measurement.Measurement{m}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if n := testutil.CollectAndCount(r.counters["req_total"]); n != 1 {
		t.Errorf("series count = %d, want 1", n)
	}
	if _, err := reg.Gather(); err != nil {
		t.Errorf("Gather() error = %v", err)
	}
}

func TestRegistry_RegisterSkipsInvalid(t *testing.T) {
	r, _ := newTestRegistry(t)

	bad := []measurement.Measurement{
		counter("", nil, 1),
		counter("bad-name", nil, 1),
		gauge("good_gauge", map[string]string{"bad-label": "x"}, 1),
		{Name: "no_kind", Help: "h"},
	}
	good := gauge("sio_capacity_kb", map[string]string{"system": "a"}, 1)

	err := r.Register(append(bad, good))
	if err == nil {
		t.Fatal("Register() error = nil, want errors for invalid measurements")
	}
	if got := len(multierr.Errors(err)); got != len(bad) {
		t.Errorf("len(errors) = %d, want %d: %v", got, len(bad), err)
	}
	if !errors.Is(err, ErrInvalidName) {
		t.Errorf("errors.Is(err, ErrInvalidName) = false: %v", err)
	}
	if !errors.Is(err, measurement.ErrUnknownKind) {
		t.Errorf("errors.Is(err, ErrUnknownKind) = false: %v", err)
	}

	if got := r.GaugeNames(); !reflect.DeepEqual(got, []string{"sio_capacity_kb"}) {
		t.Errorf("GaugeNames() = %v, want [sio_capacity_kb]", got)
	}
}

func TestRegistry_RegisterConflictWithExternalCollector(t *testing.T) {
	r, reg := newTestRegistry(t)

	// Another collector already owns the name with different labels.
	reg.MustRegister(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taken",
		Help: "taken help",
	}, []string{"other"}))

	err := r.Register([]measurement.Measurement{gauge("taken", map[string]string{"system": "a"}, 1)})
	if err == nil {
		t.Fatal("Register() error = nil, want conflict")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_RegisterAdoptsIdenticalCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := gauge("shared_gauge", map[string]string{"system": "a"}, 7)

	first := New(WithRegisterer(reg))
	if err := first.Register([]measurement.Measurement{m}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	second := New(WithRegisterer(reg))
	if err := second.Register([]measurement.Measurement{m}); err != nil {
		t.Fatalf("Register() on shared registerer error = %v", err)
	}
	if err := second.Apply([]measurement.Measurement{m}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if got := testutil.ToFloat64(first.gauges["shared_gauge"].WithLabelValues("a")); got != 7 {
		t.Errorf("shared gauge = %v, want 7", got)
	}
}

func TestRegistry_CounterAccumulates(t *testing.T) {
	r, _ := newTestRegistry(t)
	labels := map[string]string{"pool": "p1"}
	if err := r.Register([]measurement.Measurement{counter("ops_total", labels, 0)}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	values := []float64{1.5, 2, 0, 10.25}
	var sum float64
	for _, v := range values {
		sum += v
		if err := r.Apply([]measurement.Measurement{counter("ops_total", labels, v)}); err != nil {
			t.Fatalf("Apply(%v) error = %v", v, err)
		}
	}

	if got := testutil.ToFloat64(r.counters["ops_total"].WithLabelValues("p1")); got != sum {
		t.Errorf("counter = %v, want %v", got, sum)
	}
}

func TestRegistry_GaugeOverwrites(t *testing.T) {
	r, _ := newTestRegistry(t)
	labels := map[string]string{"pool": "p1"}
	if err := r.Register([]measurement.Measurement{gauge("used_kb", labels, 0)}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	for _, v := range []float64{100, -3, 42} {
		if err := r.Apply([]measurement.Measurement{gauge("used_kb", labels, v)}); err != nil {
			t.Fatalf("Apply(%v) error = %v", v, err)
		}
	}

	if got := testutil.ToFloat64(r.gauges["used_kb"].WithLabelValues("p1")); got != 42 {
		t.Errorf("gauge = %v, want 42", got)
	}
}

func TestRegistry_LabelIsolation(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Register([]measurement.Measurement{gauge("g", map[string]string{"a": "1"}, 0)}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := r.Apply([]measurement.Measurement{
		gauge("g", map[string]string{"a": "2"}, 20),
		gauge("g", map[string]string{"a": "1"}, 10),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := r.Apply([]measurement.Measurement{gauge("g", map[string]string{"a": "1"}, 11)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if got := testutil.ToFloat64(r.gauges["g"].WithLabelValues("2")); got != 20 {
		t.Errorf("g{a=2} = %v, want 20", got)
	}
	if got := testutil.ToFloat64(r.gauges["g"].WithLabelValues("1")); got != 11 {
		t.Errorf("g{a=1} = %v, want 11", got)
	}
}

func TestRegistry_ApplyErrorsDoNotStopBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := statsprom.New(reg)
	r := New(WithRegisterer(reg), WithStats(collector))

	labels := map[string]string{"pool": "p1"}
	if err := r.Register([]measurement.Measurement{
		counter("ops_total", labels, 0),
		gauge("used_kb", labels, 0),
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := r.Apply([]measurement.Measurement{
		gauge("unknown_metric", labels, 1),
		gauge("used_kb", map[string]string{"other": "x"}, 5),
		gauge("used_kb", map[string]string{"pool": "p1", "extra": "x"}, 5),
		gauge("ops_total", labels, 5),
		counter("ops_total", labels, -1),
		counter("ops_total", labels, 3),
		gauge("used_kb", labels, 9),
	})

	wantErrs := []error{ErrNotRegistered, ErrLabelMismatch, ErrLabelMismatch, ErrKindMismatch, ErrNegativeCounter}
	errs := multierr.Errors(err)
	if len(errs) != len(wantErrs) {
		t.Fatalf("len(errors) = %d, want %d: %v", len(errs), len(wantErrs), err)
	}
	for i, want := range wantErrs {
		if !errors.Is(errs[i], want) {
			t.Errorf("error %d = %v, want %v", i, errs[i], want)
		}
	}

	if got := testutil.ToFloat64(r.counters["ops_total"].WithLabelValues("p1")); got != 3 {
		t.Errorf("ops_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.gauges["used_kb"].WithLabelValues("p1")); got != 9 {
		t.Errorf("used_kb = %v, want 9", got)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (unknown names must not be registered)", r.Len())
	}

	want := `
# HELP sio2prom_apply_errors_total ` + stats.Help(stats.MetricApplyErrors) + `
# TYPE sio2prom_apply_errors_total counter
sio2prom_apply_errors_total 5
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), stats.MetricApplyErrors); err != nil {
		t.Error(err)
	}
}

func TestRegistry_EndToEndExposition(t *testing.T) {
	r, reg := newTestRegistry(t)

	def := measurement.Measurement{
		Name:   "req_total",
		Kind:   measurement.Counter,
		Help:   "Requests.",
		Labels: map[string]string{"method": ""},
	}
	if err := r.Register([]measurement.Measurement{def}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	apply := func(method string, v float64) {
		m := def
		m.Labels = map[string]string{"method": method}
		m.Value = v
		if err := r.Apply([]measurement.Measurement{m}); err != nil {
			t.Fatalf("Apply(%s, %v) error = %v", method, v, err)
		}
	}
	apply("GET", 3)
	apply("GET", 2)
	apply("POST", 1)

	want := `
# HELP req_total Requests.
# TYPE req_total counter
req_total{method="GET"} 5
req_total{method="POST"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "req_total"); err != nil {
		t.Error(err)
	}
}

func TestRegistry_ConcurrentApplyAndGather(t *testing.T) {
	r, reg := newTestRegistry(t)
	labels := map[string]string{"pool": "p1"}
	if err := r.Register([]measurement.Measurement{
		counter("ops_total", labels, 0),
		gauge("used_kb", labels, 0),
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	const writers, readers, iterations = 8, 4, 200

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				_ = r.Apply([]measurement.Measurement{
					counter("ops_total", labels, 1),
					gauge("used_kb", labels, float64(id)),
				})
			}
		}(i)
	}
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				if _, err := reg.Gather(); err != nil {
					t.Errorf("Gather() error = %v", err)
					return
				}
				_ = r.CounterNames()
			}
		}()
	}
	// Registration of new names runs alongside the applies.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < iterations; j++ {
			_ = r.Register([]measurement.Measurement{gauge("late_gauge", labels, 0)})
		}
	}()
	wg.Wait()

	if got := testutil.ToFloat64(r.counters["ops_total"].WithLabelValues("p1")); got != writers*iterations {
		t.Errorf("ops_total = %v, want %d", got, writers*iterations)
	}
	got := testutil.ToFloat64(r.gauges["used_kb"].WithLabelValues("p1"))
	if got < 0 || got >= writers {
		t.Errorf("used_kb = %v, want a value written by one of the writers", got)
	}
}
