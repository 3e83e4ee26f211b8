package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ccowart83/sio2prom/internal/measurement"
	"github.com/ccowart83/sio2prom/internal/source"
	"github.com/ccowart83/sio2prom/internal/source/static"
	"github.com/ccowart83/sio2prom/internal/stats"
	statsprom "github.com/ccowart83/sio2prom/internal/stats/prometheus"
)

// recordingApplier records every batch it receives.
type recordingApplier struct {
	mu      sync.Mutex
	batches [][]measurement.Measurement
}

func (a *recordingApplier) Apply(ms []measurement.Measurement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, ms)
	return nil
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batches)
}

func TestScheduler_ZeroIntervalDisabled(t *testing.T) {
	src := static.New()
	applier := &recordingApplier{}
	s := New(src, applier, 0)

	if s.Enabled() {
		t.Error("Enabled() = true, want false for zero interval")
	}

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return for a disabled scheduler")
	}

	time.Sleep(50 * time.Millisecond)
	if src.Calls() != 0 {
		t.Errorf("source called %d times, want 0", src.Calls())
	}
	if applier.count() != 0 {
		t.Errorf("applier called %d times, want 0", applier.count())
	}
}

func TestScheduler_RunsCyclesUntilCanceled(t *testing.T) {
	src := static.New(measurement.Measurement{Name: "g", Kind: measurement.Gauge, Value: 1})
	applier := &recordingApplier{}
	s := New(src, applier, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for applier.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if applier.count() < 3 {
		t.Errorf("applier called %d times, want at least 3", applier.count())
	}
	if int64(applier.count()) != src.Calls() {
		t.Errorf("applies = %d, collects = %d, want equal", applier.count(), src.Calls())
	}
}

func TestScheduler_WaitsIntervalBeforeFirstCycle(t *testing.T) {
	src := static.New(measurement.Measurement{Name: "g", Kind: measurement.Gauge, Value: 1})
	applier := &recordingApplier{}
	s := New(src, applier, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if src.Calls() != 0 {
		t.Errorf("source called %d times before the first interval elapsed, want 0", src.Calls())
	}
	if applier.count() != 0 {
		t.Errorf("applier called %d times, want 0", applier.count())
	}
}

func TestScheduler_CanceledCollectIsNotAFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	src := source.Func(func(ctx context.Context) ([]measurement.Measurement, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	applier := &recordingApplier{}
	s := New(src, applier, time.Minute, WithStats(statsprom.New(reg)))

	s.Cycle(ctx)

	if applier.count() != 0 {
		t.Errorf("applier called %d times, want 0", applier.count())
	}
	n, err := testutil.GatherAndCount(reg, stats.MetricCollectFailures)
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 0 {
		t.Errorf("%s series = %d, want 0", stats.MetricCollectFailures, n)
	}
}

func TestScheduler_SourceFailureSkipsApply(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := static.New()
	src.SetError(source.ErrUnavailable)
	applier := &recordingApplier{}
	s := New(src, applier, time.Minute, WithStats(statsprom.New(reg)))

	s.Cycle(context.Background())
	s.Cycle(context.Background())

	if applier.count() != 0 {
		t.Errorf("applier called %d times, want 0", applier.count())
	}

	want := `
# HELP sio2prom_collect_failures_total ` + stats.Help(stats.MetricCollectFailures) + `
# TYPE sio2prom_collect_failures_total counter
sio2prom_collect_failures_total 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), stats.MetricCollectFailures); err != nil {
		t.Error(err)
	}
}

func TestScheduler_CycleObservesApplyDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := static.New(measurement.Measurement{Name: "g", Kind: measurement.Gauge, Value: 1})
	applier := &recordingApplier{}
	s := New(src, applier, time.Minute, WithStats(statsprom.New(reg)))

	s.Cycle(context.Background())

	if applier.count() != 1 {
		t.Fatalf("applier called %d times, want 1", applier.count())
	}
	n, err := testutil.GatherAndCount(reg, stats.MetricUpdateDuration)
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("%s series = %d, want 1", stats.MetricUpdateDuration, n)
	}
}

func TestScheduler_ApplyErrorDoesNotStopLoop(t *testing.T) {
	src := static.New(measurement.Measurement{Name: "g", Kind: measurement.Gauge, Value: 1})
	var calls int
	var mu sync.Mutex
	applier := applierFunc(func(ms []measurement.Measurement) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("registry: metric not registered")
	})
	s := New(src, applier, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Errorf("apply called %d times, want at least 2", calls)
	}
}

type applierFunc func(ms []measurement.Measurement) error

func (f applierFunc) Apply(ms []measurement.Measurement) error { return f(ms) }
