// Package scheduler runs the periodic collection cycle: wait a fixed
// interval, collect from the source, apply to the registry.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ccowart83/sio2prom/internal/measurement"
	"github.com/ccowart83/sio2prom/internal/source"
	"github.com/ccowart83/sio2prom/internal/stats"
)

// Applier receives the measurements of each successful cycle.
type Applier interface {
	Apply(ms []measurement.Measurement) error
}

// Scheduler drives collection cycles with a fixed delay between them.
type Scheduler struct {
	source   source.Source
	applier  Applier
	interval time.Duration
	stats    stats.Collector
	logger   *zap.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStats sets the stats collector.
func WithStats(c stats.Collector) Option {
	return func(s *Scheduler) { s.stats = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a Scheduler. A zero interval disables it.
func New(src source.Source, applier Applier, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   src,
		applier:  applier,
		interval: interval,
		stats:    stats.NewNoop(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether Run performs any cycles.
func (s *Scheduler) Enabled() bool {
	return s.interval > 0
}

// Run performs collection cycles until ctx is done. It returns immediately
// when the scheduler is disabled. The first cycle starts one interval after
// Run is called; the caller performs the startup pass itself.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("scheduled metric update disabled")
		return
	}

	s.logger.Info("starting scheduler", zap.Duration("interval", s.interval))

	for {
		// Fixed delay: the next cycle starts interval after the last one ended.
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
		}

		s.Cycle(ctx)
	}
}

// Cycle performs a single collection cycle. A source failure skips the
// apply entirely. A collect interrupted by ctx is not counted as a failure.
func (s *Scheduler) Cycle(ctx context.Context) {
	s.logger.Info("starting scheduled metric update")

	ms, err := s.source.Collect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("scheduled metric update canceled", zap.Error(err))
			return
		}
		s.logger.Error("skipping scheduled metric update", zap.Error(err))
		s.stats.IncCounter(stats.MetricCollectFailures, 1)
		return
	}

	start := time.Now()
	// Per-measurement failures are logged by the applier.
	_ = s.applier.Apply(ms)
	elapsed := time.Since(start)

	s.stats.ObserveHistogram(stats.MetricUpdateDuration, elapsed.Seconds())
	s.logger.Debug("metric update done",
		zap.Int("measurements", len(ms)),
		zap.Duration("elapsed", elapsed),
	)
}
