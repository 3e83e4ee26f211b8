// Package static provides an in-memory measurement source for tests and
// examples.
package static

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/ccowart83/sio2prom/internal/measurement"
	"github.com/ccowart83/sio2prom/internal/source"
)

// Compile-time check that Source implements source.Source.
var _ source.Source = (*Source)(nil)

// Source returns a fixed set of measurements on every collect.
type Source struct {
	mu           sync.RWMutex
	measurements []measurement.Measurement
	err          error

	calls atomic.Int64
}

// New creates a source reporting ms.
func New(ms ...measurement.Measurement) *Source {
	s := &Source{}
	s.Set(ms...)
	return s
}

// Set replaces the reported measurements (for test setup).
// The measurements are copied to prevent caller mutations from affecting the
// source.
func (s *Source) Set(ms ...measurement.Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measurements = copyAll(ms)
}

// SetError makes subsequent collects fail with err. A nil err clears it.
func (s *Source) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Collect returns a copy of the configured measurements.
func (s *Source) Collect(ctx context.Context) ([]measurement.Measurement, error) {
	s.calls.Add(1)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return copyAll(s.measurements), nil
}

// Calls returns how many times Collect was invoked.
func (s *Source) Calls() int64 {
	return s.calls.Load()
}

func copyAll(ms []measurement.Measurement) []measurement.Measurement {
	out := make([]measurement.Measurement, len(ms))
	for i, m := range ms {
		m.Labels = maps.Clone(m.Labels)
		out[i] = m
	}
	return out
}
