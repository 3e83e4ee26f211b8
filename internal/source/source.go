// Package source defines the contract for systems that report measurements.
package source

import (
	"context"
	"errors"

	"github.com/ccowart83/sio2prom/internal/measurement"
)

// ErrUnavailable indicates the monitored system could not be queried.
var ErrUnavailable = errors.New("source: unavailable")

// Source reports the current measurements of a monitored system.
type Source interface {
	// Collect returns a fresh set of measurements. On any transport or
	// parsing failure it returns an error and no measurements.
	Collect(ctx context.Context) ([]measurement.Measurement, error)
}

// Func adapts a function to the Source interface.
type Func func(ctx context.Context) ([]measurement.Measurement, error)

// Compile-time check that Func implements Source.
var _ Source = Func(nil)

// Collect calls f.
func (f Func) Collect(ctx context.Context) ([]measurement.Measurement, error) {
	return f(ctx)
}
