// Package measurement defines the values a measurement source reports on
// every collection cycle.
package measurement

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownKind indicates a kind string that is neither counter nor gauge.
var ErrUnknownKind = errors.New("measurement: unknown kind")

// Kind is the metric type a measurement is exported as.
type Kind int

const (
	// Counter measurements are added to their series on every apply.
	Counter Kind = iota + 1
	// Gauge measurements overwrite their series on every apply.
	Gauge
)

// ParseKind parses "counter" or "gauge", ignoring case and surrounding space.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "counter":
		return Counter, nil
	case "gauge":
		return Gauge, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k != Counter && k != Gauge {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Measurement is one reported value for one collection cycle.
type Measurement struct {
	Name   string            `json:"name"`
	Kind   Kind              `json:"kind"`
	Help   string            `json:"help"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// LabelNames returns the measurement's label names in canonical order.
// The order is sorted by label name, so it is stable across calls and across
// cycles regardless of the label values reported.
func (m Measurement) LabelNames() []string {
	names := make([]string, 0, len(m.Labels))
	for name := range m.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String formats the measurement for logs.
func (m Measurement) String() string {
	var b strings.Builder
	b.WriteString(m.Name)
	if len(m.Labels) > 0 {
		b.WriteByte('{')
		for i, name := range m.LabelNames() {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%s=%q", name, m.Labels[name])
		}
		b.WriteByte('}')
	}
	fmt.Fprintf(&b, " %s %g", m.Kind, m.Value)
	return b.String()
}
