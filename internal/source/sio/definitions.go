package sio

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/prometheus/common/model"
	"go.uber.org/multierr"

	"github.com/ccowart83/sio2prom/internal/measurement"
)

// SystemType is the ScaleIO type whose statistics describe the whole cluster.
const SystemType = "System"

// Bandwidth-counter fields. FieldIOPS and FieldBandwidth are derived from the
// raw counter fields.
const (
	FieldNumOccured      = "numOccured"
	FieldNumSeconds      = "numSeconds"
	FieldTotalWeightInKb = "totalWeightInKb"
	FieldIOPS            = "iops"
	FieldBandwidth       = "bandwidth"
)

// ErrInvalidDefinition indicates a metric definition that cannot be used.
var ErrInvalidDefinition = errors.New("sio: invalid metric definition")

//go:embed metrics.json
var defaultDefinitions []byte

// Definition maps one ScaleIO statistic to an exported metric.
type Definition struct {
	// Type is the ScaleIO type, e.g. "System", "Sds", "Volume".
	Type string `json:"type"`
	// Property is the statistic name as known to the gateway.
	Property string `json:"property"`
	// Field selects a value inside a bandwidth-counter object. Empty for
	// plain numeric properties.
	Field string `json:"field,omitempty"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Help  string `json:"help,omitempty"`
}

// Definitions is a validated set of metric definitions.
type Definitions struct {
	Metrics []Definition `json:"metrics"`
}

// DefaultDefinitions returns the built-in definitions.
func DefaultDefinitions() (Definitions, error) {
	return ParseDefinitions(bytes.NewReader(defaultDefinitions))
}

// LoadDefinitions reads definitions from a JSON file. An empty path returns
// the built-in definitions.
func LoadDefinitions(path string) (Definitions, error) {
	if path == "" {
		return DefaultDefinitions()
	}
	f, err := os.Open(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("opening metric definitions: %w", err)
	}
	defer f.Close()
	return ParseDefinitions(f)
}

// ParseDefinitions decodes and validates definitions.
func ParseDefinitions(r io.Reader) (Definitions, error) {
	var defs Definitions
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&defs); err != nil {
		return Definitions{}, fmt.Errorf("decoding metric definitions: %w", err)
	}
	if err := defs.Validate(); err != nil {
		return Definitions{}, err
	}
	return defs, nil
}

// Validate checks every definition and reports all problems at once.
func (d Definitions) Validate() error {
	if len(d.Metrics) == 0 {
		return fmt.Errorf("%w: no metrics defined", ErrInvalidDefinition)
	}

	var errs error
	seen := make(map[string]string, len(d.Metrics))
	for i, def := range d.Metrics {
		if err := def.validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("metric %d (%s): %w", i, def.Name, err))
			continue
		}
		// One family has one label set, so a name may not span System and
		// instance types.
		if prev, ok := seen[def.Name]; ok && (prev == SystemType) != (def.Type == SystemType) {
			errs = multierr.Append(errs, fmt.Errorf("metric %d (%s): %w: name used for %s and %s",
				i, def.Name, ErrInvalidDefinition, prev, def.Type))
			continue
		}
		seen[def.Name] = def.Type
	}
	return errs
}

func (def Definition) validate() error {
	switch {
	case def.Type == "":
		return fmt.Errorf("%w: missing type", ErrInvalidDefinition)
	case def.Property == "":
		return fmt.Errorf("%w: missing property", ErrInvalidDefinition)
	case !model.LegacyValidation.IsValidMetricName(def.Name):
		return fmt.Errorf("%w: invalid name %q", ErrInvalidDefinition, def.Name)
	}
	if _, err := measurement.ParseKind(def.Kind); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	switch def.Field {
	case "", FieldNumOccured, FieldNumSeconds, FieldTotalWeightInKb, FieldIOPS, FieldBandwidth:
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidDefinition, def.Field)
	}
	return nil
}

// Types returns the distinct ScaleIO types referenced, sorted.
func (d Definitions) Types() []string {
	set := make(map[string]struct{})
	for _, def := range d.Metrics {
		set[def.Type] = struct{}{}
	}
	types := make([]string, 0, len(set))
	for t := range set {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Properties returns the distinct properties referenced for typ, sorted.
func (d Definitions) Properties(typ string) []string {
	set := make(map[string]struct{})
	for _, def := range d.Metrics {
		if def.Type == typ {
			set[def.Property] = struct{}{}
		}
	}
	props := make([]string, 0, len(set))
	for p := range set {
		props = append(props, p)
	}
	sort.Strings(props)
	return props
}

func (def Definition) help() string {
	if def.Help != "" {
		return def.Help
	}
	if def.Field != "" {
		return fmt.Sprintf("ScaleIO %s %s %s", def.Type, def.Property, def.Field)
	}
	return fmt.Sprintf("ScaleIO %s %s", def.Type, def.Property)
}
