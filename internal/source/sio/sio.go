// Package sio implements a measurement source backed by the ScaleIO REST
// gateway.
//
// Each collection lists the instances of every type referenced by the metric
// definitions (cached for InstanceTTL), queries the selected statistics in a
// single request and maps every value to a measurement. System statistics
// carry a "system" label; instance statistics add "id" and "name".
package sio

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ccowart83/sio2prom/internal/measurement"
	"github.com/ccowart83/sio2prom/internal/source"
)

// Label names attached to ScaleIO measurements.
const (
	LabelSystem = "system"
	LabelID     = "id"
	LabelName   = "name"
)

// DefaultInstanceTTL is how long instance listings are reused.
const DefaultInstanceTTL = 5 * time.Minute

// Compile-time check that Source implements source.Source.
var _ source.Source = (*Source)(nil)

// Gateway is the subset of the gateway API the source needs.
type Gateway interface {
	Instances(ctx context.Context, typ string) ([]Instance, error)
	QueryStatistics(ctx context.Context, queries []StatisticsQuery) (Statistics, error)
}

// Source collects measurements from a ScaleIO gateway.
type Source struct {
	gateway   Gateway
	defs      Definitions
	kinds     []measurement.Kind // parallel to defs.Metrics
	instances *expirable.LRU[string, []Instance]
	logger    *zap.Logger
}

// Option configures a Source.
type Option func(*settings)

type settings struct {
	ttl    time.Duration
	logger *zap.Logger
}

// WithInstanceTTL sets how long instance listings are cached.
func WithInstanceTTL(ttl time.Duration) Option {
	return func(s *settings) {
		s.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// New creates a Source. It fails with ErrInvalidDefinition if defs does not
// validate.
func New(gw Gateway, defs Definitions, opts ...Option) (*Source, error) {
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	kinds := make([]measurement.Kind, len(defs.Metrics))
	for i, def := range defs.Metrics {
		kind, err := measurement.ParseKind(def.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, def.Name, err)
		}
		kinds[i] = kind
	}

	set := settings{
		ttl:    DefaultInstanceTTL,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&set)
	}

	types := defs.Types()
	return &Source{
		gateway:   gw,
		defs:      defs,
		kinds:     kinds,
		instances: expirable.NewLRU[string, []Instance](len(types)+1, nil, set.ttl),
		logger:    set.logger.Named("sio"),
	}, nil
}

// Collect queries the gateway and returns one measurement per definition and
// instance. Any transport or decoding failure fails the whole collection.
func (s *Source) Collect(ctx context.Context) ([]measurement.Measurement, error) {
	instances, err := s.listInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing instances: %w", source.ErrUnavailable, err)
	}

	system := systemLabel(instances[SystemType])

	types := s.defs.Types()
	queries := make([]StatisticsQuery, 0, len(types))
	for _, typ := range types {
		queries = append(queries, StatisticsQuery{
			Type:       typ,
			AllIDs:     []string{},
			Properties: s.defs.Properties(typ),
		})
	}

	stats, err := s.gateway.QueryStatistics(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("%w: querying statistics: %w", source.ErrUnavailable, err)
	}

	var ms []measurement.Measurement
	for _, typ := range types {
		raw, ok := stats[typ]
		if !ok {
			s.logger.Warn("no statistics returned for type", zap.String("type", typ))
			continue
		}
		typed, err := s.measure(typ, raw, system, instances[typ])
		if err != nil {
			return nil, fmt.Errorf("decoding %s statistics: %w", typ, err)
		}
		ms = append(ms, typed...)
	}

	s.logger.Debug("collected", zap.Int("measurements", len(ms)), zap.String("system", system))
	return ms, nil
}

// listInstances returns the instances of every referenced type, including
// System, fetching uncached listings concurrently.
func (s *Source) listInstances(ctx context.Context) (map[string][]Instance, error) {
	types := s.defs.Types()
	if !slices.Contains(types, SystemType) {
		types = append(types, SystemType)
	}

	result := make(map[string][]Instance, len(types))
	fetched := make([][]Instance, len(types))

	g, gctx := errgroup.WithContext(ctx)
	for i, typ := range types {
		if cached, ok := s.instances.Get(typ); ok {
			result[typ] = cached
			continue
		}
		g.Go(func() error {
			list, err := s.gateway.Instances(gctx, typ)
			if err != nil {
				return fmt.Errorf("%s: %w", typ, err)
			}
			fetched[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, typ := range types {
		if _, ok := result[typ]; ok {
			continue
		}
		list := fetched[i]
		if list == nil {
			list = []Instance{}
		}
		s.instances.Add(typ, list)
		result[typ] = list
	}
	return result, nil
}

func (s *Source) measure(typ string, raw json.RawMessage, system string, instances []Instance) ([]measurement.Measurement, error) {
	if typ == SystemType {
		var props map[string]json.RawMessage
		if err := json.Unmarshal(raw, &props); err != nil {
			return nil, err
		}
		labels := map[string]string{LabelSystem: system}
		return s.measureProperties(typ, props, labels)
	}

	var byID map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(instances))
	for _, inst := range instances {
		names[inst.ID] = inst.Name
	}

	var ms []measurement.Measurement
	stale := false
	for _, id := range slices.Sorted(maps.Keys(byID)) {
		props := byID[id]
		name, ok := names[id]
		if !ok {
			stale = true
			name = id
		}
		labels := map[string]string{LabelSystem: system, LabelID: id, LabelName: name}
		typed, err := s.measureProperties(typ, props, labels)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", id, err)
		}
		ms = append(ms, typed...)
	}
	if stale {
		// A new instance appeared since the listing was cached.
		s.instances.Remove(typ)
	}
	return ms, nil
}

func (s *Source) measureProperties(typ string, props map[string]json.RawMessage, labels map[string]string) ([]measurement.Measurement, error) {
	var ms []measurement.Measurement
	for i, def := range s.defs.Metrics {
		if def.Type != typ {
			continue
		}
		raw, ok := props[def.Property]
		if !ok || string(raw) == "null" {
			continue
		}
		value, err := extract(raw, def.Field)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", def.Property, err)
		}
		m := measurement.Measurement{
			Name:   def.Name,
			Kind:   s.kinds[i],
			Help:   def.help(),
			Labels: maps.Clone(labels),
			Value:  value,
		}
		ms = append(ms, m)
	}
	return ms, nil
}

// bwc is a ScaleIO bandwidth counter: operations and KiB transferred over a
// sampling window.
type bwc struct {
	NumOccured      float64 `json:"numOccured"`
	NumSeconds      float64 `json:"numSeconds"`
	TotalWeightInKb float64 `json:"totalWeightInKb"`
}

func extract(raw json.RawMessage, field string) (float64, error) {
	if field == "" {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, fmt.Errorf("expected number: %w", err)
		}
		return v, nil
	}

	var c bwc
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0, fmt.Errorf("expected bandwidth counter: %w", err)
	}
	switch field {
	case FieldNumOccured:
		return c.NumOccured, nil
	case FieldNumSeconds:
		return c.NumSeconds, nil
	case FieldTotalWeightInKb:
		return c.TotalWeightInKb, nil
	case FieldIOPS:
		if c.NumSeconds == 0 {
			return 0, nil
		}
		return c.NumOccured / c.NumSeconds, nil
	case FieldBandwidth:
		if c.NumSeconds == 0 {
			return 0, nil
		}
		return c.TotalWeightInKb / c.NumSeconds, nil
	default:
		return 0, fmt.Errorf("unknown field %q", field)
	}
}

func systemLabel(systems []Instance) string {
	if len(systems) == 0 {
		return ""
	}
	if systems[0].Name != "" {
		return systems[0].Name
	}
	return systems[0].ID
}
