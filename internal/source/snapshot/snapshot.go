// Package snapshot replays measurements from JSON-lines snapshot objects.
//
// A snapshot is read in full on every collection, so an external process can
// replace the object between cycles. Objects whose key ends in a known codec
// extension (".zst", ".gz") are decompressed transparently.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/ccowart83/sio2prom/internal/codec"
	"github.com/ccowart83/sio2prom/internal/codec/gzipcodec"
	"github.com/ccowart83/sio2prom/internal/codec/noopcodec"
	"github.com/ccowart83/sio2prom/internal/codec/zstdcodec"
	"github.com/ccowart83/sio2prom/internal/measurement"
	"github.com/ccowart83/sio2prom/internal/source"
	"github.com/ccowart83/sio2prom/internal/store"
)

// Compile-time check that Source implements source.Source.
var _ source.Source = (*Source)(nil)

// DefaultCodecs are the codecs snapshots may be compressed with, at stronger
// levels than scrape responses use.
var DefaultCodecs = codec.Set{
	zstdcodec.New(zstdcodec.WithLevel(zstd.SpeedBetterCompression)),
	gzipcodec.New(gzipcodec.WithLevel(gzip.BestCompression)),
}

// Source reads measurements from a snapshot object.
type Source struct {
	store  store.Store
	key    string
	codecs codec.Set
	logger *zap.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithCodecs overrides the codecs used to decompress snapshots.
func WithCodecs(codecs codec.Set) Option {
	return func(s *Source) {
		s.codecs = codecs
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// New creates a Source reading key from st. The source owns st and closes it
// on Close.
func New(st store.Store, key string, opts ...Option) *Source {
	s := &Source{
		store:  st,
		key:    key,
		codecs: DefaultCodecs,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("snapshot")
	return s
}

// Open creates a Source for a snapshot URL (see ParseLocation).
func Open(ctx context.Context, rawURL string, opts ...Option) (*Source, error) {
	loc, err := ParseLocation(rawURL)
	if err != nil {
		return nil, err
	}
	st, err := OpenStore(ctx, loc, false)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	return New(st, loc.Key, opts...), nil
}

// Collect reads and decodes the snapshot.
func (s *Source) Collect(ctx context.Context) ([]measurement.Measurement, error) {
	data, err := s.store.ReadObject(ctx, s.key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: snapshot %s not found", source.ErrUnavailable, s.key)
		}
		return nil, fmt.Errorf("%w: %w", source.ErrUnavailable, err)
	}

	ms, err := decodeObject(s.codecs, s.key, data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.key, err)
	}

	s.logger.Debug("snapshot read",
		zap.String("key", s.key),
		zap.Int("bytes", len(data)),
		zap.Int("measurements", len(ms)),
	)
	return ms, nil
}

// Close closes the underlying store.
func (s *Source) Close() error {
	return s.store.Close()
}

// Write encodes ms and stores it under key, compressing with the codec that
// matches the key's extension.
func Write(ctx context.Context, st store.Store, key string, ms []measurement.Measurement) error {
	data, err := encodeObject(DefaultCodecs, key, ms)
	if err != nil {
		return err
	}
	if err := st.WriteObject(ctx, key, data); err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}
	return nil
}

// WriteURL writes ms to a snapshot URL (see ParseLocation).
func WriteURL(ctx context.Context, rawURL string, ms []measurement.Measurement) (err error) {
	loc, err := ParseLocation(rawURL)
	if err != nil {
		return err
	}
	st, err := OpenStore(ctx, loc, true)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return Write(ctx, st, loc.Key, ms)
}

// codecFor returns the codec matching key's extension, or no compression.
func codecFor(codecs codec.Set, key string) codec.Codec {
	if c := codecs.ForPath(key); c != nil {
		return c
	}
	return noopcodec.New()
}

func decodeObject(codecs codec.Set, key string, data []byte) ([]measurement.Measurement, error) {
	r, err := codecFor(codecs, key).Reader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer r.Close()
	return Decode(r)
}

func encodeObject(codecs codec.Set, key string, ms []measurement.Measurement) ([]byte, error) {
	var buf bytes.Buffer
	w, err := codecFor(codecs, key).Writer(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}
	if err := Encode(w, ms); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finishing compression: %w", err)
	}
	return buf.Bytes(), nil
}
