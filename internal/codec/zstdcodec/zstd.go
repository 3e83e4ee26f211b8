// Package zstdcodec provides a zstd compression codec.
package zstdcodec

import (
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/ccowart83/sio2prom/internal/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec implements zstd compression.
type Codec struct {
	level zstd.EncoderLevel
}

// Option configures a Codec.
type Option func(*Codec)

// WithLevel sets the encoder level. Defaults to zstd.SpeedFastest.
func WithLevel(level zstd.EncoderLevel) Option {
	return func(c *Codec) {
		c.level = level
	}
}

// New returns a zstd codec.
func New(opts ...Option) *Codec {
	c := &Codec{level: zstd.SpeedFastest}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reader wraps r to decompress zstd data using a single decoder goroutine.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// Writer wraps w to compress data at the configured level.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(c.level), zstd.WithEncoderConcurrency(1))
}

// Extension returns "zst".
func (c *Codec) Extension() string {
	return "zst"
}

// ContentEncoding returns "zstd".
func (c *Codec) ContentEncoding() string {
	return "zstd"
}
