// Package gzipcodec provides a gzip compression codec.
package gzipcodec

import (
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/ccowart83/sio2prom/internal/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec implements gzip compression.
type Codec struct {
	level int
}

// Option configures a Codec.
type Option func(*Codec)

// WithLevel sets the compression level (gzip.BestSpeed..gzip.BestCompression).
// Defaults to gzip.BestSpeed.
func WithLevel(level int) Option {
	return func(c *Codec) {
		c.level = level
	}
}

// New returns a gzip codec.
func New(opts ...Option) *Codec {
	c := &Codec{level: gzip.BestSpeed}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reader wraps r to decompress gzip data.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// Writer wraps w to compress data at the configured level. An invalid level
// is reported here rather than at New.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, c.level)
}

// Extension returns "gz".
func (c *Codec) Extension() string {
	return "gz"
}

// ContentEncoding returns "gzip".
func (c *Codec) ContentEncoding() string {
	return "gzip"
}
