// Package noopcodec provides the identity codec, used for uncompressed
// snapshot objects.
package noopcodec

import (
	"io"

	"github.com/ccowart83/sio2prom/internal/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec passes data through unchanged. It has no extension and no content
// encoding, so codec.Set never selects it.
type Codec struct{}

// New returns the identity codec.
func New() *Codec {
	return &Codec{}
}

// Reader returns r. Closing the result closes r if r is an io.Closer.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	if rc, ok := r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r), nil
}

// Writer returns w. Closing the result leaves w open.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return passthrough{w}, nil
}

// Extension returns "".
func (c *Codec) Extension() string { return "" }

// ContentEncoding returns "".
func (c *Codec) ContentEncoding() string { return "" }

type passthrough struct {
	io.Writer
}

func (passthrough) Close() error { return nil }
