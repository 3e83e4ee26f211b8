// Package codec provides compression and decompression for measurement
// snapshots and exposition responses.
package codec

import (
	"io"
	"strconv"
	"strings"
)

// Codec provides compression and decompression functionality.
type Codec interface {
	// Reader wraps r to decompress data read from it.
	Reader(r io.Reader) (io.ReadCloser, error)
	// Writer wraps w to compress data written to it.
	Writer(w io.Writer) (io.WriteCloser, error)
	// Extension returns the file extension without dot (e.g., "zst", "gz").
	// Returns empty string for no compression.
	Extension() string
	// ContentEncoding returns the HTTP content-coding token (e.g., "zstd",
	// "gzip"). Returns empty string for no compression.
	ContentEncoding() string
}

// Set is an ordered list of codecs, most preferred first.
type Set []Codec

// ForPath returns the codec whose extension matches the path suffix, or nil.
func (s Set) ForPath(path string) Codec {
	for _, c := range s {
		if ext := c.Extension(); ext != "" && strings.HasSuffix(path, "."+ext) {
			return c
		}
	}
	return nil
}

// Negotiate returns the first codec in s that the Accept-Encoding header
// value allows, or nil when none is acceptable.
func (s Set) Negotiate(acceptEncoding string) Codec {
	accepted := parseAcceptEncoding(acceptEncoding)
	for _, c := range s {
		enc := c.ContentEncoding()
		if enc == "" {
			continue
		}
		if q, ok := accepted[enc]; ok {
			if q > 0 {
				return c
			}
			continue
		}
		if q, ok := accepted["*"]; ok && q > 0 {
			return c
		}
	}
	return nil
}

// parseAcceptEncoding maps each listed coding to its quality value.
func parseAcceptEncoding(header string) map[string]float64 {
	accepted := make(map[string]float64)
	for _, part := range strings.Split(header, ",") {
		token, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		q := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				q = parsed
			}
		}
		accepted[token] = q
	}
	return accepted
}
