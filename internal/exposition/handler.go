// Package exposition serves the registered metric families over HTTP in the
// Prometheus exposition format.
package exposition

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/ccowart83/sio2prom/internal/codec"
	"github.com/ccowart83/sio2prom/internal/codec/gzipcodec"
	"github.com/ccowart83/sio2prom/internal/codec/zstdcodec"
	"github.com/ccowart83/sio2prom/internal/stats"
)

// Handler serializes every family of a gatherer on each request.
// A Handler is safe for concurrent use.
type Handler struct {
	gatherer prometheus.Gatherer
	codecs   codec.Set
	stats    stats.Collector
	logger   *zap.Logger
}

// Compile-time check that Handler implements http.Handler.
var _ http.Handler = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithStats sets the stats collector.
func WithStats(c stats.Collector) Option {
	return func(h *Handler) { h.stats = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithCompression enables or disables response compression.
// Compression is enabled by default, preferring zstd over gzip.
func WithCompression(enabled bool) Option {
	return func(h *Handler) {
		if enabled {
			h.codecs = defaultCodecs()
		} else {
			h.codecs = nil
		}
	}
}

func defaultCodecs() codec.Set {
	return codec.Set{zstdcodec.New(), gzipcodec.New()}
}

// NewHandler creates a Handler serving the families of g.
func NewHandler(g prometheus.Gatherer, opts ...Option) *Handler {
	h := &Handler{
		gatherer: g,
		codecs:   defaultCodecs(),
		stats:    stats.NewNoop(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP writes the exposition body. If the families cannot be gathered
// or encoded, the error is logged and the response is completed without a
// body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	format := expfmt.Negotiate(r.Header)
	body, err := h.encode(format)
	if err != nil {
		h.logger.Error("encoder problem", zap.Error(err))
		return
	}

	// The size gauge reports the encoded exposition, not the bytes on the wire.
	size := len(body)

	header := w.Header()
	header.Set("Content-Type", string(format))
	header.Add("Vary", "Accept-Encoding")

	if c := h.codecs.Negotiate(r.Header.Get("Accept-Encoding")); c != nil {
		compressed, err := compress(c, body)
		if err != nil {
			h.logger.Warn("compressing response, sending identity", zap.Error(err))
		} else {
			header.Set("Content-Encoding", c.ContentEncoding())
			body = compressed
		}
	}

	if _, err := w.Write(body); err != nil {
		h.logger.Error("sending response", zap.Error(err))
	}

	h.stats.ObserveHistogram(stats.MetricHTTPRequestDuration, time.Since(start).Seconds())
	h.stats.SetGauge(stats.MetricHTTPResponseSize, int64(size))
}

func (h *Handler) encode(format expfmt.Format) ([]byte, error) {
	families, err := h.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		if err := closer.Close(); err != nil {
			return nil, fmt.Errorf("closing encoder: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func compress(c codec.Codec, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.Writer(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
