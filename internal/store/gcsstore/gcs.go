// Package gcsstore implements a Google Cloud Storage backend.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/ccowart83/sio2prom/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is a Google Cloud Storage backend.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// New creates a new GCS store.
// The bucket must already exist.
func New(ctx context.Context, bucketName string, opts ...Option) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	s := &Store{
		client: client,
		bucket: client.Bucket(bucketName),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets a key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = strings.Trim(prefix, "/")
		if s.prefix != "" {
			s.prefix += "/"
		}
	}
}

// ReadObject reads the content of the object stored under key.
func (s *Store) ReadObject(ctx context.Context, key string) ([]byte, error) {
	// Check for cancellation before starting.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	reader, err := s.bucket.Object(s.objectKey(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("creating reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

// WriteObject uploads data under key, replacing any existing object.
func (s *Store) WriteObject(ctx context.Context, key string, data []byte) error {
	w := s.bucket.Object(s.objectKey(key)).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing object: %w", err)
	}
	return nil
}

// Close releases resources.
func (s *Store) Close() error {
	return s.client.Close()
}

// objectKey returns the full object name for key.
func (s *Store) objectKey(key string) string {
	return s.prefix + strings.TrimPrefix(key, "/")
}
