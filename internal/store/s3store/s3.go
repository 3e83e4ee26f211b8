// Package s3store implements an AWS S3 storage backend.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ccowart83/sio2prom/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is an AWS S3 storage backend.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

type settings struct {
	prefix   string
	region   string
	endpoint string
}

// Option configures a Store.
type Option func(*settings)

// WithPrefix sets a key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(s *settings) {
		s.prefix = normalizePrefix(prefix)
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(s *settings) {
		s.region = region
	}
}

// WithEndpoint sets a custom endpoint (for S3-compatible services like MinIO).
func WithEndpoint(endpoint string) Option {
	return func(s *settings) {
		s.endpoint = endpoint
	}
}

// New creates a new S3 store.
// The bucket must already exist.
func New(ctx context.Context, bucketName string, opts ...Option) (*Store, error) {
	var set settings
	for _, opt := range opts {
		opt(&set)
	}

	var loadOpts []func(*config.LoadOptions) error
	if set.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(set.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if set.endpoint != "" {
			o.BaseEndpoint = aws.String(set.endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client: client,
		bucket: bucketName,
		prefix: set.prefix,
	}, nil
}

// ReadObject reads the content of the object stored under key.
func (s *Store) ReadObject(ctx context.Context, key string) ([]byte, error) {
	// Check for cancellation before starting.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading object: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object body: %w", err)
	}
	return data, nil
}

// WriteObject uploads data under key, replacing any existing object.
func (s *Store) WriteObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	return nil
}

// Close releases resources.
func (s *Store) Close() error {
	// S3 client doesn't need explicit closing.
	return nil
}

// objectKey returns the full object key for key.
func (s *Store) objectKey(key string) string {
	return s.prefix + strings.TrimPrefix(key, "/")
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
