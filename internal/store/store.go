// Package store defines the object storage interface measurement snapshots
// are read from and written to.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an object does not exist in the store.
var ErrNotFound = errors.New("store: object not found")

// Store defines the interface for storage backends.
// Implementations handle path formats and storage details internally.
type Store interface {
	// ReadObject reads the raw content of the object stored under key.
	ReadObject(ctx context.Context, key string) ([]byte, error)

	// WriteObject replaces the object stored under key with data.
	WriteObject(ctx context.Context, key string, data []byte) error

	// Close releases any resources held by the store.
	Close() error
}
