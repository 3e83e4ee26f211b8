// Package memstore provides an in-memory store implementation for testing.
package memstore

import (
	"context"
	"sync"

	"github.com/ccowart83/sio2prom/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is an in-memory store for testing.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
	}
}

// ReadObject returns a copy of the object stored under key.
func (s *Store) ReadObject(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// WriteObject stores a copy of data under key.
func (s *Store) WriteObject(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}
