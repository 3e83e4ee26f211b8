// Package diskstore implements a disk-based filesystem storage backend.
package diskstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccowart83/sio2prom/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is a disk-based filesystem storage backend.
// Keys are slash-separated paths relative to the root directory.
type Store struct {
	root string
}

// New creates a new disk store rooted at the given directory.
// The directory must exist.
func New(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	return &Store{root: root}, nil
}

// ReadObject reads the file stored under key.
func (s *Store) ReadObject(ctx context.Context, key string) ([]byte, error) {
	// Check for cancellation before starting I/O.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

// WriteObject writes data to a temporary file and renames it over key, so
// concurrent readers never observe a partial object.
func (s *Store) WriteObject(ctx context.Context, key string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing object: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming object: %w", err)
	}
	return nil
}

// Close releases any resources held by the store.
func (s *Store) Close() error {
	return nil
}

// path returns the filesystem path for key, rejecting keys that escape root.
func (s *Store) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}
