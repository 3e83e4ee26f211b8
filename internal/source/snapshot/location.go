package snapshot

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccowart83/sio2prom/internal/store"
	"github.com/ccowart83/sio2prom/internal/store/diskstore"
	"github.com/ccowart83/sio2prom/internal/store/gcsstore"
	"github.com/ccowart83/sio2prom/internal/store/s3store"
)

// Supported location schemes.
const (
	SchemeFile = "file"
	SchemeS3   = "s3"
	SchemeGCS  = "gs"
)

// Location identifies a snapshot object.
// For files, Bucket is the containing directory and Key the base name.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// String returns the location in URL form.
func (l Location) String() string {
	if l.Scheme == SchemeFile {
		return filepath.Join(l.Bucket, l.Key)
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// ParseLocation parses a snapshot URL. Accepted forms are a bare path,
// file:///path, s3://bucket/key and gs://bucket/key.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("empty snapshot location")
	}
	if !strings.Contains(raw, "://") {
		return fileLocation(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parsing snapshot location: %w", err)
	}

	switch u.Scheme {
	case SchemeFile:
		return fileLocation(u.Path)
	case SchemeS3, SchemeGCS:
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("snapshot location %q needs a bucket and a key", raw)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
	default:
		return Location{}, fmt.Errorf("unsupported snapshot scheme %q", u.Scheme)
	}
}

func fileLocation(path string) (Location, error) {
	if path == "" || strings.HasSuffix(path, "/") {
		return Location{}, fmt.Errorf("snapshot location %q is not a file", path)
	}
	return Location{
		Scheme: SchemeFile,
		Bucket: filepath.Dir(path),
		Key:    filepath.Base(path),
	}, nil
}

// OpenStore returns the store backing l. For file locations the containing
// directory is created when create is true.
func OpenStore(ctx context.Context, l Location, create bool) (store.Store, error) {
	switch l.Scheme {
	case SchemeFile:
		if create {
			if err := os.MkdirAll(l.Bucket, 0755); err != nil {
				return nil, fmt.Errorf("creating snapshot directory: %w", err)
			}
		}
		return diskstore.New(l.Bucket)
	case SchemeS3:
		return s3store.New(ctx, l.Bucket)
	case SchemeGCS:
		return gcsstore.New(ctx, l.Bucket)
	default:
		return nil, fmt.Errorf("unsupported snapshot scheme %q", l.Scheme)
	}
}
