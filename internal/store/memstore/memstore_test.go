package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/ccowart83/sio2prom/internal/store"
)

func TestStore_ReadWrite(t *testing.T) {
	s := New()
	ctx := context.Background()

	data := []byte("snapshot")
	if err := s.WriteObject(ctx, "a.jsonl", data); err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}
	data[0] = 'X'

	got, err := s.ReadObject(ctx, "a.jsonl")
	if err != nil {
		t.Fatalf("ReadObject() error = %v", err)
	}
	if string(got) != "snapshot" {
		t.Errorf("ReadObject() = %q, want %q", got, "snapshot")
	}

	if _, err := s.ReadObject(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ReadObject(missing) error = %v, want ErrNotFound", err)
	}
}
