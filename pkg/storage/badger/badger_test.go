package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/nicktill/tinymon/pkg/storage"
)

func TestBadgerStorage_SetAndGet(t *testing.T) {
	// Use in-memory mode for tests
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	snapshot := []byte(`[{"id":"a","priority":"high"}]`)

	if err := store.Set(ctx, "tinymon-queue", snapshot); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "tinymon-queue")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(snapshot) {
		t.Errorf("Expected %s, got %s", snapshot, got)
	}
}

func TestBadgerStorage_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// Write to first instance
	{
		store, err := New(Config{Path: dir})
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		if err := store.Set(ctx, "tinymon-queue", []byte(`[1]`)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		store.Close()
	}

	// Read from second instance (reopens same directory)
	{
		store, err := New(Config{Path: dir})
		if err != nil {
			t.Fatalf("Failed to reopen storage: %v", err)
		}
		defer store.Close()

		got, err := store.Get(ctx, "tinymon-queue")
		if err != nil {
			t.Fatalf("Get after reopen failed: %v", err)
		}
		if string(got) != `[1]` {
			t.Errorf("Expected [1], got %s", got)
		}
	}
}

func TestBadgerStorage_NotFoundAndRemove(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	store.Set(ctx, "k", []byte("v"))
	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after Remove, got %v", err)
	}
}

func TestBadgerStorage_DetectsCorruption(t *testing.T) {
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	// Write a raw value that bypasses the checksum envelope
	err = store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("tinymon-queue"), []byte("0123456789not-json"))
	})
	if err != nil {
		t.Fatalf("Raw write failed: %v", err)
	}

	if _, err := store.Get(ctx, "tinymon-queue"); !errors.Is(err, storage.ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", err)
	}

	// Too short to even hold a checksum
	store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("short"), []byte("abc"))
	})
	if _, err := store.Get(ctx, "short"); !errors.Is(err, storage.ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt for short value, got %v", err)
	}
}

func TestEncodeDecodeValue(t *testing.T) {
	payload := []byte(`{"batch":[]}`)
	got, err := decodeValue(encodeValue(payload))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Expected %s, got %s", payload, got)
	}

	empty, err := decodeValue(encodeValue(nil))
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty payload, got %q (%v)", empty, err)
	}
}
