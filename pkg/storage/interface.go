package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("storage: key not found")

	// ErrCorrupt is returned by Get when a stored value fails its
	// integrity check.
	ErrCorrupt = errors.New("storage: value corrupt")
)

// KV is the durable key-value capability the telemetry queue mirrors
// itself into. Implementations: memory (tests, ephemeral processes) and
// badger (on-disk).
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}
