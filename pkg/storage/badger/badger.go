package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/nicktill/tinymon/pkg/storage"
)

// checksumLen prefixes every stored value with an xxhash of the payload.
const checksumLen = 8

// Storage implements storage.KV using BadgerDB
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = small embedded default).
	// The queue mirror is a single value, so a few MB is plenty.
	MaxMemoryMB int64
}

// New opens a BadgerDB key-value store
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// The host application owns the process; keep the embedded store small.
	// BadgerDB defaults (64 MB memtables, large caches) are sized for servers.
	memTableSize := int64(4 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(2).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024). // snapshots go to the value log; must stay under the batch limit
		WithNumCompactors(2).
		WithValueLogFileSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Get returns the value stored under key after verifying its checksum
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}

	return decodeValue(value)
}

// Set stores value under key with a checksum prefix
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encodeValue(value))
	})
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// Remove deletes key
func (s *Storage) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection. The queue mirror is
// rewritten on every mutation, so old versions pile up in the value log.
// Returns nil when there was nothing to collect.
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func encodeValue(payload []byte) []byte {
	out := make([]byte, checksumLen+len(payload))
	binary.BigEndian.PutUint64(out[:checksumLen], xxhash.Sum64(payload))
	copy(out[checksumLen:], payload)
	return out
}

func decodeValue(raw []byte) ([]byte, error) {
	if len(raw) < checksumLen {
		return nil, storage.ErrCorrupt
	}
	payload := raw[checksumLen:]
	if binary.BigEndian.Uint64(raw[:checksumLen]) != xxhash.Sum64(payload) {
		return nil, storage.ErrCorrupt
	}
	return payload, nil
}
