package memory

import (
	"context"
	"sync"

	"github.com/nicktill/tinymon/pkg/storage"
)

// Storage keeps values in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	values map[string][]byte
	mu     sync.RWMutex

	// failWrites makes Set fail, for exercising degraded operation.
	failWrites error
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		values: make(map[string][]byte),
	}
}

// Get returns a copy of the stored value
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWrites != nil {
		return s.failWrites
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.values[key] = v
	return nil
}

// Remove deletes key
func (s *Storage) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Close is a no-op for in-memory storage
func (s *Storage) Close() error {
	return nil
}

// FailWrites makes every subsequent Set return err. Pass nil to restore.
func (s *Storage) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

// Len returns the number of stored keys
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
