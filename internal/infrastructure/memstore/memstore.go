// Package memstore implements devicecore's repository.ConfigStore
// in-memory, for development and unit tests that don't need a real
// backing store.
package memstore

import (
	"context"
	"sync"

	"github.com/edgeweave/devicecore/internal/domain/repository"
)

// Store is a mutex-guarded in-memory key-value store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: map[string][]byte{}}
}

func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Save(_ context.Context, key string, value []byte, done repository.DoneFunc) {
	s.mu.Lock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	s.mu.Unlock()
	if done != nil {
		done(nil)
	}
}
