package storage

import (
	"context"
	"sync"
)

type itemKey struct {
	service string
	key     string
}

// MemoryStore is an in-process SecureStore for tests and ephemeral runs
type MemoryStore struct {
	mu    sync.RWMutex
	items map[itemKey][]byte
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[itemKey][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, service, key string) ([]byte, error) {
	if err := validateItemKey(service, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[itemKey{service, key}]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Set(_ context.Context, service, key string, value []byte) error {
	if err := validateItemKey(service, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[itemKey{service, key}] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, service, key string) error {
	if err := validateItemKey(service, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, itemKey{service, key})
	return nil
}

// Dump returns a copy of every stored value keyed by "service/key"
func (s *MemoryStore) Dump() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte, len(s.items))
	for k, v := range s.items {
		out[k.service+"/"+k.key] = append([]byte(nil), v...)
	}
	return out
}

var _ SecureStore = (*MemoryStore)(nil)
