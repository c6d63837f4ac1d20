package coordination

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and by single-node
// deployments where no shared coordination backend is configured. It
// provides the same create/CAS semantics as the NATS KV backend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	nextRev uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	v := make([]byte, len(e.Value))
	copy(v, e.Value)
	return &Entry{Value: v, Revision: e.Revision}, nil
}

func (s *MemoryStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return 0, ErrKeyExists
	}
	s.nextRev++
	s.entries[key] = &Entry{Value: append([]byte(nil), value...), Revision: s.nextRev}
	return s.nextRev, nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.Revision != revision {
		return 0, ErrRevisionMismatch
	}
	s.nextRev++
	s.entries[key] = &Entry{Value: append([]byte(nil), value...), Revision: s.nextRev}
	return s.nextRev, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
