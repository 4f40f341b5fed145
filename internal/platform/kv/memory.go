package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns a process-local store. Write transactions hold an
// exclusive lock for their whole duration.
func NewMemoryStore() Store {
	return newEngine(&memoryBackend{data: make(map[string][]byte)})
}

func (b *memoryBackend) begin(ctx context.Context, write bool) (session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if write {
		b.mu.Lock()
	} else {
		b.mu.RLock()
	}
	return &memorySession{backend: b, write: write}, nil
}

func (b *memoryBackend) close() error {
	return nil
}

type memorySession struct {
	backend  *memoryBackend
	write    bool
	released bool
}

func (s *memorySession) get(_ context.Context, key string) ([]byte, error) {
	value, ok := s.backend.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(value), nil
}

func (s *memorySession) scan(_ context.Context, prefix string) ([]Pair, error) {
	out := make([]Pair, 0)
	for key, value := range s.backend.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Pair{Key: key, Value: cloneBytes(value)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memorySession) commit(_ context.Context, muts []mutation) error {
	for _, m := range muts {
		if m.delete {
			delete(s.backend.data, m.key)
			continue
		}
		s.backend.data[m.key] = m.value
	}
	s.release()
	return nil
}

func (s *memorySession) rollback(_ context.Context) {
	s.release()
}

func (s *memorySession) release() {
	if s.released {
		return
	}
	s.released = true
	if s.write {
		s.backend.mu.Unlock()
		return
	}
	s.backend.mu.RUnlock()
}
