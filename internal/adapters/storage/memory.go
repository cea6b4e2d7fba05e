package storage

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

type memoryEntry struct {
	value    []byte
	version  int64
	expireAt *time.Time
}

// MemoryStore is an in-process StoragePort used by tests and dry runs. It
// enforces the same version CAS semantics as the badger adapter.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*memoryEntry
	closed bool
	logger *slog.Logger
}

func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		data:   make(map[string]*memoryEntry),
		logger: logger.With("component", "storage", "type", "memory"),
	}
}

func (s *MemoryStore) Get(key string) ([]byte, int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, 0, false, domain.ErrClosed
	}

	entry, ok := s.data[key]
	if !ok || entryExpired(entry) {
		return nil, 0, false, nil
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, entry.version, true, nil
}

func (s *MemoryStore) Put(key string, value []byte, version int64) error {
	return s.put(key, value, version, nil)
}

func (s *MemoryStore) PutWithTTL(key string, value []byte, version int64, ttl time.Duration) error {
	expireAt := time.Now().Add(ttl)
	return s.put(key, value, version, &expireAt)
}

func (s *MemoryStore) put(key string, value []byte, version int64, expireAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrClosed
	}

	current := int64(0)
	if entry, ok := s.data[key]; ok && !entryExpired(entry) {
		current = entry.version
	}
	if version != current+1 {
		return domain.NewVersionMismatchError(key, current+1, version)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = &memoryEntry{value: stored, version: version, expireAt: expireAt}
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrClosed
	}

	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, domain.ErrClosed
	}

	entry, ok := s.data[key]
	return ok && !entryExpired(entry), nil
}

func (s *MemoryStore) ListByPrefix(prefix string) ([]ports.KeyValueVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.ErrClosed
	}

	var results []ports.KeyValueVersion
	for key, entry := range s.data {
		if !strings.HasPrefix(key, prefix) || entryExpired(entry) {
			continue
		}
		value := make([]byte, len(entry.value))
		copy(value, entry.value)
		results = append(results, ports.KeyValueVersion{Key: key, Value: value, Version: entry.version})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

func (s *MemoryStore) CountPrefix(prefix string) (int, error) {
	results, err := s.ListByPrefix(prefix)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = make(map[string]*memoryEntry)
	return nil
}

func entryExpired(entry *memoryEntry) bool {
	return entry.expireAt != nil && time.Now().After(*entry.expireAt)
}
