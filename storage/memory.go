package storage

import (
	"context"
	"sync"
	"time"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store implementation. It backs
// single-node deployments and the test suite, where a shared backend
// would be overkill; semantics (TTL expiry, prefix deletes, miss
// reporting) match the Redis store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Get retrieves a value from the store.
func (ms *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	ms.mu.RLock()
	entry, ok := ms.entries[key]
	ms.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(time.Now()) {
		ms.mu.Lock()
		delete(ms.entries, key)
		ms.mu.Unlock()
		return nil, ErrNotFound
	}

	data := make([]byte, len(entry.data))
	copy(data, entry.data)
	return data, nil
}

// Set stores a value with the given TTL.
func (ms *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{data: make([]byte, len(value))}
	copy(entry.data, value)
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	ms.mu.Lock()
	ms.entries[key] = entry
	ms.mu.Unlock()
	return nil
}

// Delete removes values from the store.
func (ms *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	ms.mu.Lock()
	for _, key := range keys {
		delete(ms.entries, key)
	}
	ms.mu.Unlock()
	return nil
}

// DeleteByPrefix removes every key under prefix and returns the count.
func (ms *MemoryStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	count := 0
	for key := range ms.entries {
		if types.MatchesPrefix(key, prefix) {
			delete(ms.entries, key)
			count++
		}
	}
	return count, nil
}

// Clear removes all values from the store.
func (ms *MemoryStore) Clear(ctx context.Context) error {
	ms.mu.Lock()
	ms.entries = make(map[string]memoryEntry)
	ms.mu.Unlock()
	return nil
}

// Close closes the store.
func (ms *MemoryStore) Close() error {
	return nil
}

// Len returns the number of live entries, for tests.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	now := time.Now()
	count := 0
	for _, entry := range ms.entries {
		if !entry.expired(now) {
			count++
		}
	}
	return count
}
