package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCacheFactory creates expirable LRU cache instances.
type LRUCacheFactory struct {
	config LocalCacheConfig
}

// NewLRUCacheFactory creates a new LRU cache factory.
func NewLRUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LRUCacheFactory{config: config}
}

// Create creates a new LRU cache instance.
func (lcf *LRUCacheFactory) Create(onEvict func(key string)) (LocalCache, error) {
	return NewLRUCache(lcf.config, onEvict)
}

// localEntry wraps a cached value with its per-entry expiry. The LRU
// itself enforces the layer-wide TTL; the wrapper enforces the shorter
// per-entry bound on read.
type localEntry struct {
	value     any
	expiresAt time.Time
}

// LRUCache is a local cache on hashicorp's expirable LRU with
// size-bounded eviction and a layer-wide TTL backstop.
type LRUCache struct {
	cache     *expirable.LRU[string, localEntry]
	hits      int64
	misses    int64
	evictions int64
}

// NewLRUCache creates a new LRU-based local cache.
func NewLRUCache(config LocalCacheConfig, onEvict func(key string)) (*LRUCache, error) {
	if config.MaxSize <= 0 || config.TTL <= 0 {
		return nil, ErrInvalidConfig
	}

	lc := &LRUCache{}
	lc.cache = expirable.NewLRU(config.MaxSize, func(key string, _ localEntry) {
		atomic.AddInt64(&lc.evictions, 1)
		if onEvict != nil {
			onEvict(key)
		}
	}, config.TTL)

	return lc, nil
}

// Get retrieves a value from the local cache. Entries past their
// per-entry expiry are evicted and reported as misses.
func (lc *LRUCache) Get(key string) (any, bool) {
	entry, found := lc.cache.Get(key)
	if found && !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		lc.cache.Remove(key)
		found = false
	}
	if !found {
		atomic.AddInt64(&lc.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&lc.hits, 1)
	return entry.value, true
}

// Set stores a value in the local cache.
func (lc *LRUCache) Set(key string, value any, ttl time.Duration) bool {
	entry := localEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	lc.cache.Add(key, entry)
	return true
}

// Delete removes a value from the local cache.
func (lc *LRUCache) Delete(key string) {
	lc.cache.Remove(key)
}

// Clear removes all values from the local cache.
func (lc *LRUCache) Clear() {
	lc.cache.Purge()
}

// Close closes the local cache.
func (lc *LRUCache) Close() {
	lc.cache.Purge()
}

// Metrics returns cache metrics.
func (lc *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&lc.hits),
		Misses:    atomic.LoadInt64(&lc.misses),
		Evictions: atomic.LoadInt64(&lc.evictions),
		Size:      int64(lc.cache.Len()),
	}
}
