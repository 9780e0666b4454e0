package cache

import (
	"sync/atomic"
	"time"

	lfu "github.com/dgraph-io/ristretto"
)

// LFUCacheFactory creates Ristretto cache instances.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto cache factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto cache instance.
func (rcf *LFUCacheFactory) Create(onEvict func(key string)) (LocalCache, error) {
	return NewLFUCache(rcf.config, onEvict)
}

// lfuEntry carries the original key alongside the value. Ristretto
// reports evictions by key hash, so the key must travel with the entry
// for eviction callbacks to name it.
type lfuEntry struct {
	key   string
	value any
}

// LFUCache is a local cache on Ristretto's cost-based TinyLFU
// admission, for deployments where entry sizes vary widely.
type LFUCache struct {
	cache    *lfu.Cache
	layerTTL time.Duration
	hits     int64
	misses   int64
}

// NewLFUCache creates a new Ristretto-based local cache. onEvict is
// called with the key of every entry the policy evicts, rejects or
// expires, so an external index never outlives the entries it tracks.
func NewLFUCache(config LocalCacheConfig, onEvict func(key string)) (*LFUCache, error) {
	cfg := &lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		Metrics:            true,
	}
	if onEvict != nil {
		dropped := func(item *lfu.Item) {
			if entry, ok := item.Value.(lfuEntry); ok {
				onEvict(entry.key)
			}
		}
		cfg.OnEvict = dropped
		cfg.OnReject = dropped
	}

	cache, err := lfu.NewCache(cfg)
	if err != nil {
		return nil, err
	}

	return &LFUCache{
		cache:    cache,
		layerTTL: config.TTL,
	}, nil
}

// Get retrieves a value from the local cache.
func (rc *LFUCache) Get(key string) (any, bool) {
	value, found := rc.cache.Get(key)
	if !found {
		atomic.AddInt64(&rc.misses, 1)
		return nil, false
	}
	entry, ok := value.(lfuEntry)
	if !ok {
		atomic.AddInt64(&rc.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&rc.hits, 1)
	return entry.value, true
}

// Set stores a value in the local cache, clamping the entry TTL to the
// layer-wide bound.
func (rc *LFUCache) Set(key string, value any, ttl time.Duration) bool {
	if rc.layerTTL > 0 && (ttl <= 0 || ttl > rc.layerTTL) {
		ttl = rc.layerTTL
	}
	return rc.cache.SetWithTTL(key, lfuEntry{key: key, value: value}, 1, ttl)
}

// Delete removes a value from the local cache.
func (rc *LFUCache) Delete(key string) {
	rc.cache.Del(key)
}

// Clear removes all values from the local cache.
func (rc *LFUCache) Clear() {
	rc.cache.Clear()
}

// Close closes the local cache.
func (rc *LFUCache) Close() {
	rc.cache.Close()
}

// Metrics returns cache metrics.
func (rc *LFUCache) Metrics() LocalCacheMetrics {
	m := LocalCacheMetrics{
		Hits:   atomic.LoadInt64(&rc.hits),
		Misses: atomic.LoadInt64(&rc.misses),
	}
	if metrics := rc.cache.Metrics; metrics != nil {
		m.Evictions = int64(metrics.KeysEvicted())
	}
	return m
}
