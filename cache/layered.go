package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ciscoittech/pingtopass-dataplane/storage"
)

// Layered is the two-layer cache: a fast in-process layer in front of
// a shared backend visible across instances. Reads check local first
// and promote shared hits into the local layer; writes populate both.
// The local layer is a pure accelerator: its TTL never exceeds the
// entry TTL, and shared-layer failures degrade to misses rather than
// failing the caller.
//
// Both layers hold serialized entries, so values cross the cache
// boundary as copies in both directions. A caller may mutate a value
// it stored or received without affecting what later reads see.
type Layered struct {
	local      LocalCache
	shared     Store
	serializer Marshaller
	logger     Logger
	index      *prefixIndex
	localTTL   time.Duration
	closed     int32
	stats      Stats
}

// NewLayered creates a new layered cache.
func NewLayered(opts Options) (*Layered, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLRUCacheFactory(opts.LocalCacheConfig)
	}
	if opts.Marshaller == nil {
		opts.Marshaller = NewJSONMarshaller()
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}

	index := newPrefixIndex()
	local, err := opts.LocalCacheFactory.Create(index.remove)
	if err != nil {
		return nil, err
	}

	return &Layered{
		local:      local,
		shared:     opts.Shared,
		serializer: opts.Marshaller,
		logger:     opts.Logger,
		index:      index,
		localTTL:   opts.LocalCacheConfig.TTL,
	}, nil
}

// Get retrieves a value, checking the local layer first and falling
// back to the shared layer. A shared hit is promoted into the local
// layer before returning. Shared-layer unavailability is absorbed as
// a miss.
func (l *Layered) Get(ctx context.Context, key string) (any, bool) {
	if atomic.LoadInt32(&l.closed) != 0 {
		return nil, false
	}

	if cached, found := l.local.Get(key); found {
		if result, ok := l.decode(key, cached); ok {
			atomic.AddInt64(&l.stats.LocalHits, 1)
			return result, true
		}
		l.local.Delete(key)
		l.index.remove(key)
	}
	atomic.AddInt64(&l.stats.LocalMisses, 1)

	data, err := l.shared.Get(ctx, key)
	if err != nil {
		atomic.AddInt64(&l.stats.SharedMisses, 1)
		if !errors.Is(err, storage.ErrNotFound) {
			l.logger.Warn("shared cache layer unavailable, treating as miss", "key", key, "error", err)
		}
		return nil, false
	}
	atomic.AddInt64(&l.stats.SharedHits, 1)

	result, ok := l.decode(key, data)
	if !ok {
		return nil, false
	}

	l.setLocal(key, data, l.localTTL)
	return result, true
}

// Set stores a value in both layers. The local entry TTL is clamped to
// the layer bound so local entries never outlive shared ones.
func (l *Layered) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if atomic.LoadInt32(&l.closed) != 0 {
		return ErrClosed
	}

	data, err := l.serializer.Marshal(value)
	if err != nil {
		return err
	}

	localTTL := l.localTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	l.setLocal(key, data, localTTL)

	if err := l.shared.Set(ctx, key, data, ttl); err != nil {
		l.logger.Warn("failed to populate shared cache layer", "key", key, "error", err)
	}
	return nil
}

// Delete removes a key from both layers.
func (l *Layered) Delete(ctx context.Context, key string) error {
	if atomic.LoadInt32(&l.closed) != 0 {
		return ErrClosed
	}

	l.local.Delete(key)
	l.index.remove(key)
	return l.shared.Delete(ctx, key)
}

// DeleteByPrefix removes every entry under prefix from both layers.
// The local layer enumerates candidates through its prefix index; the
// shared layer does its own prefix bookkeeping. A shared-layer failure
// is returned so writers can surface incomplete invalidation.
func (l *Layered) DeleteByPrefix(ctx context.Context, prefix string) error {
	if atomic.LoadInt32(&l.closed) != 0 {
		return ErrClosed
	}

	l.deleteLocalByPrefix(prefix)

	if _, err := l.shared.DeleteByPrefix(ctx, prefix); err != nil {
		return err
	}
	return nil
}

// InvalidateLocal removes matching entries from the local layer only.
// Used when a sibling instance published the invalidation: the sender
// already purged the shared layer.
func (l *Layered) InvalidateLocal(prefix string) {
	if atomic.LoadInt32(&l.closed) != 0 {
		return
	}
	l.deleteLocalByPrefix(prefix)
}

// Clear removes all values from both layers.
func (l *Layered) Clear(ctx context.Context) error {
	if atomic.LoadInt32(&l.closed) != 0 {
		return ErrClosed
	}

	l.local.Clear()
	l.index.clear()
	return l.shared.Clear(ctx)
}

// Close closes the local layer. The shared store is owned by whoever
// constructed it.
func (l *Layered) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	l.local.Close()
	l.index.clear()
	return nil
}

// Stats returns layered cache statistics.
func (l *Layered) Stats() Stats {
	return Stats{
		LocalHits:     atomic.LoadInt64(&l.stats.LocalHits),
		LocalMisses:   atomic.LoadInt64(&l.stats.LocalMisses),
		SharedHits:    atomic.LoadInt64(&l.stats.SharedHits),
		SharedMisses:  atomic.LoadInt64(&l.stats.SharedMisses),
		Invalidations: atomic.LoadInt64(&l.stats.Invalidations),
	}
}

// LocalMetrics returns the local layer's own metrics.
func (l *Layered) LocalMetrics() LocalCacheMetrics {
	return l.local.Metrics()
}

func (l *Layered) setLocal(key string, data []byte, ttl time.Duration) {
	if l.local.Set(key, data, ttl) {
		l.index.add(key)
	}
}

// decode deserializes a cached entry into a fresh value. Local entries
// hold the same serialized bytes as shared ones; an undecodable entry
// is reported and treated as a miss.
func (l *Layered) decode(key string, cached any) (any, bool) {
	data, ok := cached.([]byte)
	if !ok {
		l.logger.Error("unexpected local cache entry shape", "key", key)
		return nil, false
	}
	var result any
	if err := l.serializer.Unmarshal(data, &result); err != nil {
		l.logger.Error("failed to deserialize cache entry", "key", key, "error", err)
		return nil, false
	}
	return result, true
}

func (l *Layered) deleteLocalByPrefix(prefix string) {
	for _, key := range l.index.matching(prefix) {
		l.local.Delete(key)
		l.index.remove(key)
	}
	atomic.AddInt64(&l.stats.Invalidations, 1)
}

// ErrClosed is returned when operations are performed on a closed cache.
var ErrClosed = NewError("cache is closed")
