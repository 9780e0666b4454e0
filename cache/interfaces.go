package cache

import (
	"context"
	"time"
)

// Logger defines the interface for logging in the dataplane.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Marshaller defines the interface for value serialization across the
// shared-layer boundary.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// LocalCache defines the interface for the in-process cache layer.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value with a per-entry TTL ceiling.
	Set(key string, value any, ttl time.Duration) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache
// instances. onEvict is called with the key of every entry the cache
// drops so the layered cache can keep its prefix index exact.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create(onEvict func(key string)) (LocalCache, error)
}

// Store defines the interface for shared cache backends (e.g. Redis),
// visible across all instances. A miss is reported as
// storage.ErrNotFound; any other error means the backend is
// unreachable and is absorbed by the layered cache as a miss.
type Store interface {
	// Get retrieves a value from the store.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes values from the store.
	Delete(ctx context.Context, keys ...string) error

	// DeleteByPrefix removes every key under the given prefix and
	// returns the number of keys removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Clear removes all values owned by this store.
	Clear(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Stats represents layered cache statistics.
type Stats struct {
	LocalHits     int64
	LocalMisses   int64
	SharedHits    int64
	SharedMisses  int64
	Invalidations int64
}
