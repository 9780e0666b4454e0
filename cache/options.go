package cache

import (
	"time"
)

// LocalCacheConfig configures the local cache layer.
type LocalCacheConfig struct {
	// MaxSize is the maximum number of entries (LRU only).
	MaxSize int

	// TTL is the layer-wide expiry backstop for local entries. Entries
	// cached with a shorter per-entry TTL expire at the shorter bound.
	TTL time.Duration

	// NumCounters is the number of keys to track frequency of
	// (Ristretto only). Recommended: 10 * expected entries.
	NumCounters int64

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	MaxCost int64

	// BufferItems is the number of keys per Get buffer (Ristretto only).
	BufferItems int64

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool
}

// Options configures a Layered cache instance.
type Options struct {
	// Shared is the cross-instance cache backend. Required.
	Shared Store

	// LocalCacheConfig configures the local layer.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache
	// instances. If nil, defaults to the expirable LRU factory.
	LocalCacheFactory LocalCacheFactory

	// Marshaller serializes values crossing the shared-layer boundary.
	// If nil, defaults to JSON marshaller.
	Marshaller Marshaller

	// Logger is the logger for absorbed-failure reporting.
	// If nil, defaults to no-op logger.
	Logger Logger
}

// DefaultOptions returns default layered cache options. The Shared
// store must still be supplied by the caller.
func DefaultOptions() Options {
	return Options{
		LocalCacheConfig: DefaultLocalCacheConfig(),
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		MaxSize:     10000,
		TTL:         30 * time.Second,
		NumCounters: 1e5,
		MaxCost:     1 << 26, // 64MB
		BufferItems: 64,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.Shared == nil {
		return ErrInvalidConfig
	}
	if o.LocalCacheConfig.MaxSize <= 0 {
		return ErrInvalidConfig
	}
	if o.LocalCacheConfig.TTL <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = NewError("invalid cache configuration")

// NewError creates a new error with the given message.
func NewError(msg string) error {
	return &cacheError{msg: msg}
}

type cacheError struct {
	msg string
}

func (e *cacheError) Error() string {
	return e.msg
}
