// Package dataplane is the regional read router, two-layer cache,
// invalidation and telemetry core of the pingtopass data-serving
// layer. Construct one Dataplane per process with New and thread it
// through; there are no ambient singletons.
package dataplane

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ciscoittech/pingtopass-dataplane/cache"
	"github.com/ciscoittech/pingtopass-dataplane/query"
	"github.com/ciscoittech/pingtopass-dataplane/region"
	"github.com/ciscoittech/pingtopass-dataplane/storage"
	dpsync "github.com/ciscoittech/pingtopass-dataplane/sync"
	"github.com/ciscoittech/pingtopass-dataplane/telemetry"
	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// Aliases for the composed packages' request types, so callers only
// import the root package.
type (
	// ReadRequest is an alias for query.ReadRequest.
	ReadRequest = query.ReadRequest

	// Mutation is an alias for query.Mutation.
	Mutation = query.Mutation

	// EntityType is an alias for query.EntityType.
	EntityType = query.EntityType

	// ReadHandle is an alias for region.ReadHandle.
	ReadHandle = region.ReadHandle

	// WriteHandle is an alias for region.WriteHandle.
	WriteHandle = region.WriteHandle

	// Logger is an alias for cache.Logger.
	Logger = cache.Logger
)

// Dependencies are the external collaborators a Dataplane composes:
// one read handle per configured region, the primary's write handle,
// and optionally a shared store overriding the configured Redis (used
// by single-node deployments and tests).
type Dependencies struct {
	Reads  map[types.RegionID]region.ReadHandle
	Write  region.WriteHandle
	Shared cache.Store
	Logger cache.Logger
}

// Dataplane wires the registry, probe, router, layered cache,
// invalidator, executor and monitor together behind the exposed
// Read/Write/WriteBatch/Snapshot surface.
type Dataplane struct {
	cfg          Config
	logger       cache.Logger
	registry     *region.Registry
	probe        *region.Probe
	store        cache.Store
	ownsStore    bool
	cache        *cache.Layered
	synchronizer *dpsync.PubSubSynchronizer
	invalidator  *query.Invalidator
	executor     *query.Executor
	monitor      *telemetry.Monitor
	closed       int32
}

// New creates a Dataplane from configuration and its external
// collaborators, and starts the health probe. Close releases
// everything New started.
func New(cfg Config, deps Dependencies) (*Dataplane, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	logger := deps.Logger
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}

	registry, err := region.NewRegistry(cfg.Regions, deps.Reads, deps.Write, cfg.Probe.FailureThreshold)
	if err != nil {
		return nil, err
	}

	dp := &Dataplane{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		monitor: telemetry.NewMonitor(
			cfg.Telemetry.Capacity, cfg.Telemetry.Window.Std(), cfg.Alerts),
	}

	dp.store = deps.Shared
	if dp.store == nil {
		redisStore, err := storage.NewRedisStore(
			cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Namespace)
		if err != nil {
			return nil, fmt.Errorf("shared cache layer: %w", err)
		}
		dp.store = redisStore
		dp.ownsStore = true
	}

	layered, err := cache.NewLayered(cache.Options{
		Shared: dp.store,
		LocalCacheConfig: cache.LocalCacheConfig{
			MaxSize: cfg.Cache.LocalMaxSize,
			TTL:     cfg.Cache.LocalTTL.Std(),
		},
		Logger: logger,
	})
	if err != nil {
		dp.closeStore()
		return nil, err
	}
	dp.cache = layered

	// Cross-instance invalidation rides the shared layer's Redis
	// connection; an injected store means a single-instance deployment
	// with nothing to synchronize.
	var publisher query.Publisher
	if redisStore, ok := dp.store.(*storage.RedisStore); ok {
		dp.synchronizer = dpsync.NewPubSubSynchronizer(
			redisStore.Client(), cfg.Redis.Channel, cfg.InstanceID)
		dp.synchronizer.OnInvalidate(func(event types.InvalidationEvent) {
			for _, prefix := range event.Prefixes {
				dp.cache.InvalidateLocal(prefix)
			}
		})
		if err := dp.synchronizer.Subscribe(context.Background()); err != nil {
			dp.Close()
			return nil, fmt.Errorf("invalidation channel: %w", err)
		}
		publisher = dp.synchronizer
	}

	dp.invalidator = query.NewInvalidator(dp.cache, publisher, logger)

	router := region.NewRouter(registry, region.RouterOptions{
		Recorder: dp.monitor,
		Logger:   logger,
	})

	ttls := query.TTLTable{
		Classes: make(map[string]time.Duration, len(cfg.Cache.TTLByOperation)),
		Default: cfg.Cache.DefaultTTL.Std(),
	}
	for op, ttl := range cfg.Cache.TTLByOperation {
		ttls.Classes[op] = ttl.Std()
	}

	executor, err := query.NewExecutor(dp.cache, router, registry, dp.invalidator, query.ExecutorOptions{
		TTLs:     ttls,
		Recorder: dp.monitor,
		Logger:   logger,
	})
	if err != nil {
		dp.Close()
		return nil, err
	}
	dp.executor = executor

	dp.probe = region.NewProbe(registry, region.ProbeOptions{
		Interval: cfg.Probe.Interval.Std(),
		Timeout:  cfg.Probe.Timeout.Std(),
		Logger:   logger,
	})
	dp.probe.Start(context.Background())

	return dp, nil
}

// Read serves a cached read, routing to a replica on miss.
func (dp *Dataplane) Read(ctx context.Context, req ReadRequest) (any, error) {
	if atomic.LoadInt32(&dp.closed) != 0 {
		return nil, ErrClosed
	}
	return dp.executor.Read(ctx, req)
}

// Write executes a mutation on the primary and invalidates derived
// cache entries before returning.
func (dp *Dataplane) Write(ctx context.Context, m Mutation) (types.WriteResult, error) {
	if atomic.LoadInt32(&dp.closed) != 0 {
		return types.WriteResult{}, ErrClosed
	}
	return dp.executor.Write(ctx, m)
}

// WriteBatch executes related mutations and invalidates the union of
// their prefixes once.
func (dp *Dataplane) WriteBatch(ctx context.Context, mutations []Mutation) ([]types.WriteResult, error) {
	if atomic.LoadInt32(&dp.closed) != 0 {
		return nil, ErrClosed
	}
	return dp.executor.WriteBatch(ctx, mutations)
}

// Snapshot returns the current telemetry summary and health verdict.
func (dp *Dataplane) Snapshot() telemetry.Snapshot {
	return dp.monitor.Snapshot(dp.registry.List())
}

// Regions returns a snapshot of every region's health.
func (dp *Dataplane) Regions() []types.Region {
	return dp.registry.List()
}

// CacheStats returns layered cache statistics.
func (dp *Dataplane) CacheStats() cache.Stats {
	return dp.cache.Stats()
}

// Handler returns the operator-facing telemetry HTTP surface.
func (dp *Dataplane) Handler() http.Handler {
	return telemetry.Handler(dp.monitor, dp.registry)
}

// Close stops the probe and synchronizer and releases the cache and
// any store this dataplane constructed.
func (dp *Dataplane) Close() error {
	if !atomic.CompareAndSwapInt32(&dp.closed, 0, 1) {
		return nil
	}

	if dp.probe != nil {
		dp.probe.Stop()
	}

	var errs []error
	if dp.synchronizer != nil {
		if err := dp.synchronizer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if dp.cache != nil {
		if err := dp.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	dp.closeStore()

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (dp *Dataplane) closeStore() {
	if dp.ownsStore && dp.store != nil {
		if err := dp.store.Close(); err != nil {
			dp.logger.Warn("failed to close shared store", "error", err)
		}
	}
}
