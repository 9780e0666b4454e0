package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ciscoittech/pingtopass-dataplane/cache"
	"github.com/ciscoittech/pingtopass-dataplane/region"
	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// TTLTable maps operation classes (operation names) to cache TTLs.
type TTLTable struct {
	Classes map[string]time.Duration
	Default time.Duration
}

// For returns the TTL for an operation name.
func (t TTLTable) For(name string) time.Duration {
	if ttl, ok := t.Classes[name]; ok {
		return ttl
	}
	return t.Default
}

// ReadRequest describes one cached read.
type ReadRequest struct {
	// Op is the read operation.
	Op types.Operation

	// Preferred is the caller's regional hint. Empty means nearest.
	Preferred types.RegionID

	// RequireRegion fails the read instead of falling back when the
	// preferred region cannot serve it.
	RequireRegion bool

	// BypassCache skips both cache layers and does not populate them.
	BypassCache bool
}

// Mutation describes one write: the operation to execute on the
// primary and the entity identity driving invalidation.
type Mutation struct {
	Entity EntityType
	Key    string
	Op     types.Operation
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	TTLs     TTLTable
	Recorder region.Recorder
	Logger   cache.Logger
}

// Executor is the composed read/write surface: cache-first reads with
// router fallback on miss, write-through to the primary followed by
// synchronous invalidation. Concurrent misses for one fingerprint are
// deduplicated so a cold popular key triggers a single replica read.
type Executor struct {
	cache    *cache.Layered
	router   *region.Router
	registry *region.Registry
	inv      *Invalidator
	opts     ExecutorOptions
	group    singleflight.Group
}

// NewExecutor creates an executor over the composed components.
func NewExecutor(layered *cache.Layered, router *region.Router, registry *region.Registry, inv *Invalidator, opts ExecutorOptions) (*Executor, error) {
	if layered == nil || router == nil || registry == nil || inv == nil {
		return nil, errors.New("executor requires cache, router, registry and invalidator")
	}
	if opts.TTLs.Default <= 0 {
		opts.TTLs.Default = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &Executor{
		cache:    layered,
		router:   router,
		registry: registry,
		inv:      inv,
		opts:     opts,
	}, nil
}

// Read serves a read operation: cache first, then the router on miss,
// populating the cache with the operation class's TTL.
func (e *Executor) Read(ctx context.Context, req ReadRequest) (any, error) {
	start := time.Now()
	key := Key(req.Op)

	if req.BypassCache {
		result, used, err := e.router.Execute(ctx, req.Op, req.Preferred, req.RequireRegion)
		if err != nil {
			e.record(req.Op.Name, used, types.OutcomeError, start)
			return nil, err
		}
		e.record(req.Op.Name, used, types.OutcomeBypass, start)
		return result, nil
	}

	if value, found := e.cache.Get(ctx, key); found {
		e.record(req.Op.Name, "", types.OutcomeHit, start)
		return value, nil
	}

	type loaded struct {
		value any
		used  types.RegionID
	}
	v, err, _ := e.group.Do(key, func() (any, error) {
		result, used, err := e.router.Execute(ctx, req.Op, req.Preferred, req.RequireRegion)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Set(ctx, key, result, e.opts.TTLs.For(req.Op.Name)); err != nil {
			e.opts.Logger.Warn("failed to populate cache after miss", "key", key, "error", err)
		}
		return loaded{value: result, used: used}, nil
	})
	if err != nil {
		e.record(req.Op.Name, "", types.OutcomeError, start)
		return nil, err
	}

	l := v.(loaded)
	e.record(req.Op.Name, l.used, types.OutcomeMiss, start)
	return l.value, nil
}

// Write executes a mutation against the primary and synchronously
// invalidates the affected prefixes before returning. An invalidation
// failure after a successful write does not fail the write; it is
// logged and sampled so the health verdict degrades.
func (e *Executor) Write(ctx context.Context, m Mutation) (types.WriteResult, error) {
	start := time.Now()
	primary := e.registry.Primary().ID

	result, err := e.executeWrite(ctx, m, primary, start)
	if err != nil {
		return types.WriteResult{}, err
	}

	if err := e.inv.Invalidate(ctx, m.Entity, m.Key); err != nil {
		e.record("invalidate", primary, types.OutcomeError, start)
	}

	e.record(m.Op.Name, primary, types.OutcomeSuccess, start)
	return result, nil
}

// WriteBatch executes every mutation against the primary, then
// invalidates the union of affected prefixes once. The first write
// failure aborts the batch; mutations already executed have their
// prefixes invalidated so no completed write is left stale.
func (e *Executor) WriteBatch(ctx context.Context, mutations []Mutation) ([]types.WriteResult, error) {
	start := time.Now()
	primary := e.registry.Primary().ID

	union := make(map[string]struct{})
	entities := ""
	addPrefixes := func(m Mutation) error {
		prefixes, err := e.inv.PrefixesFor(m.Entity, m.Key)
		if err != nil {
			return err
		}
		for _, prefix := range prefixes {
			union[prefix] = struct{}{}
		}
		if entities == "" {
			entities = string(m.Entity)
		} else {
			entities += "," + string(m.Entity)
		}
		return nil
	}

	// Resolve every mutation's entity up front so an unmapped entity
	// fails the batch before any write lands.
	for _, m := range mutations {
		if _, err := e.inv.PrefixesFor(m.Entity, m.Key); err != nil {
			return nil, err
		}
	}

	results := make([]types.WriteResult, 0, len(mutations))
	var writeErr error
	for _, m := range mutations {
		result, err := e.executeWrite(ctx, m, primary, start)
		if err != nil {
			writeErr = err
			break
		}
		results = append(results, result)
		if err := addPrefixes(m); err != nil {
			writeErr = err
			break
		}
	}

	if len(union) > 0 {
		prefixes := make([]string, 0, len(union))
		for prefix := range union {
			prefixes = append(prefixes, prefix)
		}
		if err := e.inv.InvalidatePrefixes(ctx, prefixes, entities); err != nil {
			e.record("invalidate", primary, types.OutcomeError, start)
		}
	}

	if writeErr != nil {
		return results, writeErr
	}
	e.record("writeBatch", primary, types.OutcomeSuccess, start)
	return results, nil
}

func (e *Executor) executeWrite(ctx context.Context, m Mutation, primary types.RegionID, start time.Time) (types.WriteResult, error) {
	result, err := e.registry.WriteHandle().ExecuteWrite(ctx, m.Op)
	if err != nil {
		e.record(m.Op.Name, primary, types.OutcomeError, start)
		return types.WriteResult{}, fmt.Errorf("%w: %s: %w", ErrWriteFailure, m.Op.Name, err)
	}
	return result, nil
}

// record emits a metric sample; recording never fails the operation.
func (e *Executor) record(op string, regionID types.RegionID, outcome types.Outcome, start time.Time) {
	if e.opts.Recorder == nil {
		return
	}
	e.opts.Recorder.Record(types.MetricSample{
		Op:       op,
		Region:   regionID,
		Outcome:  outcome,
		Duration: time.Since(start),
		At:       time.Now(),
	})
}

// ErrWriteFailure is returned when the primary rejects or cannot
// execute a mutation. No invalidation runs in that case.
var ErrWriteFailure = errors.New("write failure")
