package region

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ciscoittech/pingtopass-dataplane/cache"
	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// Recorder receives fire-and-forget metric samples. Satisfied by
// telemetry.Monitor.
type Recorder interface {
	Record(sample types.MetricSample)
}

// RouterOptions configures the read router.
type RouterOptions struct {
	// AttemptTimeout bounds a single candidate's execution.
	AttemptTimeout time.Duration

	// Recorder receives per-candidate failure samples. Optional.
	Recorder Recorder

	// Logger for fallback reporting. If nil, defaults to no-op.
	Logger cache.Logger
}

// DefaultRouterOptions returns default router options.
func DefaultRouterOptions() RouterOptions {
	return RouterOptions{
		AttemptTimeout: 3 * time.Second,
	}
}

// Router selects a healthy replica for each read and falls through the
// candidate list on failure: preferred region first, then the
// remaining healthy regions in proximity order, then the primary
// unconditionally. There are no same-region retries; advancing to the
// next candidate is the retry strategy.
type Router struct {
	registry *Registry
	opts     RouterOptions
}

// NewRouter creates a read router over the given registry.
func NewRouter(registry *Registry, opts RouterOptions) *Router {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultRouterOptions().AttemptTimeout
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &Router{
		registry: registry,
		opts:     opts,
	}
}

// Execute runs op against the best available candidate and returns the
// result together with the region that served it. With strict set, the
// preferred region is the only candidate and its failure is returned
// instead of falling back.
func (rt *Router) Execute(ctx context.Context, op types.Operation, preferred types.RegionID, strict bool) (any, types.RegionID, error) {
	if strict {
		if preferred == "" {
			return nil, "", fmt.Errorf("%w: strict routing requires a region", ErrRegionNotFound)
		}
		return rt.executeStrict(ctx, op, preferred)
	}

	candidates := rt.candidates(preferred)
	var lastErr error
	for _, id := range candidates {
		result, err := rt.attempt(ctx, op, id)
		if err == nil {
			rt.registry.MarkSuccess(id)
			return result, id, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}

		rt.registry.MarkFailure(id)
		rt.record(op.Name, id, err)
		rt.opts.Logger.Warn("region attempt failed, advancing candidate",
			"op", op.Name, "region", id, "error", err)
		lastErr = err
	}

	return nil, "", fmt.Errorf("%w: %d candidates exhausted: %w", ErrRoutingFailure, len(candidates), lastErr)
}

func (rt *Router) executeStrict(ctx context.Context, op types.Operation, preferred types.RegionID) (any, types.RegionID, error) {
	if _, ok := rt.registry.Get(preferred); !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrRegionNotFound, preferred)
	}
	result, err := rt.attempt(ctx, op, preferred)
	if err != nil {
		rt.registry.MarkFailure(preferred)
		rt.record(op.Name, preferred, err)
		return nil, "", fmt.Errorf("%w: region %s: %w", ErrRegionUnavailable, preferred, err)
	}
	rt.registry.MarkSuccess(preferred)
	return result, preferred, nil
}

// candidates builds the ordered candidate list: preferred if healthy,
// then healthy regions by proximity, with the primary always appended
// last regardless of health.
func (rt *Router) candidates(preferred types.RegionID) []types.RegionID {
	regions := rt.registry.List()
	primary := rt.registry.Primary().ID

	seen := make(map[types.RegionID]bool, len(regions))
	candidates := make([]types.RegionID, 0, len(regions))
	add := func(id types.RegionID) {
		if !seen[id] {
			seen[id] = true
			candidates = append(candidates, id)
		}
	}

	if preferred != "" {
		if region, ok := rt.registry.Get(preferred); ok && region.Health != types.HealthUnhealthy {
			add(preferred)
		}
	}
	for _, region := range regions {
		if region.ID == primary {
			continue
		}
		if region.Health != types.HealthUnhealthy {
			add(region.ID)
		}
	}
	add(primary)

	return candidates
}

func (rt *Router) attempt(ctx context.Context, op types.Operation, id types.RegionID) (any, error) {
	handle, ok := rt.registry.ReadHandleFor(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, id)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, rt.opts.AttemptTimeout)
	defer cancel()

	return handle.ExecuteRead(attemptCtx, op)
}

func (rt *Router) record(op string, id types.RegionID, err error) {
	if rt.opts.Recorder == nil {
		return
	}
	rt.opts.Recorder.Record(types.MetricSample{
		Op:      op,
		Region:  id,
		Outcome: types.OutcomeError,
		At:      time.Now(),
	})
}

// ErrRoutingFailure is returned when every candidate, including the
// primary, has failed.
var ErrRoutingFailure = errors.New("routing failure")

// ErrRegionUnavailable is returned in strict mode when the required
// region cannot serve the read.
var ErrRegionUnavailable = errors.New("region unavailable")
