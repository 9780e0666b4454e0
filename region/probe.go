package region

import (
	"context"
	"sync"
	"time"

	"github.com/ciscoittech/pingtopass-dataplane/cache"
	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// PingOperation is the trivial liveness read issued by the probe.
var PingOperation = types.Operation{Name: "ping"}

// ProbeOptions configures the health probe.
type ProbeOptions struct {
	// Interval between probe rounds.
	Interval time.Duration

	// Timeout for a single region's liveness read.
	Timeout time.Duration

	// Logger for state-change reporting. If nil, defaults to no-op.
	Logger cache.Logger
}

// DefaultProbeOptions returns default probe options.
func DefaultProbeOptions() ProbeOptions {
	return ProbeOptions{
		Interval: 30 * time.Second,
		Timeout:  2 * time.Second,
	}
}

// Probe periodically exercises every region with a trivial liveness
// read and feeds the results into the registry. It never runs inline
// with a caller's read.
type Probe struct {
	registry *Registry
	opts     ProbeOptions
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewProbe creates a health probe over the given registry.
func NewProbe(registry *Registry, opts ProbeOptions) *Probe {
	if opts.Interval <= 0 {
		opts.Interval = DefaultProbeOptions().Interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeOptions().Timeout
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &Probe{
		registry: registry,
		opts:     opts,
	}
}

// Start launches the probe goroutine. The first round runs
// immediately so regions leave the unknown state without waiting a
// full interval.
func (p *Probe) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()

		p.checkAll(ctx)

		for {
			select {
			case <-ticker.C:
				p.checkAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the probe and waits for it to finish.
func (p *Probe) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// CheckNow runs one probe round synchronously, for tests and startup
// warmup.
func (p *Probe) CheckNow(ctx context.Context) {
	p.checkAll(ctx)
}

func (p *Probe) checkAll(ctx context.Context) {
	for _, region := range p.registry.List() {
		p.checkRegion(ctx, region)
	}
}

func (p *Probe) checkRegion(ctx context.Context, region types.Region) {
	handle, ok := p.registry.ReadHandleFor(region.ID)
	if !ok {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	_, err := handle.ExecuteRead(probeCtx, PingOperation)
	if err != nil {
		p.registry.MarkFailure(region.ID)
		if updated, ok := p.registry.Get(region.ID); ok && updated.Health == types.HealthUnhealthy && region.Health != types.HealthUnhealthy {
			p.opts.Logger.Warn("region marked unhealthy",
				"region", region.ID, "consecutive_fails", updated.ConsecutiveFails, "error", err)
		}
		return
	}

	p.registry.MarkSuccess(region.ID)
	if region.Health == types.HealthUnhealthy {
		p.opts.Logger.Info("region recovered", "region", region.ID)
	}
}
