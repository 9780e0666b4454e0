// Package region tracks the data replica regions: which exist, which
// is the write primary, how healthy each looks, and how reads are
// routed across them.
package region

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// ReadHandle executes read operations against one region's replica.
type ReadHandle interface {
	ExecuteRead(ctx context.Context, op types.Operation) (any, error)
}

// WriteHandle executes write operations. Only the primary region has one.
type WriteHandle interface {
	ExecuteWrite(ctx context.Context, op types.Operation) (types.WriteResult, error)
}

// Config declares one region from static configuration.
type Config struct {
	ID       types.RegionID `yaml:"id"`
	Priority int            `yaml:"priority"`
	Primary  bool           `yaml:"primary"`
}

type regionEntry struct {
	region types.Region
	read   ReadHandle
}

// Registry is the authoritative list of regions and their health.
// Health flags are mutated only via MarkSuccess/MarkFailure (fed by
// the probe and the router); all accessors return copies. Exactly one
// region is the primary, and the primary stays eligible as the last
// read candidate regardless of reported health so reads degrade to
// "slow but correct" instead of failing outright.
type Registry struct {
	mu               sync.RWMutex
	regions          map[types.RegionID]*regionEntry
	order            []types.RegionID
	primary          types.RegionID
	write            WriteHandle
	failureThreshold int
}

// NewRegistry builds a registry from configuration. Every region needs
// a read handle; the primary additionally needs the write handle.
func NewRegistry(configs []Config, reads map[types.RegionID]ReadHandle, write WriteHandle, failureThreshold int) (*Registry, error) {
	if len(configs) == 0 {
		return nil, errors.New("no regions configured")
	}
	if failureThreshold < 1 {
		failureThreshold = 1
	}

	r := &Registry{
		regions:          make(map[types.RegionID]*regionEntry, len(configs)),
		failureThreshold: failureThreshold,
	}

	for _, cfg := range configs {
		if _, exists := r.regions[cfg.ID]; exists {
			return nil, fmt.Errorf("duplicate region %q", cfg.ID)
		}
		read, ok := reads[cfg.ID]
		if !ok || read == nil {
			return nil, fmt.Errorf("region %q has no read handle", cfg.ID)
		}
		if cfg.Primary {
			if r.primary != "" {
				return nil, fmt.Errorf("multiple primary regions: %q and %q", r.primary, cfg.ID)
			}
			r.primary = cfg.ID
		}
		r.regions[cfg.ID] = &regionEntry{
			region: types.Region{
				ID:        cfg.ID,
				Priority:  cfg.Priority,
				IsPrimary: cfg.Primary,
				Health:    types.HealthUnknown,
			},
			read: read,
		}
		r.order = append(r.order, cfg.ID)
	}

	if r.primary == "" {
		return nil, ErrNoPrimary
	}
	if write == nil {
		return nil, fmt.Errorf("primary region %q has no write handle", r.primary)
	}
	r.write = write

	// Static proximity order: ascending priority, config order breaks ties.
	for i := 1; i < len(r.order); i++ {
		for j := i; j > 0; j-- {
			a := r.regions[r.order[j-1]].region.Priority
			b := r.regions[r.order[j]].region.Priority
			if b < a {
				r.order[j-1], r.order[j] = r.order[j], r.order[j-1]
			}
		}
	}

	return r, nil
}

// List returns a snapshot of every region in proximity order.
func (r *Registry) List() []types.Region {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regions := make([]types.Region, 0, len(r.order))
	for _, id := range r.order {
		regions = append(regions, r.regions[id].region)
	}
	return regions
}

// Get returns a snapshot of one region.
func (r *Registry) Get(id types.RegionID) (types.Region, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.regions[id]
	if !ok {
		return types.Region{}, false
	}
	return entry.region, true
}

// Primary returns a snapshot of the primary region.
func (r *Registry) Primary() types.Region {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.regions[r.primary].region
}

// ReadHandleFor returns the read handle for a region.
func (r *Registry) ReadHandleFor(id types.RegionID) (ReadHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.regions[id]
	if !ok {
		return nil, false
	}
	return entry.read, true
}

// WriteHandle returns the primary's write handle.
func (r *Registry) WriteHandle() WriteHandle {
	return r.write
}

// MarkSuccess records a successful execution against a region and
// flips it healthy immediately.
func (r *Registry) MarkSuccess(id types.RegionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.regions[id]
	if !ok {
		return
	}
	entry.region.Health = types.HealthHealthy
	entry.region.ConsecutiveFails = 0
	entry.region.LastChecked = time.Now()
}

// MarkFailure records a failed execution against a region. The region
// flips unhealthy only once consecutive failures reach the configured
// threshold, so a single transient blip does not evict it from
// rotation.
func (r *Registry) MarkFailure(id types.RegionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.regions[id]
	if !ok {
		return
	}
	entry.region.ConsecutiveFails++
	entry.region.LastChecked = time.Now()
	if entry.region.ConsecutiveFails >= r.failureThreshold {
		entry.region.Health = types.HealthUnhealthy
	}
}

// ErrNoPrimary is returned when configuration declares no primary region.
var ErrNoPrimary = errors.New("no primary region configured")

// ErrRegionNotFound is returned when a region id is not registered.
var ErrRegionNotFound = errors.New("region not found")
