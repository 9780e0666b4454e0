// Package telemetry aggregates raw operation samples into rolling
// summaries and a derived health verdict. Recording is fire and
// forget: it never fails or blocks the operation being measured beyond
// a short mutex hold.
package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// Thresholds configure verdict derivation.
type Thresholds struct {
	// ErrorRateCritical is the overall error-rate bound above which
	// the verdict is critical.
	ErrorRateCritical float64 `yaml:"error_rate_critical"`

	// ErrorRateElevated is the per-region error-rate bound above which
	// the verdict degrades.
	ErrorRateElevated float64 `yaml:"error_rate_elevated"`

	// HitRatioFloor is the cache hit ratio below which the verdict
	// degrades.
	HitRatioFloor float64 `yaml:"hit_ratio_floor"`
}

// DefaultThresholds returns default alerting thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRateCritical: 0.25,
		ErrorRateElevated: 0.10,
		HitRatioFloor:     0.50,
	}
}

// OpStats summarizes latency for one operation class over the window.
type OpStats struct {
	Count     int     `json:"count"`
	AvgMillis float64 `json:"avg_ms"`
	P95Millis float64 `json:"p95_ms"`
	P99Millis float64 `json:"p99_ms"`
}

// RegionStats summarizes one region's share of the window.
type RegionStats struct {
	Samples   int     `json:"samples"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

// Snapshot is the aggregate view served to operators.
type Snapshot struct {
	Verdict      types.HealthVerdict                  `json:"verdict"`
	GeneratedAt  time.Time                            `json:"generated_at"`
	WindowStart  time.Time                            `json:"window_start"`
	Hits         int                                  `json:"hits"`
	Misses       int                                  `json:"misses"`
	HitRatio     float64                              `json:"hit_ratio"`
	Errors       int                                  `json:"errors"`
	ErrorRate    float64                              `json:"error_rate"`
	Operations   map[string]OpStats                   `json:"operations"`
	Regions      map[types.RegionID]RegionStats       `json:"regions"`
	RegionHealth map[types.RegionID]types.HealthState `json:"region_health"`
}

// Monitor keeps the last N samples in a fixed ring and derives rolling
// summaries from the ones inside the time window. Old samples fall out
// of the verdict both by ring eviction and by window expiry, so there
// is no stuck-critical state.
type Monitor struct {
	mu         sync.Mutex
	samples    []types.MetricSample
	next       int
	filled     bool
	window     time.Duration
	thresholds Thresholds
}

// NewMonitor creates a monitor holding at most capacity samples and
// summarizing those younger than window.
func NewMonitor(capacity int, window time.Duration, thresholds Thresholds) *Monitor {
	if capacity <= 0 {
		capacity = 4096
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Monitor{
		samples:    make([]types.MetricSample, capacity),
		window:     window,
		thresholds: thresholds,
	}
}

// Record appends a sample to the ring, evicting the oldest once full.
func (m *Monitor) Record(sample types.MetricSample) {
	if sample.At.IsZero() {
		sample.At = time.Now()
	}

	m.mu.Lock()
	m.samples[m.next] = sample
	m.next++
	if m.next == len(m.samples) {
		m.next = 0
		m.filled = true
	}
	m.mu.Unlock()
}

// Snapshot computes the rolling summary and verdict over the current
// window, combining sample-derived rates with the registry's region
// health flags.
func (m *Monitor) Snapshot(regions []types.Region) Snapshot {
	now := time.Now()
	cutoff := now.Add(-m.window)
	recent := m.recentSamples(cutoff)

	snap := Snapshot{
		GeneratedAt:  now,
		WindowStart:  cutoff,
		Operations:   make(map[string]OpStats),
		Regions:      make(map[types.RegionID]RegionStats),
		RegionHealth: make(map[types.RegionID]types.HealthState, len(regions)),
	}

	durations := make(map[string][]time.Duration)
	for _, s := range recent {
		durations[s.Op] = append(durations[s.Op], s.Duration)

		switch s.Outcome {
		case types.OutcomeHit:
			snap.Hits++
		case types.OutcomeMiss:
			snap.Misses++
		case types.OutcomeError:
			snap.Errors++
		}

		if s.Region != "" {
			rs := snap.Regions[s.Region]
			rs.Samples++
			if s.Outcome == types.OutcomeError {
				rs.Errors++
			}
			snap.Regions[s.Region] = rs
		}
	}

	for op, ds := range durations {
		snap.Operations[op] = summarize(ds)
	}
	for id, rs := range snap.Regions {
		if rs.Samples > 0 {
			rs.ErrorRate = float64(rs.Errors) / float64(rs.Samples)
			snap.Regions[id] = rs
		}
	}
	if lookups := snap.Hits + snap.Misses; lookups > 0 {
		snap.HitRatio = float64(snap.Hits) / float64(lookups)
	}
	if len(recent) > 0 {
		snap.ErrorRate = float64(snap.Errors) / float64(len(recent))
	}

	for _, region := range regions {
		snap.RegionHealth[region.ID] = region.Health
	}

	snap.Verdict = m.verdict(snap, regions)
	return snap
}

// Verdict computes only the aggregate verdict.
func (m *Monitor) Verdict(regions []types.Region) types.HealthVerdict {
	return m.Snapshot(regions).Verdict
}

func (m *Monitor) recentSamples(cutoff time.Time) []types.MetricSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.filled {
		size = len(m.samples)
	}
	recent := make([]types.MetricSample, 0, size)
	for i := 0; i < size; i++ {
		if m.samples[i].At.After(cutoff) {
			recent = append(recent, m.samples[i])
		}
	}
	return recent
}

// verdict derives the worst applicable status: critical on breached
// overall error rate, degraded on low hit ratio, an elevated regional
// error rate or an unhealthy region, healthy otherwise.
func (m *Monitor) verdict(snap Snapshot, regions []types.Region) types.HealthVerdict {
	if snap.Errors > 0 && snap.ErrorRate >= m.thresholds.ErrorRateCritical {
		return types.VerdictCritical
	}

	if snap.Hits+snap.Misses > 0 && snap.HitRatio < m.thresholds.HitRatioFloor {
		return types.VerdictDegraded
	}
	for _, rs := range snap.Regions {
		if rs.Errors > 0 && rs.ErrorRate >= m.thresholds.ErrorRateElevated {
			return types.VerdictDegraded
		}
	}
	for _, region := range regions {
		if region.Health == types.HealthUnhealthy {
			return types.VerdictDegraded
		}
	}

	return types.VerdictHealthy
}

func summarize(durations []time.Duration) OpStats {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return OpStats{
		Count:     len(sorted),
		AvgMillis: float64(total.Microseconds()) / float64(len(sorted)) / 1000,
		P95Millis: float64(percentile(sorted, 0.95).Microseconds()) / 1000,
		P99Millis: float64(percentile(sorted, 0.99).Microseconds()) / 1000,
	}
}

// percentile returns the nearest-rank percentile of sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
