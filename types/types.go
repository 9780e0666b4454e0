package types

import "time"

// RegionID uniquely identifies a data replica region (e.g. "us-east").
type RegionID string

// String returns the region as a human-readable string.
func (r RegionID) String() string { return string(r) }

// HealthState is the probe-maintained liveness state of a region.
type HealthState string

// Health states for a region.
const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// Region is a snapshot of a registered data replica.
// Health fields are mutated only through the registry; callers always
// receive copies.
type Region struct {
	ID               RegionID    `json:"id"`
	Priority         int         `json:"priority"`
	IsPrimary        bool        `json:"is_primary"`
	Health           HealthState `json:"health"`
	ConsecutiveFails int         `json:"consecutive_fails"`
	LastChecked      time.Time   `json:"last_checked"`
}

// Operation is an opaque, idempotent read or write against the data
// store, keyed by name with normalized parameters. The dataplane never
// interprets it beyond fingerprinting.
type Operation struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// WriteResult is the outcome of a successful write operation.
type WriteResult struct {
	RowsAffected int64 `json:"rows_affected"`
}

// Outcome classifies a recorded operation for telemetry.
type Outcome string

// Metric sample outcomes.
const (
	OutcomeHit     Outcome = "hit"
	OutcomeMiss    Outcome = "miss"
	OutcomeBypass  Outcome = "bypass"
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// MetricSample is one recorded operation: latency, cache outcome and
// the region that served it (empty for cache hits).
type MetricSample struct {
	Op       string        `json:"op"`
	Region   RegionID      `json:"region,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// InvalidationEvent carries the cache-key prefixes dirtied by a write
// so sibling instances can drop matching local-layer entries. It is
// ephemeral: produced and consumed within a single write's lifecycle.
type InvalidationEvent struct {
	Prefixes []string `json:"prefixes"`
	Entity   string   `json:"entity"`
	Sender   string   `json:"sender"`
}

// HealthVerdict is the derived aggregate status of the dataplane,
// always recomputed from recent samples and region health.
type HealthVerdict string

// Health verdicts, ordered from best to worst.
const (
	VerdictHealthy  HealthVerdict = "healthy"
	VerdictDegraded HealthVerdict = "degraded"
	VerdictCritical HealthVerdict = "critical"
)
