package region

import (
	"context"
	"testing"
	"time"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

func TestProbeMarksHealthy(t *testing.T) {
	registry, _, _ := twoRegionRegistry(t, 1)
	probe := NewProbe(registry, ProbeOptions{Interval: time.Hour, Timeout: time.Second})

	probe.CheckNow(context.Background())

	for _, region := range registry.List() {
		if region.Health != types.HealthHealthy {
			t.Fatalf("Region %s should be healthy after a passing probe, got %s", region.ID, region.Health)
		}
	}
}

func TestProbeHysteresis(t *testing.T) {
	registry, reads, _ := twoRegionRegistry(t, 2)
	reads["eu"].setFail(true)

	probe := NewProbe(registry, ProbeOptions{Interval: time.Hour, Timeout: time.Second})

	probe.CheckNow(context.Background())
	if region, _ := registry.Get("eu"); region.Health == types.HealthUnhealthy {
		t.Fatal("A single probe failure below the threshold must not flip health")
	}

	probe.CheckNow(context.Background())
	if region, _ := registry.Get("eu"); region.Health != types.HealthUnhealthy {
		t.Fatal("Consecutive probe failures at the threshold should flip health")
	}

	reads["eu"].setFail(false)
	probe.CheckNow(context.Background())
	if region, _ := registry.Get("eu"); region.Health != types.HealthHealthy {
		t.Fatal("A passing probe should recover the region immediately")
	}
}

func TestProbeStartStop(t *testing.T) {
	registry, reads, _ := twoRegionRegistry(t, 1)
	probe := NewProbe(registry, ProbeOptions{Interval: 10 * time.Millisecond, Timeout: time.Second})

	probe.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	probe.Stop()

	// The initial round plus at least one tick.
	if reads["us"].callCount() < 2 {
		t.Fatalf("Expected repeated probing, got %d calls", reads["us"].callCount())
	}

	// Stop is idempotent and the probe no longer runs.
	calls := reads["us"].callCount()
	time.Sleep(30 * time.Millisecond)
	if reads["us"].callCount() != calls {
		t.Fatal("Probe should not run after Stop")
	}
}
