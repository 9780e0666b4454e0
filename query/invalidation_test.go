package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ciscoittech/pingtopass-dataplane/cache"
	"github.com/ciscoittech/pingtopass-dataplane/storage"
	"github.com/ciscoittech/pingtopass-dataplane/types"
)

func newTestCache(t *testing.T) *cache.Layered {
	t.Helper()

	opts := cache.DefaultOptions()
	opts.Shared = storage.NewMemoryStore()
	layered, err := cache.NewLayered(opts)
	if err != nil {
		t.Fatalf("Failed to create layered cache: %v", err)
	}
	t.Cleanup(func() { layered.Close() })
	return layered
}

// fakePublisher captures broadcast events.
type fakePublisher struct {
	mu     sync.Mutex
	events []types.InvalidationEvent
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, event types.InvalidationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func TestEveryEntityHasPrefixes(t *testing.T) {
	// The table is the correctness-critical artifact: every declared
	// entity must resolve to at least one prefix, and every prefix
	// must be non-empty and rooted in an operation name.
	inv := NewInvalidator(newTestCache(t), nil, nil)

	for _, entity := range Entities() {
		prefixes, err := inv.PrefixesFor(entity, "123")
		if err != nil {
			t.Fatalf("Entity %s has no mapping: %v", entity, err)
		}
		if len(prefixes) == 0 {
			t.Fatalf("Entity %s maps to no prefixes", entity)
		}
		for _, prefix := range prefixes {
			if prefix == "" || types.KeyRoot(prefix) == "" {
				t.Fatalf("Entity %s has a malformed prefix %q", entity, prefix)
			}
		}
	}
}

func TestUserScopedEntitiesCoverSummaries(t *testing.T) {
	// A user-progress write must also purge the user's aggregate
	// views; serving a stale summary is the failure mode this table
	// exists to prevent.
	inv := NewInvalidator(newTestCache(t), nil, nil)

	for _, entity := range []EntityType{EntityExamProgress, EntityAnswer, EntityTestAttempt} {
		prefixes, err := inv.PrefixesFor(entity, "7")
		if err != nil {
			t.Fatalf("Entity %s: %v", entity, err)
		}
		found := false
		for _, prefix := range prefixes {
			if prefix == Prefix("userSummary", "userId", "7") {
				found = true
			}
		}
		if !found {
			t.Fatalf("Entity %s does not invalidate the user summary: %v", entity, prefixes)
		}
	}
}

func TestInvalidateUnknownEntity(t *testing.T) {
	inv := NewInvalidator(newTestCache(t), nil, nil)

	err := inv.Invalidate(context.Background(), EntityType("bogus"), "1")
	if !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("Expected ErrUnknownEntity, got %v", err)
	}
}

func TestInvalidatePurgesDerivedEntries(t *testing.T) {
	layered := newTestCache(t)
	inv := NewInvalidator(layered, nil, nil)
	ctx := context.Background()

	keys := []string{
		"examProgress:userId=7:a",
		"userSummary:userId=7",
		"userDashboard:userId=7",
		"userSummary:userId=8",
	}
	for _, key := range keys {
		if err := layered.Set(ctx, key, "v", time.Minute); err != nil {
			t.Fatalf("Failed to seed %s: %v", key, err)
		}
	}

	if err := inv.Invalidate(ctx, EntityExamProgress, "7"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	for _, key := range keys[:3] {
		if _, found := layered.Get(ctx, key); found {
			t.Fatalf("Key %s should be purged", key)
		}
	}
	if _, found := layered.Get(ctx, "userSummary:userId=8"); !found {
		t.Fatal("Another user's summary must survive")
	}
}

func TestInvalidateBroadcasts(t *testing.T) {
	publisher := &fakePublisher{}
	inv := NewInvalidator(newTestCache(t), publisher, nil)

	if err := inv.Invalidate(context.Background(), EntityExam, "42"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.events) != 1 {
		t.Fatalf("Expected one broadcast, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Entity != string(EntityExam) || len(event.Prefixes) == 0 {
		t.Fatalf("Unexpected event: %+v", event)
	}
}

func TestInvalidateBroadcastFailureIsAbsorbed(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("channel down")}
	inv := NewInvalidator(newTestCache(t), publisher, nil)

	// The local and shared purges succeeded; a lost broadcast only
	// delays sibling local layers and must not fail the write.
	if err := inv.Invalidate(context.Background(), EntityExam, "42"); err != nil {
		t.Fatalf("Broadcast failure must be absorbed, got %v", err)
	}
}
