package dataplane

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ciscoittech/pingtopass-dataplane/query"
	"github.com/ciscoittech/pingtopass-dataplane/region"
	"github.com/ciscoittech/pingtopass-dataplane/storage"
	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// fakeReadHandle serves reads from a mutable dataset keyed by query
// fingerprint, answering health pings like a real replica.
type fakeReadHandle struct {
	mu    sync.Mutex
	data  map[string]any
	reads int
}

func newFakeReadHandle(data map[string]any) *fakeReadHandle {
	if data == nil {
		data = make(map[string]any)
	}
	return &fakeReadHandle{data: data}
}

func (f *fakeReadHandle) ExecuteRead(ctx context.Context, op types.Operation) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op.Name == region.PingOperation.Name {
		return "pong", nil
	}
	f.reads++
	return f.data[query.Key(op)], nil
}

func (f *fakeReadHandle) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeReadHandle) put(key string, value any) {
	f.mu.Lock()
	f.data[key] = value
	f.mu.Unlock()
}

type fakeWriteHandle struct {
	mu       sync.Mutex
	replicas []*fakeReadHandle
}

func (f *fakeWriteHandle) ExecuteWrite(ctx context.Context, op types.Operation) (types.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, _ := op.Params["target"].(string)
	for _, r := range f.replicas {
		r.put(target, op.Params["value"])
	}
	return types.WriteResult{RowsAffected: 1}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InstanceID = "test-node"
	cfg.Regions = []region.Config{
		{ID: "us-east", Priority: 1, Primary: true},
		{ID: "eu-west", Priority: 2},
	}
	cfg.Cache.TTLByOperation = map[string]Duration{
		"examById": Duration(300 * time.Second),
	}
	return cfg
}

func newTestDataplane(t *testing.T) (*Dataplane, *fakeReadHandle, *fakeReadHandle) {
	t.Helper()

	examKey := query.Key(types.Operation{Name: "examById", Params: map[string]any{"id": 42}})
	us := newFakeReadHandle(map[string]any{examKey: "exam-42"})
	eu := newFakeReadHandle(map[string]any{examKey: "exam-42"})

	dp, err := New(testConfig(), Dependencies{
		Reads: map[types.RegionID]region.ReadHandle{
			"us-east": us,
			"eu-west": eu,
		},
		Write:  &fakeWriteHandle{replicas: []*fakeReadHandle{us, eu}},
		Shared: storage.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("Failed to create dataplane: %v", err)
	}
	t.Cleanup(func() { dp.Close() })

	return dp, us, eu
}

func TestDataplaneReadCachesResult(t *testing.T) {
	dp, us, eu := newTestDataplane(t)
	ctx := context.Background()
	req := ReadRequest{
		Op:        types.Operation{Name: "examById", Params: map[string]any{"id": 42}},
		Preferred: "eu-west",
	}

	first, err := dp.Read(ctx, req)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if first != "exam-42" {
		t.Fatalf("Expected exam-42, got %v", first)
	}

	second, err := dp.Read(ctx, req)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if second != first {
		t.Fatalf("Cached read disagrees: %v vs %v", first, second)
	}
	if total := us.readCount() + eu.readCount(); total != 1 {
		t.Fatalf("Second read must come from cache, got %d replica reads", total)
	}

	stats := dp.CacheStats()
	if stats.LocalHits != 1 {
		t.Fatalf("Expected one local hit, got %+v", stats)
	}

	snap := dp.Snapshot()
	if snap.Hits != 1 || snap.Misses != 1 {
		t.Fatalf("Expected 1 hit and 1 miss in telemetry, got %d/%d", snap.Hits, snap.Misses)
	}
	if snap.Verdict == types.VerdictCritical {
		t.Fatalf("Unexpected critical verdict: %+v", snap)
	}
}

func TestDataplaneReadYourWrite(t *testing.T) {
	dp, us, eu := newTestDataplane(t)
	ctx := context.Background()

	summaryReq := ReadRequest{
		Op: types.Operation{Name: "userSummary", Params: map[string]any{"userId": 7}},
	}
	summaryKey := query.Key(summaryReq.Op)
	us.put(summaryKey, "3 of 10 complete")
	eu.put(summaryKey, "3 of 10 complete")

	if _, err := dp.Read(ctx, summaryReq); err != nil {
		t.Fatalf("Warmup read failed: %v", err)
	}

	_, err := dp.Write(ctx, Mutation{
		Entity: query.EntityExamProgress,
		Key:    "7",
		Op: types.Operation{Name: "upsertProgress", Params: map[string]any{
			"target": summaryKey, "value": "4 of 10 complete",
		}},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	after, err := dp.Read(ctx, summaryReq)
	if err != nil {
		t.Fatalf("Post-write read failed: %v", err)
	}
	if after != "4 of 10 complete" {
		t.Fatalf("Read after write returned stale data: %v", after)
	}
}

func TestDataplaneWriteBatch(t *testing.T) {
	dp, _, _ := newTestDataplane(t)

	mutations := []Mutation{
		{Entity: query.EntityAnswer, Key: "7", Op: types.Operation{Name: "insertAnswer", Params: map[string]any{"target": "a", "value": 1}}},
		{Entity: query.EntityTestAttempt, Key: "7", Op: types.Operation{Name: "finishAttempt", Params: map[string]any{"target": "b", "value": 2}}},
	}
	results, err := dp.WriteBatch(context.Background(), mutations)
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
}

func TestDataplaneRegions(t *testing.T) {
	dp, _, _ := newTestDataplane(t)

	regions := dp.Regions()
	if len(regions) != 2 {
		t.Fatalf("Expected 2 regions, got %d", len(regions))
	}
	if regions[0].ID != "us-east" || !regions[0].IsPrimary {
		t.Fatalf("Expected us-east primary first, got %+v", regions)
	}
}

func TestDataplaneHandler(t *testing.T) {
	dp, _, _ := newTestDataplane(t)

	rec := httptest.NewRecorder()
	dp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from healthz, got %d", rec.Code)
	}
}

func TestDataplaneClosed(t *testing.T) {
	dp, _, _ := newTestDataplane(t)
	if err := dp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := dp.Close(); err != nil {
		t.Fatalf("Second close should be a no-op, got %v", err)
	}

	_, err := dp.Read(context.Background(), ReadRequest{
		Op: types.Operation{Name: "examById", Params: map[string]any{"id": 42}},
	})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	if _, err := dp.Write(context.Background(), Mutation{Entity: query.EntityExam, Key: "1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed from write, got %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Regions = nil
	if _, err := New(cfg, Dependencies{Shared: storage.NewMemoryStore()}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
}
