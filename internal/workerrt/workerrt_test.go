package workerrt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flipper1994/discovery-engine/internal/cache"
	"github.com/flipper1994/discovery-engine/internal/errs"
	"github.com/flipper1994/discovery-engine/internal/models"
	"github.com/flipper1994/discovery-engine/internal/pipeline"
	"github.com/flipper1994/discovery-engine/internal/queue"
)

// fakeStatusStore is an in-process double for the heartbeat's subset of
// cache.Store.
type fakeStatusStore struct {
	mu       sync.Mutex
	writes   int
	lastVal  string
	pingErr  error
}

func (f *fakeStatusStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.lastVal = string(value)
	return nil
}

func (f *fakeStatusStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStatusStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func TestBoot_FailsWhenStoreUnreachable(t *testing.T) {
	store := &fakeStatusStore{pingErr: errors.New("connection refused")}
	r := New(store, nil, &pipeline.Coordinator{})
	if err := r.Boot(context.Background()); err == nil {
		t.Fatal("expected boot failure when store ping fails")
	}
}

func TestBoot_FailsWhenCoordinatorNil(t *testing.T) {
	store := &fakeStatusStore{}
	r := New(store, nil, nil)
	if err := r.Boot(context.Background()); err == nil {
		t.Fatal("expected boot failure when coordinator is not wired")
	}
}

func TestBoot_SucceedsWhenWired(t *testing.T) {
	store := &fakeStatusStore{}
	r := New(store, nil, &pipeline.Coordinator{})
	if err := r.Boot(context.Background()); err != nil {
		t.Fatalf("expected boot to succeed, got %v", err)
	}
}

func TestRunHeartbeat_WritesImmediatelyAndExitsOnCancel(t *testing.T) {
	store := &fakeStatusStore{}
	r := New(store, nil, &pipeline.Coordinator{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunHeartbeat(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for store.writeCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if store.writeCount() < 1 {
		t.Fatal("expected at least one immediate heartbeat write")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected RunHeartbeat to exit after context cancellation")
	}
}

func TestDrainFlag_TogglesAfterDrain(t *testing.T) {
	r := New(&fakeStatusStore{}, nil, &pipeline.Coordinator{})
	if r.Draining() {
		t.Fatal("expected Draining to be false before Drain is called")
	}
	r.Drain()
	if !r.Draining() {
		t.Fatal("expected Draining to be true after Drain is called")
	}
}

func TestSafeRun_RecoversFromPanic(t *testing.T) {
	store := &fakeStatusStore{}
	// A zero-value Coordinator's lockStore is a nil interface; calling
	// AcquireLock against it panics on the first method dispatch, which
	// is exactly the "pipeline panicked mid-run" case safeRun must
	// recover from per spec.md §4.H.3.
	r := New(store, queue.New(nil, time.Hour, 900), &pipeline.Coordinator{})
	job := &models.JobRecord{JobID: "job-1", Strategy: "hybrid_v1", Limit: 50}

	_, err := r.safeRun(context.Background(), job)
	if err == nil {
		t.Fatal("expected safeRun to convert the panic into an error")
	}
	kind, ok := errs.KindOf(err)
	if !ok || kind != errs.KindScoringSkipped {
		t.Fatalf("expected KindScoringSkipped, got %v", err)
	}
}

func TestHeartbeatKey_IsStable(t *testing.T) {
	if cache.HeartbeatKey() != "worker:heartbeat" {
		t.Fatalf("unexpected heartbeat key: %s", cache.HeartbeatKey())
	}
}
