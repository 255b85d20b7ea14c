package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flipper1994/discovery-engine/internal/errs"
	"github.com/flipper1994/discovery-engine/internal/models"
)

// fakeStore is an in-process stand-in for cache.Store's queue/lock
// surface, mirroring the teacher's preference for exercising real
// component wiring against an in-memory double rather than mocking every
// call.
type fakeStore struct {
	mu       sync.Mutex
	values   map[string][]byte
	list     []string
	failNext bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string][]byte)}
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeStore) GetJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (f *fakeStore) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = raw
	return nil
}

func (f *fakeStore) RPush(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, string(value))
	return nil
}

func (f *fakeStore) BLPop(ctx context.Context, timeout time.Duration, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.list) == 0 {
		return nil, false, nil
	}
	v := f.list[0]
	f.list = f.list[1:]
	return []byte(v), true, nil
}

func (f *fakeStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("refresh failed")
	}
	return nil
}

func (f *fakeStore) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func TestEnqueueThenFetch(t *testing.T) {
	q := New(newFakeStore(), time.Hour, 900)
	job, err := q.Enqueue(context.Background(), "hybrid_v1", 50)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	fetched, ok, err := q.Fetch(context.Background(), job.JobID)
	if err != nil || !ok {
		t.Fatalf("fetch: ok=%v err=%v", ok, err)
	}
	if fetched.Strategy != "hybrid_v1" || fetched.Limit != 50 {
		t.Fatalf("unexpected job: %+v", fetched)
	}
}

func TestPollReady_DrainsFIFOOrder(t *testing.T) {
	store := newFakeStore()
	q := New(store, time.Hour, 900)

	first, _ := q.Enqueue(context.Background(), "a", 10)
	second, _ := q.Enqueue(context.Background(), "b", 10)

	got1, ok, err := q.PollReady(context.Background(), time.Millisecond)
	if err != nil || !ok || got1.JobID != first.JobID {
		t.Fatalf("expected first job, got %+v ok=%v err=%v", got1, ok, err)
	}

	got2, ok, err := q.PollReady(context.Background(), time.Millisecond)
	if err != nil || !ok || got2.JobID != second.JobID {
		t.Fatalf("expected second job, got %+v ok=%v err=%v", got2, ok, err)
	}

	_, ok, err = q.PollReady(context.Background(), time.Millisecond)
	if err != nil || ok {
		t.Fatalf("expected empty queue, got ok=%v err=%v", ok, err)
	}
}

func TestEnqueueIfAbsent_ReturnsSameJobWhilePending(t *testing.T) {
	q := New(newFakeStore(), time.Hour, 900)

	first, err := q.EnqueueIfAbsent(context.Background(), "hybrid_v1", 50)
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	second, err := q.EnqueueIfAbsent(context.Background(), "hybrid_v1", 50)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if first.JobID != second.JobID {
		t.Fatalf("expected the same job to be returned, got %s and %s", first.JobID, second.JobID)
	}
}

func TestEnqueueIfAbsent_AllowsNewJobAfterTerminalUpdate(t *testing.T) {
	q := New(newFakeStore(), time.Hour, 900)

	first, err := q.EnqueueIfAbsent(context.Background(), "hybrid_v1", 50)
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	first.State = models.JobFinished
	if err := q.Update(context.Background(), first); err != nil {
		t.Fatalf("update: %v", err)
	}

	second, err := q.EnqueueIfAbsent(context.Background(), "hybrid_v1", 50)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if first.JobID == second.JobID {
		t.Fatal("expected a fresh job after the prior one finished")
	}
}

func TestAcquireLock_ContendedOnSecondCaller(t *testing.T) {
	store := newFakeStore()

	_, err := AcquireLock(context.Background(), store, "hybrid_v1", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	_, err = AcquireLock(context.Background(), store, "hybrid_v1", time.Minute)
	kind, ok := errs.KindOf(err)
	if !ok || kind != errs.KindLockContended {
		t.Fatalf("expected KindLockContended, got %v", err)
	}
}

func TestAcquireLock_ReleaseAllowsReacquire(t *testing.T) {
	store := newFakeStore()

	lock, err := AcquireLock(context.Background(), store, "hybrid_v1", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := AcquireLock(context.Background(), store, "hybrid_v1", time.Minute); err != nil {
		t.Fatalf("expected reacquire to succeed, got %v", err)
	}
}

func TestRunRefresher_AbortsOnRefreshFailure(t *testing.T) {
	store := newFakeStore()
	lock, err := AcquireLock(context.Background(), store, "hybrid_v1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	store.failNext = true

	failed := make(chan error, 1)
	lock.RunRefresher(context.Background(), 5*time.Millisecond, failed)

	select {
	case err := <-failed:
		if err == nil {
			t.Fatal("expected non-nil refresh error")
		}
	case <-time.After(time.Second):
		t.Fatal("expected refresh failure to be reported")
	}
}
