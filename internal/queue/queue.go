// Package queue implements the durable FIFO of discovery jobs (component
// G). It is deliberately layered on the same internal/cache.Store
// connection as component F rather than a dedicated message broker,
// mirroring the teacher's own preference for one store (SQLite) doing
// everything — its BotTodo/BotLog tables are the teacher's equivalent of
// a lightweight per-bot work queue, reused rather than duplicated.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/flipper1994/discovery-engine/internal/cache"
	"github.com/flipper1994/discovery-engine/internal/errs"
	"github.com/flipper1994/discovery-engine/internal/models"
)

const listKey = "discovery:queue:discovery"

func pendingKey(strategy string) string { return "discovery:queue:pending:" + strategy }

// store is the subset of cache.Store the queue depends on.
type store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	GetJSON(ctx context.Context, key string, v interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	RPush(ctx context.Context, key string, value []byte) error
	BLPop(ctx context.Context, timeout time.Duration, key string) ([]byte, bool, error)
}

// Queue is the durable FIFO of discovery jobs.
type Queue struct {
	store            store
	resultTTL        time.Duration
	defaultTimeoutS  int
}

// New builds a Queue against store with the given result TTL and default
// per-job timeout.
func New(store store, resultTTL time.Duration, defaultTimeoutSeconds int) *Queue {
	return &Queue{store: store, resultTTL: resultTTL, defaultTimeoutS: defaultTimeoutSeconds}
}

// Enqueue creates a JobRecord in state "queued", persists it, pushes its
// ID onto the FIFO list, and returns the record.
func (q *Queue) Enqueue(ctx context.Context, strategy string, limit int) (*models.JobRecord, error) {
	job := &models.JobRecord{
		JobID:          uuid.NewString(),
		Strategy:       strategy,
		Limit:          limit,
		State:          models.JobQueued,
		EnqueuedAt:     time.Now(),
		TimeoutSeconds: q.defaultTimeoutS,
	}
	if err := q.store.SetJSON(ctx, cache.StatusKey(job.JobID), job, q.resultTTL); err != nil {
		return nil, err
	}
	if err := q.store.RPush(ctx, listKey, []byte(job.JobID)); err != nil {
		return nil, errs.Wrap(errs.KindQueueUnavailable, "enqueue", err)
	}
	return job, nil
}

// EnqueueIfAbsent enqueues a new job for strategy unless one is already
// pending (queued or running), in which case it returns that existing
// job instead of creating a duplicate. The pending marker is cleared by
// Update once the job reaches a terminal state.
func (q *Queue) EnqueueIfAbsent(ctx context.Context, strategy string, limit int) (*models.JobRecord, error) {
	raw, ok, err := q.store.Get(ctx, pendingKey(strategy))
	if err != nil {
		return nil, err
	}
	if ok {
		if job, found, err := q.Fetch(ctx, string(raw)); err == nil && found {
			return job, nil
		}
	}

	job, err := q.Enqueue(ctx, strategy, limit)
	if err != nil {
		return nil, err
	}
	pendingTTL := time.Duration(q.defaultTimeoutS)*time.Second + time.Minute
	if err := q.store.Set(ctx, pendingKey(strategy), []byte(job.JobID), pendingTTL); err != nil {
		return nil, errs.Wrap(errs.KindQueueUnavailable, "mark pending", err)
	}
	return job, nil
}

// Fetch returns the current JobRecord for jobID.
func (q *Queue) Fetch(ctx context.Context, jobID string) (*models.JobRecord, bool, error) {
	var job models.JobRecord
	ok, err := q.store.GetJSON(ctx, cache.StatusKey(jobID), &job)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &job, true, nil
}

// PollReady blocks cooperatively (up to timeout) for the next queued job
// ID and returns its JobRecord.
func (q *Queue) PollReady(ctx context.Context, timeout time.Duration) (*models.JobRecord, bool, error) {
	raw, ok, err := q.store.BLPop(ctx, timeout, listKey)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindQueueUnavailable, "poll_ready", err)
	}
	if !ok {
		return nil, false, nil
	}
	jobID := string(raw)
	job, found, err := q.Fetch(ctx, jobID)
	if err != nil || !found {
		return nil, false, err
	}
	return job, true, nil
}

// Update persists a mutated JobRecord with the queue's configured result
// TTL.
func (q *Queue) Update(ctx context.Context, job *models.JobRecord) error {
	if err := q.store.SetJSON(ctx, cache.StatusKey(job.JobID), job, q.resultTTL); err != nil {
		return err
	}
	if job.State == models.JobFinished || job.State == models.JobFailed {
		_ = q.store.Del(ctx, pendingKey(job.Strategy))
	}
	return nil
}

// MarshalForLog is a small helper the worker uses when writing a failed
// job's error to structured logs.
func MarshalForLog(job *models.JobRecord) string {
	raw, err := json.Marshal(job)
	if err != nil {
		return job.JobID
	}
	return string(raw)
}
