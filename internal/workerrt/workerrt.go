// Package workerrt implements the worker runtime (component H): boot
// validation, a heartbeat goroutine, the poll_ready → run → finish/fail
// loop, panic recovery, and SIGTERM/SIGINT drain handling. The
// signal-channel-plus-graceful-drain shape is grounded on
// bobmcallan-vire's cmd/vire-server/main.go (signal.Notify +
// context.WithTimeout shutdown); the heartbeat goroutine is grounded on
// the teacher's startDailyUpdateScheduler goroutine-with-select pattern.
package workerrt

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/flipper1994/discovery-engine/internal/cache"
	"github.com/flipper1994/discovery-engine/internal/errs"
	"github.com/flipper1994/discovery-engine/internal/models"
	"github.com/flipper1994/discovery-engine/internal/pipeline"
	"github.com/flipper1994/discovery-engine/internal/queue"
)

const (
	heartbeatInterval = 30 * time.Second
	heartbeatTTL      = 120 * time.Second
)

// statusStore is the subset of cache.Store the heartbeat needs.
type statusStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// Runtime drives one worker process.
type Runtime struct {
	store    statusStore
	queue    *queue.Queue
	coord    *pipeline.Coordinator
	draining int32
}

// New builds a worker Runtime from its collaborators.
func New(store statusStore, q *queue.Queue, coord *pipeline.Coordinator) *Runtime {
	return &Runtime{store: store, queue: q, coord: coord}
}

// Boot validates configuration and store connectivity, refusing to start
// the runtime if either fails (spec.md §4.H.1).
func (r *Runtime) Boot(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return errs.Wrap(errs.KindConfiguration, "worker boot: store unreachable", err)
	}
	if r.coord == nil {
		return errs.New(errs.KindConfiguration, "worker boot: coordinator not wired")
	}
	return nil
}

// RunHeartbeat writes worker:heartbeat every 30s with a 120s TTL until
// ctx is canceled.
func (r *Runtime) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	r.writeHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.writeHeartbeat(ctx)
		}
	}
}

func (r *Runtime) writeHeartbeat(ctx context.Context) {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.store.Set(ctx, cache.HeartbeatKey(), []byte(now), heartbeatTTL); err != nil {
		log.Printf("[worker] heartbeat write failed: %v", err)
	}
}

// Draining reports whether the runtime has begun a graceful shutdown.
func (r *Runtime) Draining() bool {
	return atomic.LoadInt32(&r.draining) == 1
}

// Drain marks the runtime as draining; the poll loop checks this after
// finishing its current job and exits instead of polling again.
func (r *Runtime) Drain() {
	atomic.StoreInt32(&r.draining, 1)
}

// PollLoop blocks on queue.PollReady and, for each job, marks it
// running, invokes the coordinator with panic recovery, writes the
// result, and marks the job finished or failed. It exits when ctx is
// canceled or Drain has been called and no job is in flight.
func (r *Runtime) PollLoop(ctx context.Context, cacheStore *cache.Store, cacheTTL, lastTTL time.Duration) {
	for {
		if r.Draining() {
			log.Println("[worker] draining, exiting poll loop")
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := r.queue.PollReady(ctx, 5*time.Second)
		if err != nil {
			log.Printf("[worker] poll_ready error: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		r.runJob(ctx, job, cacheStore, cacheTTL, lastTTL)
	}
}

func (r *Runtime) runJob(ctx context.Context, job *models.JobRecord, cacheStore *cache.Store, cacheTTL, lastTTL time.Duration) {
	job.State = models.JobRunning
	job.StartedAt = time.Now()
	_ = r.queue.Update(ctx, job)

	jobCtx := ctx
	var cancel context.CancelFunc
	if job.TimeoutSeconds > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	result, runErr := r.safeRun(jobCtx, job)

	if jobCtx.Err() == context.DeadlineExceeded {
		job.State = models.JobFailed
		job.ErrorKind = string(errs.KindJobTimeout)
		job.Error = "job exceeded timeout"
		job.FinishedAt = time.Now()
		_ = r.queue.Update(ctx, job)
		return
	}

	if runErr != nil {
		job.State = models.JobFailed
		job.Error = runErr.Error()
		if kind, ok := errs.KindOf(runErr); ok {
			job.ErrorKind = string(kind)
		}
		job.FinishedAt = time.Now()
		_ = r.queue.Update(ctx, job)
		return
	}

	if err := cacheStore.SetJSON(ctx, cache.ContendersKey(job.Strategy), result, cacheTTL); err != nil {
		log.Printf("[worker] cache write failed: %v", err)
	}
	if err := cacheStore.SetJSON(ctx, cache.ContendersLastKey(job.Strategy), result, lastTTL); err != nil {
		log.Printf("[worker] last-cache write failed: %v", err)
	}

	job.State = models.JobFinished
	job.FinishedAt = time.Now()
	job.ResultRef = cache.ContendersKey(job.Strategy)
	job.ProgressPct = 100
	_ = r.queue.Update(ctx, job)
}

// safeRun invokes the coordinator with panic recovery, per spec.md
// §4.H.3's "catches panics" requirement.
func (r *Runtime) safeRun(ctx context.Context, job *models.JobRecord) (result *models.DiscoveryResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[worker] recovered panic in job %s: %v", job.JobID, p)
			err = errs.New(errs.KindScoringSkipped, "pipeline panicked")
		}
	}()

	status := &jobStatusWriter{queue: r.queue, job: job, ctx: ctx}
	return r.coord.Run(ctx, job.Strategy, job.Limit, status)
}

// jobStatusWriter adapts pipeline.StatusWriter onto a JobRecord update.
type jobStatusWriter struct {
	queue *queue.Queue
	job   *models.JobRecord
	ctx   context.Context
}

func (w *jobStatusWriter) ReportProgress(ctx context.Context, progressPct int, stageLabel string, scannedSoFar, tradeReadySoFar int) {
	w.job.ProgressPct = progressPct
	w.job.StageLabel = stageLabel
	w.job.ScannedSoFar = scannedSoFar
	w.job.TradeReadySoFar = tradeReadySoFar
	_ = w.queue.Update(w.ctx, w.job)
}
