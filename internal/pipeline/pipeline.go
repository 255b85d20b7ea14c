// Package pipeline implements the coordinator (component E) that
// orchestrates one DiscoveryResult end-to-end: acquire the strategy
// lock, run the universe loader and snapshot filter, fan out scoring
// with bounded concurrency, and write progressive status updates. The
// chunk-with-shared-semaphore fan-out is grounded on the teacher's
// worker-pool scanning loops (its arena-batch and multi-strategy
// backtest runners), which process symbol lists in fixed-size chunks
// against a shared concurrency limiter.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flipper1994/discovery-engine/internal/models"
	"github.com/flipper1994/discovery-engine/internal/queue"
	"github.com/flipper1994/discovery-engine/internal/scoring"
	"github.com/flipper1994/discovery-engine/internal/snapshot"
	"github.com/flipper1994/discovery-engine/internal/universe"
	"github.com/flipper1994/discovery-engine/internal/upstream"
)

const (
	chunkSize           = 100
	lockRefreshInterval = 60 * time.Second
)

// detailsFetcher is the subset of the upstream client used to batch-load
// structural details ahead of scoring.
type detailsFetcher interface {
	TickerDetailsBatch(ctx context.Context, symbols []models.Symbol) ([]upstream.Details, error)
}

// StatusWriter is the progressive-status sink the coordinator reports
// into after each chunk (implemented by the worker via the job queue).
type StatusWriter interface {
	ReportProgress(ctx context.Context, progressPct int, stageLabel string, scannedSoFar, tradeReadySoFar int)
}

// noopStatusWriter discards progress updates, used when the caller has
// no job to report against (e.g. the gateway's synchronous fallback).
type noopStatusWriter struct{}

func (noopStatusWriter) ReportProgress(context.Context, int, string, int, int) {}

// Config bundles the coordinator's tunables.
type Config struct {
	Concurrency      int
	EarlyStopScan    int
	TargetTradeReady int
	EngineVersion    string
	JobTimeout       time.Duration
}

// lockStore is the subset of cache.Store AcquireLock needs, expressed
// here to avoid a direct cache import.
type lockStore interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Coordinator wires B, C, D together for one strategy.
type Coordinator struct {
	universeLoader *universe.Loader
	snapshotFilter *snapshot.Filter
	scorer         *scoring.Scorer
	details        detailsFetcher
	lockStore      lockStore
	cfg            Config
}

// New builds a Coordinator from its collaborators. lockStore backs the
// per-strategy discovery lock (spec.md §4.E.1); pass the same
// internal/cache.Store used for F.
func New(universeLoader *universe.Loader, snapshotFilter *snapshot.Filter, scorer *scoring.Scorer, details detailsFetcher, lockStore lockStore, cfg Config) *Coordinator {
	return &Coordinator{
		universeLoader: universeLoader,
		snapshotFilter: snapshotFilter,
		scorer:         scorer,
		details:        details,
		lockStore:      lockStore,
		cfg:            cfg,
	}
}

// Run executes one full discovery run for strategy, truncated to limit
// candidates, reporting progress through status after each chunk.
func (c *Coordinator) Run(ctx context.Context, strategy string, limit int, status StatusWriter) (*models.DiscoveryResult, error) {
	if status == nil {
		status = noopStatusWriter{}
	}

	jobTimeout := c.cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 900 * time.Second
	}
	lock, err := queue.AcquireLock(ctx, c.lockStore, strategy, jobTimeout)
	if err != nil {
		return nil, err
	}

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	lockFailed := make(chan error, 1)
	lock.RunRefresher(workCtx, lockRefreshInterval, lockFailed)
	go func() {
		select {
		case <-lockFailed:
			cancelWork()
		case <-workCtx.Done():
		}
	}()
	defer func() { _ = lock.Release(context.Background()) }()
	ctx = workCtx

	start := time.Now()
	result := &models.DiscoveryResult{
		RunID:         uuid.NewString(),
		StartedAt:     start,
		StrategyTag:   strategy,
		EngineVersion: c.cfg.EngineVersion,
	}

	universeStart := time.Now()
	date := universe.TradingDate(start)
	uResult, err := c.universeLoader.Load(ctx, date)
	if err != nil {
		return nil, err
	}
	result.UniverseCount = uResult.Stats.TotalFetched
	result.PrefilterCount = uResult.Stats.FinalCount
	result.StageTimingsMs.UniverseMs = time.Since(universeStart).Milliseconds()

	snapshotStart := time.Now()
	snaps, err := c.snapshotFilter.Apply(ctx, uResult.Entries)
	if err != nil {
		return nil, err
	}
	result.SnapshotCount = len(snaps)
	result.StageTimingsMs.SnapshotMs = time.Since(snapshotStart).Milliseconds()

	scoringStart := time.Now()
	candidates := c.scoreAll(ctx, snaps, strategy, status)
	result.ScoredCount = len(snaps)
	result.StageTimingsMs.ScoringMs = time.Since(scoringStart).Milliseconds()

	sortCandidates(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	result.Candidates = candidates
	result.FinishedAt = time.Now()
	result.StageTimingsMs.TotalMs = result.FinishedAt.Sub(start).Milliseconds()

	return result, nil
}

// scoreAll fans out scoring over snaps in fixed-size chunks with a shared
// concurrency semaphore, reporting progress after each chunk and
// honoring the early-stop rule.
func (c *Coordinator) scoreAll(ctx context.Context, snaps []models.Snapshot, strategy string, status StatusWriter) []models.Candidate {
	concurrency := c.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	sem := make(chan struct{}, concurrency)

	var candidates []models.Candidate
	var mu sync.Mutex
	scanned := 0
	tradeReady := 0

	detailsBySymbol := c.loadDetails(ctx, snaps)

	for chunkStart := 0; chunkStart < len(snaps); chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(snaps) {
			chunkEnd = len(snaps)
		}
		chunk := snaps[chunkStart:chunkEnd]

		var wg sync.WaitGroup
		for _, snap := range chunk {
			snap := snap
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				var details *upstream.Details
				if d, ok := detailsBySymbol[snap.Symbol]; ok {
					details = &d
				}

				candidate, err := c.scorer.Score(ctx, snap, details)
				mu.Lock()
				defer mu.Unlock()
				scanned++
				if err != nil {
					// per-symbol failures are counted, never fatal
					// (spec.md §4.E.3 / §7 ScoringSkipped).
					return
				}
				if candidate == nil {
					return
				}
				candidates = append(candidates, *candidate)
				if candidate.Classification == models.TradeReady {
					tradeReady++
				}
			}()
		}
		wg.Wait()

		progressPct := 0
		if len(snaps) > 0 {
			progressPct = chunkEnd * 100 / len(snaps)
		}
		status.ReportProgress(ctx, progressPct, "scoring", scanned, tradeReady)

		if scanned >= c.cfg.EarlyStopScan && tradeReady >= c.cfg.TargetTradeReady {
			break
		}
	}

	return candidates
}

// loadDetails best-effort batch-loads structural details for every
// snapshot's symbol ahead of scoring; a failure here degrades to "no
// structural data" for the whole run rather than aborting it, since
// squeeze scoring has a documented heuristic fallback.
func (c *Coordinator) loadDetails(ctx context.Context, snaps []models.Snapshot) map[models.Symbol]upstream.Details {
	symbols := make([]models.Symbol, len(snaps))
	for i, s := range snaps {
		symbols[i] = s.Symbol
	}
	details, err := c.details.TickerDetailsBatch(ctx, symbols)
	if err != nil {
		return nil
	}
	out := make(map[models.Symbol]upstream.Details, len(details))
	for _, d := range details {
		out[d.Symbol] = d
	}
	return out
}

// sortCandidates orders by (-total_score, -dollar_volume, symbol asc),
// the tie-break rule from spec.md §4.E.
func sortCandidates(candidates []models.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.DollarVolume != b.DollarVolume {
			return a.DollarVolume > b.DollarVolume
		}
		return a.Symbol < b.Symbol
	})
}
