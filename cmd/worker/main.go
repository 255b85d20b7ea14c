// Command worker runs the discovery engine's background worker: it
// writes a liveness heartbeat, drains the job queue, and writes results
// back into the shared store. Signal handling mirrors cmd/server's
// bobmcallan-vire-grounded shutdown, but drains the poll loop instead of
// an http.Server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flipper1994/discovery-engine/internal/cache"
	"github.com/flipper1994/discovery-engine/internal/config"
	"github.com/flipper1994/discovery-engine/internal/pipeline"
	"github.com/flipper1994/discovery-engine/internal/queue"
	"github.com/flipper1994/discovery-engine/internal/scoring"
	"github.com/flipper1994/discovery-engine/internal/snapshot"
	"github.com/flipper1994/discovery-engine/internal/universe"
	"github.com/flipper1994/discovery-engine/internal/upstream"
	"github.com/flipper1994/discovery-engine/internal/workerrt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	cacheStore, err := cache.New(cfg.StoreURL, cfg.RedisDB)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}

	upstreamClient := upstream.New(cfg.UpstreamAPIKey, cfg.RatePerSec, cfg.RatePerSec, cfg.Concurrency)
	universeLoader := universe.New(upstreamClient, cfg.PriceMin, cfg.PriceMax, cfg.MinDollarVolM, cfg.UniverseMinExpected)
	snapshotFilter := snapshot.New(upstreamClient, cfg.PriceMin, cfg.PriceMax, cfg.MinDollarVolM, cfg.UniverseK)
	scorer := scoring.New(upstreamClient, scoring.Thresholds{
		RVOLWindowMin:      cfg.RVOLWindowMin,
		RVOLThreshold:      cfg.RVOLThreshold,
		ClassifyTradeReady: cfg.ClassifyTradeReady,
		ClassifyBuilder:    cfg.ClassifyBuilder,
		ClassifyMonitor:    cfg.ClassifyMonitor,
	})

	jobQueue := queue.New(cacheStore, time.Duration(cfg.ResultTTLSeconds)*time.Second, cfg.JobTimeoutSeconds)

	coord := pipeline.New(universeLoader, snapshotFilter, scorer, upstreamClient, cacheStore, pipeline.Config{
		Concurrency:      cfg.Concurrency,
		EarlyStopScan:    cfg.EarlyStopScan,
		TargetTradeReady: cfg.TargetTradeReady,
		EngineVersion:    cfg.EngineVersion,
		JobTimeout:       time.Duration(cfg.JobTimeoutSeconds) * time.Second,
	})

	runtime := workerrt.New(cacheStore, jobQueue, coord)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	if err := runtime.Boot(bootCtx); err != nil {
		log.Fatalf("worker boot failed: %v", err)
	}
	cancelBoot()

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runtime.RunHeartbeat(ctx)
	}()
	go func() {
		defer wg.Done()
		runtime.PollLoop(ctx, cacheStore, time.Duration(cfg.CacheTTLSeconds)*time.Second, time.Duration(cfg.ResultTTLSeconds)*time.Second)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("[worker] shutdown signal received, draining")

	runtime.Drain()
	cancel()
	wg.Wait()
	log.Println("[worker] stopped")
}
