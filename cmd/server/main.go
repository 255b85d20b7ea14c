// Command server runs the discovery engine's HTTP gateway: it accepts
// candidates/status/trigger/health requests and answers from the F/G
// store, falling back to a synchronous run when no worker is alive. Boot
// sequencing and the interrupt-driven graceful shutdown are grounded on
// bobmcallan-vire's cmd/vire-server/main.go, adapted onto gin's own
// http.Server field rather than a bare mux.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flipper1994/discovery-engine/internal/audit"
	"github.com/flipper1994/discovery-engine/internal/cache"
	"github.com/flipper1994/discovery-engine/internal/config"
	"github.com/flipper1994/discovery-engine/internal/gateway"
	"github.com/flipper1994/discovery-engine/internal/pipeline"
	"github.com/flipper1994/discovery-engine/internal/queue"
	"github.com/flipper1994/discovery-engine/internal/scoring"
	"github.com/flipper1994/discovery-engine/internal/snapshot"
	"github.com/flipper1994/discovery-engine/internal/universe"
	"github.com/flipper1994/discovery-engine/internal/upstream"
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

	ctx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	if err := cacheStore.Ping(ctx); err != nil {
		log.Fatalf("store unreachable at boot: %v", err)
	}
	cancelBoot()

	auditLog, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		log.Printf("audit log unavailable, continuing without it: %v", err)
		auditLog = audit.Disabled()
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

	gw := gateway.New(cacheStore, jobQueue, coord, cfg.EngineVersion, cfg.SchemaVersion,
		time.Duration(cfg.CacheTTLSeconds)*time.Second, time.Duration(cfg.ResultTTLSeconds)*time.Second,
		gateway.WithAudit(auditLog))

	r := gin.Default()
	gw.Register(r)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("[server] listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[server] failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("[server] shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] shutdown error: %v", err)
	}
	fmt.Println("[server] stopped")
}
