// Package config loads and validates the environment-driven configuration
// shared by the gateway and worker binaries. It follows the teacher's
// convention of reading os.Getenv directly in a handful of typed helpers
// (see the original main()'s DB_PATH/TWELVE_DATA_API_KEY reads) rather than
// pulling in a config-file library that nothing in the reference corpus
// uses directly.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every environment-recognized knob from spec.md §6.
type Config struct {
	UpstreamAPIKey string
	StoreURL       string
	RedisDB        int

	PriceMin float64
	PriceMax float64

	MinDollarVolM float64

	UniverseMinExpected int
	UniverseK           int

	Concurrency int
	RatePerSec  int

	RVOLWindowMin  int
	RVOLThreshold  float64

	ClassifyTradeReady int
	ClassifyBuilder    int
	ClassifyMonitor    int

	CacheTTLSeconds   int
	JobTimeoutSeconds int
	ResultTTLSeconds  int

	EarlyStopScan     int
	TargetTradeReady  int

	AuditDBPath string
	HTTPAddr    string

	EngineVersion string
	SchemaVersion string
}

// Load reads configuration from the environment, applying the defaults
// named in spec.md §6, and validates the required keys.
func Load() (*Config, error) {
	cfg := &Config{
		UpstreamAPIKey: os.Getenv("UPSTREAM_API_KEY"),
		StoreURL:       os.Getenv("STORE_URL"),
		RedisDB:        getEnvInt("REDIS_DB", 0),

		PriceMin: getEnvFloat("PRICE_MIN", 0.50),
		PriceMax: getEnvFloat("PRICE_MAX", 100.00),

		MinDollarVolM: getEnvFloat("MIN_DOLLAR_VOL_M", 5.0),

		UniverseMinExpected: getEnvInt("UNIVERSE_MIN_EXPECTED", 4500),
		UniverseK:           getEnvInt("UNIVERSE_K", 3000),

		Concurrency: getEnvInt("CONCURRENCY", 8),
		RatePerSec:  getEnvInt("RATE_PER_SEC", 5),

		RVOLWindowMin: getEnvInt("RVOL_WINDOW_MIN", 15),
		RVOLThreshold: getEnvFloat("RVOL_THRESHOLD", 3.0),

		ClassifyTradeReady: getEnvInt("CLASSIFY_TRADE_READY", 75),
		ClassifyBuilder:    getEnvInt("CLASSIFY_BUILDER", 70),
		ClassifyMonitor:    getEnvInt("CLASSIFY_MONITOR", 60),

		CacheTTLSeconds:   getEnvInt("CACHE_TTL_SECONDS", 600),
		JobTimeoutSeconds: getEnvInt("JOB_TIMEOUT_SECONDS", 900),
		ResultTTLSeconds:  getEnvInt("RESULT_TTL_SECONDS", 3600),

		EarlyStopScan:    getEnvInt("EARLY_STOP_SCAN", 100000),
		TargetTradeReady: getEnvInt("TARGET_TRADE_READY", 25),

		AuditDBPath: getEnvString("AUDIT_DB_PATH", "./data/audit.db"),
		HTTPAddr:    getEnvString("HTTP_ADDR", ":8080"),

		EngineVersion: "discovery-engine-go/1.0",
		SchemaVersion: "v1",
	}

	if cfg.UpstreamAPIKey == "" {
		return nil, fmt.Errorf("config: UPSTREAM_API_KEY is required")
	}
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("config: STORE_URL is required")
	}

	return cfg, nil
}

func getEnvString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(name string, fallback float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
