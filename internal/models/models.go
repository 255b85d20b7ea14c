// Package models defines the shared data shapes that flow through the
// discovery pipeline: raw upstream bars, intraday snapshots, scorer
// features, candidates, and the job/cache records that carry them across
// process boundaries.
package models

import "time"

// Symbol is an opaque uppercase ticker identifier, 1-5 chars, letters/dots.
type Symbol string

// RawBar is one session's OHLCV for a symbol from the grouped endpoint.
// Immutable once produced by the universe loader.
type RawBar struct {
	Symbol    Symbol  `json:"symbol"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	VWAP      float64 `json:"vwap"`
	PrevClose float64 `json:"prev_close"`
	Time      int64   `json:"time"` // unix seconds, session date
}

// Snapshot is the current-session state for a symbol. Immutable once
// produced by the snapshot filter.
type Snapshot struct {
	Symbol     Symbol    `json:"symbol"`
	LastPrice  float64   `json:"last_price"`
	DayVolume  float64   `json:"day_volume"`
	PrevClose  float64   `json:"prev_close"`
	Timestamp  time.Time `json:"timestamp"`
}

// TickerFeatures is the full input to the scorer. Optional structural
// fields are tagged distinctly from zero via the Has* booleans so the
// scorer can degrade to its documented heuristics instead of fabricating
// values (see SPEC_FULL.md §9, third open question).
type TickerFeatures struct {
	Symbol Symbol `json:"symbol"`

	Price                 float64 `json:"price"`
	DollarVolume          float64 `json:"dollar_volume"`
	ChangePct             float64 `json:"change_pct"`
	ATRPct                float64 `json:"atr_pct"`
	RSI                   float64 `json:"rsi"`
	EMA9                  float64 `json:"ema_9"`
	EMA20                 float64 `json:"ema_20"`
	VWAP                  float64 `json:"vwap"`
	RelVolCurrent         float64 `json:"rel_vol_current"`
	RelVolSustainedWindow float64 `json:"rel_vol_sustained_window"`
	ExtensionATRs         float64 `json:"extension_atrs"`

	// MinutesSinceVWAPReclaim is the number of minutes since price last
	// crossed back above VWAP, or -1 if no reclaim has happened this
	// session.
	MinutesSinceVWAPReclaim int `json:"minutes_since_vwap_reclaim"`
	ShortSaleRestricted     bool `json:"short_sale_restricted"`

	HasFloat bool    `json:"has_float"`
	Float    float64 `json:"float,omitempty"`

	HasShortInterest bool    `json:"has_short_interest"`
	ShortInterestPct float64 `json:"short_interest_pct,omitempty"`

	HasBorrowRate bool    `json:"has_borrow_rate"`
	BorrowRate    float64 `json:"borrow_rate,omitempty"`

	// HasUtilization/UtilizationPct mirror HasBorrowRate/BorrowRate: the
	// configured provider never populates them today, but the field is
	// modeled so a future provider can without another schema change.
	HasUtilization bool    `json:"has_utilization"`
	UtilizationPct float64 `json:"utilization_pct,omitempty"`

	HasCatalyst  bool    `json:"has_catalyst"`
	CatalystType string  `json:"catalyst_type,omitempty"`
	CatalystStrength float64 `json:"catalyst_strength,omitempty"`

	HasSocialZScore bool    `json:"has_social_zscore"`
	SocialZScore    float64 `json:"social_zscore,omitempty"`

	HasOptions      bool    `json:"has_options"`
	CallPutOIRatio  float64 `json:"call_put_oi_ratio,omitempty"`
	IVPercentile    float64 `json:"iv_percentile,omitempty"`
	GammaPositive   bool    `json:"gamma_positive,omitempty"`

	// MissingFields counts optional inputs that were absent, per
	// SPEC_FULL.md's explicit-optionals design note (replacing the
	// original's try/except-per-field control flow).
	MissingFields int `json:"missing_fields"`
}

// ComponentScores are six bounded integer sub-scores.
type ComponentScores struct {
	VolumeTrend int `json:"volume_trend"` // 0-25
	Squeeze     int `json:"squeeze"`      // 0-20
	Catalyst    int `json:"catalyst"`     // 0-20
	Social      int `json:"social"`       // 0-15
	Options     int `json:"options"`      // 0-10
	Technical   int `json:"technical"`    // 0-10
}

// Sum returns the unweighted sum of the six component scores.
func (c ComponentScores) Sum() int {
	return c.VolumeTrend + c.Squeeze + c.Catalyst + c.Social + c.Options + c.Technical
}

// Classification is the coarse tier a Candidate is bucketed into, derived
// purely from TotalScore.
type Classification string

const (
	TradeReady Classification = "TRADE_READY"
	Builder    Classification = "BUILDER"
	Monitor    Classification = "MONITOR"
	Ignore     Classification = "IGNORE"
)

// Candidate is the scored output for one symbol.
type Candidate struct {
	Symbol              Symbol           `json:"symbol"`
	Price               float64          `json:"price"`
	Volume              float64          `json:"volume"`
	DollarVolume        float64          `json:"dollar_volume"`
	ChangePct           float64          `json:"change_pct"`
	RelVolCurrent       float64          `json:"rel_vol_current"`
	RelVolSustained     float64          `json:"rel_vol_sustained"`
	ComponentScores     ComponentScores  `json:"component_scores"`
	TotalScore          int              `json:"total_score"`
	Classification      Classification   `json:"classification"`
	EntrySignal         bool             `json:"entry_signal"`
	TechnicalSnapshot   TechnicalSnapshot `json:"technical_snapshot"`
}

// TechnicalSnapshot carries the indicator values a UI would want to render
// alongside a candidate, without re-deriving them from TickerFeatures.
type TechnicalSnapshot struct {
	EMA9  float64 `json:"ema_9"`
	EMA20 float64 `json:"ema_20"`
	RSI   float64 `json:"rsi"`
	VWAP  float64 `json:"vwap"`
	ATRPct float64 `json:"atr_pct"`
}

// StageTimings records per-stage wall-clock duration of one pipeline run,
// in milliseconds.
type StageTimings struct {
	UniverseMs int64 `json:"universe_ms"`
	SnapshotMs int64 `json:"snapshot_ms"`
	ScoringMs  int64 `json:"scoring_ms"`
	TotalMs    int64 `json:"total_ms"`
}

// DiscoveryResult is one complete pipeline run.
type DiscoveryResult struct {
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	StrategyTag    string        `json:"strategy_tag"`
	UniverseCount  int           `json:"universe_count"`
	PrefilterCount int           `json:"prefilter_count"`
	SnapshotCount  int           `json:"snapshot_count"`
	ScoredCount    int           `json:"scored_count"`
	Candidates     []Candidate   `json:"candidates"`
	StageTimingsMs StageTimings  `json:"stage_timings_ms"`
	EngineVersion  string        `json:"engine_version"`
}

// JobState is the lifecycle state of a JobRecord.
type JobState string

const (
	JobQueued   JobState = "queued"
	JobRunning  JobState = "running"
	JobFinished JobState = "finished"
	JobFailed   JobState = "failed"
)

// JobRecord tracks one discovery job through the queue.
type JobRecord struct {
	JobID       string    `json:"job_id"`
	Strategy    string    `json:"strategy"`
	Limit       int       `json:"limit"`
	State       JobState  `json:"state"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	ProgressPct int       `json:"progress_pct"`
	StageLabel  string    `json:"stage_label,omitempty"`
	ScannedSoFar int      `json:"scanned_so_far"`
	TradeReadySoFar int   `json:"trade_ready_so_far"`
	ResultRef   string    `json:"result_ref,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// UniverseStats is the universe loader's per-run filtering funnel. It is
// not reported by the /discovery/health endpoint.
type UniverseStats struct {
	TotalFetched int `json:"total_fetched"`
	AfterPrice   int `json:"after_price"`
	AfterFund    int `json:"after_fund"`
	AfterVolume  int `json:"after_volume"`
	FinalCount   int `json:"final_count"`
}
