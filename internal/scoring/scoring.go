// Package scoring implements the per-symbol feature extraction, scoring,
// and classification stage (component D). Feature derivation leans on
// internal/indicators for EMA/RSI/ATR/VWAP; the six-component scorer, the
// multiplier rules, and the classification thresholds follow spec.md §4.D
// verbatim. Exception-driven field access in the original (a try/except
// around every optional read) is replaced with explicit Has* optionals
// and a MissingFields counter, per SPEC_FULL.md's design notes.
package scoring

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/flipper1994/discovery-engine/internal/errs"
	"github.com/flipper1994/discovery-engine/internal/models"
	"github.com/flipper1994/discovery-engine/internal/upstream"
)

// aggregatesFetcher is the subset of the upstream client the scorer needs
// to pull historical daily bars for a symbol.
type aggregatesFetcher interface {
	Aggregates(ctx context.Context, symbol models.Symbol, span, from, to string) ([]models.RawBar, error)
}

// Thresholds bundles the scorer's configured knobs.
type Thresholds struct {
	RVOLWindowMin int
	RVOLThreshold float64

	ClassifyTradeReady int
	ClassifyBuilder    int
	ClassifyMonitor    int
}

// RVOLWindow is the scorer-owned sliding window of recent rel_vol_current
// readings for one symbol. Per spec.md §5, this state belongs to the
// scoring task for that symbol within a single run and is never mutated
// from elsewhere.
type RVOLWindow struct {
	readings []reading
}

type reading struct {
	value float64
	at    int64 // unix seconds
}

// Observe records a new rel_vol_current reading at t and returns the
// sustained RVOL: the mean of readings within the trailing window that
// exceed threshold. A first-time window seeds itself with the current
// reading.
func (w *RVOLWindow) Observe(value float64, t int64, windowMin int, threshold float64) float64 {
	w.readings = append(w.readings, reading{value: value, at: t})

	cutoff := t - int64(windowMin)*60
	kept := w.readings[:0]
	for _, r := range w.readings {
		if r.at >= cutoff {
			kept = append(kept, r)
		}
	}
	w.readings = kept

	sum, n := 0.0, 0
	for _, r := range w.readings {
		if r.value > threshold {
			sum += r.value
			n++
		}
	}
	if n == 0 {
		return value
	}
	return sum / float64(n)
}

// Scorer extracts features and scores one symbol at a time.
type Scorer struct {
	client         aggregatesFetcher
	thresholds     Thresholds
	baselinePolicy BaselinePolicy

	windowsMu sync.Mutex
	windows   map[models.Symbol]*RVOLWindow

	aggCacheMu sync.Mutex
	aggCache   map[models.Symbol][]models.RawBar
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithBaselinePolicy overrides the rel_vol_current baseline-derivation
// policy; the default is DefaultBaselinePolicy.
func WithBaselinePolicy(p BaselinePolicy) Option {
	return func(s *Scorer) { s.baselinePolicy = p }
}

// New builds a Scorer against client with the given thresholds.
func New(client aggregatesFetcher, thresholds Thresholds, opts ...Option) *Scorer {
	s := &Scorer{
		client:         client,
		thresholds:     thresholds,
		baselinePolicy: DefaultBaselinePolicy,
		windows:        make(map[models.Symbol]*RVOLWindow),
		aggCache:       make(map[models.Symbol][]models.RawBar),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// windowFor returns (creating if needed) the RVOL window owned by symbol.
func (s *Scorer) windowFor(symbol models.Symbol) *RVOLWindow {
	s.windowsMu.Lock()
	defer s.windowsMu.Unlock()
	w, ok := s.windows[symbol]
	if !ok {
		w = &RVOLWindow{}
		s.windows[symbol] = w
	}
	return w
}

// loadAggregates fetches (and memoizes within this Scorer's lifetime, i.e.
// within one run) at least 20 bars of daily history for symbol.
func (s *Scorer) loadAggregates(ctx context.Context, symbol models.Symbol, asOf time.Time) ([]models.RawBar, error) {
	s.aggCacheMu.Lock()
	if bars, ok := s.aggCache[symbol]; ok {
		s.aggCacheMu.Unlock()
		return bars, nil
	}
	s.aggCacheMu.Unlock()

	to := asOf
	if to.IsZero() {
		to = time.Now()
	}
	from := to.AddDate(0, -2, 0) // ~2 months, comfortably >= 20 trading sessions

	bars, err := s.client.Aggregates(ctx, symbol, "day", from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}

	s.aggCacheMu.Lock()
	s.aggCache[symbol] = bars
	s.aggCacheMu.Unlock()
	return bars, nil
}

// Score runs the full feature-extraction → six-component scoring →
// multiplier → classification pipeline for one symbol. It returns
// (nil, nil) when the symbol's classification is IGNORE, since only
// non-IGNORE candidates are emitted (spec.md §4.D.5).
func (s *Scorer) Score(ctx context.Context, snap models.Snapshot, details *upstream.Details) (*models.Candidate, error) {
	bars, err := s.loadAggregates(ctx, snap.Symbol, snap.Timestamp)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, errs.New(errs.KindScoringSkipped, "no history for "+string(snap.Symbol))
	}

	// Thinner histories than minHistoryForMeanBaseline still get scored:
	// the baseline policy routes them to the hour-of-day fallback rather
	// than the trailing-session mean. Below their own lookback windows the
	// technical indicators return placeholder values instead of failing:
	// indicators.RSI fills with the neutral 50, while indicators.EMA and
	// indicators.ATR return all-zero series.
	features, tech := buildFeatures(snap, bars, details, s.baselinePolicy)

	window := s.windowFor(snap.Symbol)
	asOf := snap.Timestamp.Unix()
	if asOf == 0 {
		asOf = bars[len(bars)-1].Time
	}
	features.RelVolSustainedWindow = window.Observe(
		features.RelVolCurrent, asOf, s.thresholds.RVOLWindowMin, s.thresholds.RVOLThreshold)

	components := scoreComponents(features)
	multiplier := scoreMultiplier(features)
	total := clampScore(int(math.Round(float64(components.Sum()) * multiplier)))
	classification := Classify(total, s.thresholds)

	if classification == models.Ignore {
		return nil, nil
	}

	return &models.Candidate{
		Symbol:            snap.Symbol,
		Price:             features.Price,
		Volume:            snap.DayVolume,
		DollarVolume:      features.DollarVolume,
		ChangePct:         features.ChangePct,
		RelVolCurrent:     features.RelVolCurrent,
		RelVolSustained:   features.RelVolSustainedWindow,
		ComponentScores:   components,
		TotalScore:        total,
		Classification:    classification,
		EntrySignal:       entrySignal(features),
		TechnicalSnapshot: tech,
	}, nil
}

// Classify is the pure function mapping a total score to a
// classification tier. Kept free of Scorer state so it can be tested in
// isolation, per spec.md §8's purity invariant.
func Classify(totalScore int, t Thresholds) models.Classification {
	switch {
	case totalScore >= t.ClassifyTradeReady:
		return models.TradeReady
	case totalScore >= t.ClassifyBuilder:
		return models.Builder
	case totalScore >= t.ClassifyMonitor:
		return models.Monitor
	default:
		return models.Ignore
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
