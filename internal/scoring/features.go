package scoring

import (
	"time"

	"github.com/flipper1994/discovery-engine/internal/indicators"
	"github.com/flipper1994/discovery-engine/internal/models"
	"github.com/flipper1994/discovery-engine/internal/upstream"
)

// buildFeatures derives TickerFeatures and a TechnicalSnapshot from a
// Snapshot plus its historical bars and optional structural Details.
// Missing optionals are tagged via Has* flags and counted in
// MissingFields rather than fabricated, per SPEC_FULL.md's design notes.
// baselinePolicy selects the rel_vol_current baseline-derivation policy; nil
// falls back to DefaultBaselinePolicy.
func buildFeatures(snap models.Snapshot, bars []models.RawBar, details *upstream.Details, baselinePolicy BaselinePolicy) (models.TickerFeatures, models.TechnicalSnapshot) {
	if baselinePolicy == nil {
		baselinePolicy = DefaultBaselinePolicy
	}
	closes := make([]float64, len(bars))
	ind := make([]indicators.Bar, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		ind[i] = indicators.Bar{High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}

	ema9 := indicators.EMA(closes, 9)
	ema20 := indicators.EMA(closes, 20)
	rsi := indicators.RSI(closes, 14)
	atr := indicators.ATR(ind, 14)
	vwapSeries := indicators.VWAP(ind)

	last := len(closes) - 1

	price := snap.LastPrice
	if price == 0 {
		price = closes[last]
	}

	dollarVolume := price * snap.DayVolume

	changePct := 0.0
	if snap.PrevClose > 0 {
		changePct = (price - snap.PrevClose) / snap.PrevClose * 100
	}

	atrPct := 0.0
	if price > 0 {
		atrPct = atr[last] / price * 100
	}

	asOf := snap.Timestamp
	if asOf.IsZero() {
		asOf = time.Now()
	}
	baseline := baselinePolicy(bars, asOf, snap.DayVolume)
	relVolCurrent := 0.0
	if baseline > 0 {
		relVolCurrent = snap.DayVolume / baseline
	}

	extensionATRs := 0.0
	if atr[last] > 0 {
		extensionATRs = (price - vwapSeries[last]) / atr[last]
	}

	minutesSinceReclaim := -1
	if price >= vwapSeries[last] {
		minutesSinceReclaim = 0
	}

	features := models.TickerFeatures{
		Symbol:                  snap.Symbol,
		Price:                   price,
		DollarVolume:            dollarVolume,
		ChangePct:               changePct,
		ATRPct:                  atrPct,
		RSI:                     rsi[last],
		EMA9:                    ema9[last],
		EMA20:                   ema20[last],
		VWAP:                    vwapSeries[last],
		RelVolCurrent:           relVolCurrent,
		ExtensionATRs:           extensionATRs,
		MinutesSinceVWAPReclaim: minutesSinceReclaim,
		ShortSaleRestricted:     false,
	}

	missing := 0
	if details != nil {
		if details.HasFloat {
			features.HasFloat = true
			features.Float = details.Float
		} else {
			missing++
		}
		if details.HasShortInterest {
			features.HasShortInterest = true
			features.ShortInterestPct = details.ShortInterestPct
		} else {
			missing++
		}
		if details.HasBorrowRate {
			features.HasBorrowRate = true
			features.BorrowRate = details.BorrowRate
		} else {
			missing++
		}
		if details.HasUtilization {
			features.HasUtilization = true
			features.UtilizationPct = details.UtilizationPct
		} else {
			missing++
		}
	} else {
		missing += 4
	}
	// Catalyst, social, and options signals have no configured provider
	// in this deployment; they are always reported missing so the
	// scorer degrades to its documented heuristics rather than guess.
	missing += 3
	features.MissingFields = missing

	tech := models.TechnicalSnapshot{
		EMA9:   ema9[last],
		EMA20:  ema20[last],
		RSI:    rsi[last],
		VWAP:   vwapSeries[last],
		ATRPct: atrPct,
	}

	return features, tech
}

// BaselinePolicy derives the expected full-session volume baseline used
// to compute rel_vol_current. It is exposed as a pluggable function type
// per SPEC_FULL.md §9's open question, so a deployment can swap in a
// vendor-supplied average-volume feed or a sector-relative baseline
// without touching the scorer.
type BaselinePolicy func(bars []models.RawBar, asOf time.Time, currentVolume float64) float64

// minHistoryForMeanBaseline is the shortest trailing history the plain
// trailing-mean baseline trusts. Thinner histories route to
// hourOfDayBaseline instead of averaging too few sessions.
const minHistoryForMeanBaseline = 10

// DefaultBaselinePolicy derives the baseline from the trailing-session
// mean once enough daily history exists, and otherwise falls back to an
// expected-session-fraction heuristic keyed on hour-of-day.
func DefaultBaselinePolicy(bars []models.RawBar, asOf time.Time, currentVolume float64) float64 {
	if mean, ok := historicalMeanBaseline(bars); ok {
		return mean
	}
	return hourOfDayBaseline(asOf, currentVolume)
}

// historicalMeanBaseline averages the trailing bars, excluding the most
// recent (in-progress) session. ok is false when history is too thin to
// trust an average over.
func historicalMeanBaseline(bars []models.RawBar) (avg float64, ok bool) {
	if len(bars) < minHistoryForMeanBaseline+1 {
		return 0, false
	}
	history := bars[:len(bars)-1]
	sum := 0.0
	for _, b := range history {
		sum += b.Volume
	}
	return sum / float64(len(history)), true
}

// volumeCurve maps an hour-of-day to the session-volume fraction that
// hourOfDayBaseline divides by. Ported from the original's
// calculate_sustained_rvol volume-curve table; hours outside the table
// default to 0.1. The values are not cumulative: they fall and rise
// across the session rather than growing toward the close.
var volumeCurve = map[int]float64{
	9: 0.25, 10: 0.20, 11: 0.15, 12: 0.10,
	13: 0.10, 14: 0.15, 15: 0.20, 16: 0.05,
}

// hourOfDayBaseline estimates a full-session baseline by dividing the
// volume printed so far today by volumeCurve's fraction for asOf's hour
// and scaling the result by 0.3.
func hourOfDayBaseline(asOf time.Time, currentVolume float64) float64 {
	if currentVolume <= 0 {
		return 0
	}
	expectedRatio, ok := volumeCurve[asOf.Hour()]
	if !ok {
		expectedRatio = 0.1
	}
	dailyExpected := currentVolume / expectedRatio
	return dailyExpected * 0.3
}

// scoreComponents computes the six bounded integer sub-scores from
// TickerFeatures, per spec.md §4.D.3.
func scoreComponents(f models.TickerFeatures) models.ComponentScores {
	return models.ComponentScores{
		VolumeTrend: scoreVolumeTrend(f),
		Squeeze:     scoreSqueeze(f),
		Catalyst:    scoreCatalyst(f),
		Social:      scoreSocial(f),
		Options:     scoreOptions(f),
		Technical:   scoreTechnical(f),
	}
}

// scoreVolumeTrend scales rel_vol_sustained linearly from 3.0->8.0x over
// [15,25] points, plus a +1..+3 bonus when rel_vol_current itself is
// extreme. Ported from the original's scale(rvol,3,8,15,25) +
// multi_day_up_volume_bonus(t): the linear term is never clamped on its
// own low end, only the final scale+bonus sum is, so a sub-3.0 reading
// still scores (just low), rather than floor-clamping to zero early.
func scoreVolumeTrend(f models.TickerFeatures) int {
	sustained := f.RelVolSustainedWindow
	score := 15 + (sustained-3.0)/(8.0-3.0)*10

	bonus := 0
	switch {
	case f.RelVolCurrent > 5.0:
		bonus = 3
	case f.RelVolCurrent > 4.0:
		bonus = 2
	case f.RelVolCurrent > 3.5:
		bonus = 1
	}

	return clampComponent(int(score)+bonus, 25)
}

// scoreSqueeze weights float tightness, short interest, borrow fee, and
// utilization when structural data is present; otherwise falls back to a
// price-tier/rel-vol heuristic. Tier cutoffs are ported from the
// original's short_squeeze_score structural branch, per SPEC_FULL.md
// §9's third open question.
func scoreSqueeze(f models.TickerFeatures) int {
	if f.HasFloat || f.HasShortInterest || f.HasBorrowRate || f.HasUtilization {
		score := 0.0
		if f.HasFloat {
			switch {
			case f.Float <= 10_000_000:
				score += 8
			case f.Float <= 30_000_000:
				score += 5
			case f.Float <= 75_000_000:
				score += 2
			}
		}
		if f.HasShortInterest {
			switch {
			case f.ShortInterestPct >= 20:
				score += 7
			case f.ShortInterestPct >= 10:
				score += 4
			case f.ShortInterestPct >= 5:
				score += 2
			}
		}
		if f.HasBorrowRate {
			switch {
			case f.BorrowRate >= 50:
				score += 5
			case f.BorrowRate >= 20:
				score += 3
			case f.BorrowRate >= 5:
				score += 1
			}
		}
		if f.HasUtilization {
			switch {
			case f.UtilizationPct > 90:
				score += 2
			case f.UtilizationPct > 70:
				score += 1
			}
		}
		return clampComponent(int(score), 20)
	}

	score := 0
	switch {
	case f.Price <= 5:
		score += 6
	case f.Price <= 20:
		score += 3
	}
	switch {
	case f.RelVolCurrent >= 6:
		score += 8
	case f.RelVolCurrent >= 3:
		score += 4
	}
	return clampComponent(score, 20)
}

// scoreCatalyst bases the score on tagged catalyst type x strength; 2
// when no catalyst is present.
func scoreCatalyst(f models.TickerFeatures) int {
	if !f.HasCatalyst {
		return 2
	}
	base := catalystBase(f.CatalystType)
	score := int(float64(base) * f.CatalystStrength)
	return clampComponent(score, 20)
}

func catalystBase(kind string) int {
	switch kind {
	case "earnings":
		return 18
	case "fda":
		return 20
	case "m_and_a":
		return 20
	case "partnership":
		return 14
	default:
		return 8
	}
}

// scoreSocial uses provider z-score x3 when present, else a rel-vol
// proxy.
func scoreSocial(f models.TickerFeatures) int {
	if f.HasSocialZScore {
		return clampComponent(int(f.SocialZScore*3), 15)
	}
	proxy := f.RelVolCurrent * 1.5
	return clampComponent(int(proxy), 15)
}

// scoreOptions combines call/put OI ratio, IV percentile, and gamma sign
// when present, else a volume-and-move proxy.
func scoreOptions(f models.TickerFeatures) int {
	if f.HasOptions {
		score := 0.0
		if f.CallPutOIRatio >= 2 {
			score += 4
		} else if f.CallPutOIRatio >= 1.2 {
			score += 2
		}
		if f.IVPercentile >= 80 {
			score += 3
		} else if f.IVPercentile >= 50 {
			score += 1
		}
		if f.GammaPositive {
			score += 3
		}
		return clampComponent(int(score), 10)
	}

	score := 0
	if f.RelVolCurrent >= 5 {
		score += 3
	}
	if f.ChangePct >= 10 {
		score += 3
	}
	return clampComponent(score, 10)
}

// scoreTechnical rewards EMA crossover alignment, RSI in the momentum
// band, price holding VWAP, and a strong intraday move.
func scoreTechnical(f models.TickerFeatures) int {
	score := 0
	if f.EMA9 > f.EMA20 {
		score += 3
	}
	switch {
	case f.RSI >= 60 && f.RSI <= 70:
		score += 3
	case f.RSI >= 55 && f.RSI <= 75:
		score += 2
	}
	if f.Price >= f.VWAP {
		score += 2
	}
	if f.ChangePct >= 5 {
		score += 2
	}
	return clampComponent(score, 10)
}

func clampComponent(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// scoreMultiplier applies the three penalty rules from spec.md §4.D.4 in
// sequence, starting at 1.0.
func scoreMultiplier(f models.TickerFeatures) float64 {
	multiplier := 1.0

	noReclaim := f.MinutesSinceVWAPReclaim < 0 || f.MinutesSinceVWAPReclaim > 10
	if (f.Price < f.VWAP && noReclaim) || f.RSI < 55 {
		multiplier *= 0.7
	}
	if f.ExtensionATRs > 3 {
		multiplier *= 0.8
	}
	if f.ShortSaleRestricted {
		multiplier *= 0.9
	}
	return multiplier
}

// entrySignal is true iff the intraday move is strong with sustained
// rel-vol, or a recent VWAP reclaim coincides with sustained rel-vol.
func entrySignal(f models.TickerFeatures) bool {
	sustainedActive := f.RelVolSustainedWindow > 0
	strongMove := f.ChangePct > 2 && sustainedActive
	recentReclaim := f.MinutesSinceVWAPReclaim >= 0 && f.MinutesSinceVWAPReclaim <= 10 && sustainedActive
	return strongMove || recentReclaim
}
