package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flipper1994/discovery-engine/internal/models"
)

func thresholds() Thresholds {
	return Thresholds{
		RVOLWindowMin:      15,
		RVOLThreshold:      3.0,
		ClassifyTradeReady: 75,
		ClassifyBuilder:    70,
		ClassifyMonitor:    60,
	}
}

func TestClassify_Boundaries(t *testing.T) {
	th := thresholds()
	cases := []struct {
		score int
		want  models.Classification
	}{
		{59, models.Ignore},
		{60, models.Monitor},
		{69, models.Monitor},
		{70, models.Builder},
		{74, models.Builder},
		{75, models.TradeReady},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.score, th), "score=%d", c.score)
	}
}

func TestClassify_IsPure(t *testing.T) {
	th := thresholds()
	a := Classify(72, th)
	b := Classify(72, th)
	assert.Equal(t, a, b)
}

func TestRVOLWindow_SeedsWithCurrentReading(t *testing.T) {
	w := &RVOLWindow{}
	got := w.Observe(1.5, 1000, 15, 3.0)
	assert.Equal(t, 1.5, got)
}

func TestRVOLWindow_MeanOfExceedingReadings(t *testing.T) {
	w := &RVOLWindow{}
	w.Observe(5.0, 1000, 15, 3.0)
	w.Observe(2.0, 1010, 15, 3.0) // below threshold, excluded from mean
	got := w.Observe(7.0, 1020, 15, 3.0)
	assert.InDelta(t, 6.0, got, 0.0001)
}

func TestRVOLWindow_DropsOldReadings(t *testing.T) {
	w := &RVOLWindow{}
	w.Observe(9.0, 0, 15, 3.0)
	// 16 minutes later: the first reading has aged out of a 15-minute window.
	got := w.Observe(4.0, 16*60, 15, 3.0)
	assert.InDelta(t, 4.0, got, 0.0001)
}

func TestScoreMultiplier_LowRSIPenalty(t *testing.T) {
	f := models.TickerFeatures{RSI: 40, Price: 10, VWAP: 9, MinutesSinceVWAPReclaim: -1}
	assert.InDelta(t, 0.7, scoreMultiplier(f), 0.0001)
}

func TestScoreMultiplier_ExtensionPenalty(t *testing.T) {
	f := models.TickerFeatures{RSI: 65, Price: 10, VWAP: 9, MinutesSinceVWAPReclaim: 0, ExtensionATRs: 4}
	assert.InDelta(t, 0.8, scoreMultiplier(f), 0.0001)
}

func TestScoreMultiplier_CombinesAllThree(t *testing.T) {
	f := models.TickerFeatures{
		RSI: 40, Price: 10, VWAP: 9, MinutesSinceVWAPReclaim: -1,
		ExtensionATRs: 4, ShortSaleRestricted: true,
	}
	assert.InDelta(t, 0.7*0.8*0.9, scoreMultiplier(f), 0.0001)
}

func TestEntrySignal_StrongMoveWithSustainedRVOL(t *testing.T) {
	f := models.TickerFeatures{ChangePct: 3, RelVolSustainedWindow: 4, MinutesSinceVWAPReclaim: -1}
	assert.True(t, entrySignal(f))
}

func TestEntrySignal_FalseWithoutSustainedRVOL(t *testing.T) {
	f := models.TickerFeatures{ChangePct: 3, RelVolSustainedWindow: 0, MinutesSinceVWAPReclaim: -1}
	assert.False(t, entrySignal(f))
}

func TestScoreSqueeze_DegradesWithoutStructuralData(t *testing.T) {
	f := models.TickerFeatures{Price: 3, RelVolCurrent: 7}
	got := scoreSqueeze(f)
	assert.Equal(t, 14, got) // 6 (price tier) + 8 (rel-vol tier)
}

func TestScoreVolumeTrend_BoundedTo25(t *testing.T) {
	f := models.TickerFeatures{RelVolSustainedWindow: 50, RelVolCurrent: 50}
	got := scoreVolumeTrend(f)
	assert.LessOrEqual(t, got, 25)
}

func TestScoreVolumeTrend_BelowThreeStillScoresViaLinearScale(t *testing.T) {
	// scale(2,3,8,15,25) = 13; no bonus since rel_vol_current is also 2.
	f := models.TickerFeatures{RelVolSustainedWindow: 2, RelVolCurrent: 2}
	assert.Equal(t, 13, scoreVolumeTrend(f))
}

func TestScoreVolumeTrend_BonusThresholdsMatchOriginal(t *testing.T) {
	base := models.TickerFeatures{RelVolSustainedWindow: 3.0}
	assert.Equal(t, 15, scoreVolumeTrend(models.TickerFeatures{RelVolSustainedWindow: 3.0, RelVolCurrent: 3.0}))
	withBonus := base
	withBonus.RelVolCurrent = 3.6
	assert.Equal(t, 16, scoreVolumeTrend(withBonus))
	withBonus.RelVolCurrent = 4.1
	assert.Equal(t, 17, scoreVolumeTrend(withBonus))
	withBonus.RelVolCurrent = 5.1
	assert.Equal(t, 18, scoreVolumeTrend(withBonus))
}

func TestScoreTechnical_RSIBandsAreMutuallyExclusive(t *testing.T) {
	core := models.TickerFeatures{VWAP: 100, Price: 100}
	core.RSI = 65
	assert.Equal(t, 5, scoreTechnical(core)) // +3 RSI band, +2 at/above VWAP

	core.RSI = 57
	assert.Equal(t, 4, scoreTechnical(core)) // +2 wider band, +2 at/above VWAP

	core.RSI = 80
	assert.Equal(t, 2, scoreTechnical(core)) // outside both bands
}

func TestScoreSqueeze_WeighsUtilizationWhenPresent(t *testing.T) {
	f := models.TickerFeatures{HasUtilization: true, UtilizationPct: 95}
	assert.Equal(t, 2, scoreSqueeze(f))
}

func TestHourOfDayBaseline_UsesVolumeCurve(t *testing.T) {
	asOf := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	got := hourOfDayBaseline(asOf, 200_000)
	assert.InDelta(t, 300_000, got, 0.0001) // (200000/0.20)*0.3
}

func TestHourOfDayBaseline_DefaultsOutsideTable(t *testing.T) {
	asOf := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)
	got := hourOfDayBaseline(asOf, 10_000)
	assert.InDelta(t, 30_000, got, 0.0001) // (10000/0.1)*0.3
}

func TestDefaultBaselinePolicy_FallsBackWhenHistoryThin(t *testing.T) {
	bars := []models.RawBar{{Volume: 1000}, {Volume: 1200}}
	asOf := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	got := DefaultBaselinePolicy(bars, asOf, 200_000)
	assert.InDelta(t, 300_000, got, 0.0001)
}

func TestDefaultBaselinePolicy_UsesTrailingMeanWhenHistoryIsDeep(t *testing.T) {
	bars := make([]models.RawBar, minHistoryForMeanBaseline+1)
	for i := range bars {
		bars[i] = models.RawBar{Volume: 1000}
	}
	got := DefaultBaselinePolicy(bars, time.Now(), 500)
	assert.InDelta(t, 1000, got, 0.0001)
}
