package universe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipper1994/discovery-engine/internal/errs"
	"github.com/flipper1994/discovery-engine/internal/models"
)

type fakeFetcher struct {
	bars           []models.RawBar
	fallbackPages  [][]string
	fallbackCalled int
}

func (f *fakeFetcher) GroupedDaily(ctx context.Context, date string) ([]models.RawBar, error) {
	return f.bars, nil
}

func (f *fakeFetcher) ReferenceTickersPage(ctx context.Context, cursor string) ([]string, string, error) {
	idx := f.fallbackCalled
	f.fallbackCalled++
	if idx >= len(f.fallbackPages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(f.fallbackPages) {
		next = "cursor"
	}
	return f.fallbackPages[idx], next, nil
}

func barsOfSize(n int) []models.RawBar {
	bars := make([]models.RawBar, n)
	for i := range bars {
		bars[i] = models.RawBar{
			Symbol: models.Symbol("SYM" + string(rune('A'+i%26))),
			Close:  10,
			Volume: 1_000_000,
		}
	}
	return bars
}

func TestLoad_PriceCapEnforcement(t *testing.T) {
	bars := []models.RawBar{
		{Symbol: "XYZ", Close: 101.00, Volume: 1_000_000},
		{Symbol: "ABC", Close: 99.99, Volume: 1_000_000},
		{Symbol: "DEF", Close: 0.49, Volume: 1_000_000},
	}
	bars = append(bars, barsOfSize(4500)...)

	loader := New(&fakeFetcher{bars: bars}, 0.50, 100.00, 5.0, 4500)
	res, err := loader.Load(context.Background(), time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	symbols := make(map[models.Symbol]bool)
	for _, e := range res.Entries {
		symbols[e.Symbol] = true
	}
	assert.False(t, symbols["XYZ"])
	assert.False(t, symbols["DEF"])
	assert.True(t, symbols["ABC"])
}

func TestLoad_UniverseFloorTripwire(t *testing.T) {
	loader := New(&fakeFetcher{bars: barsOfSize(100)}, 0.50, 100.00, 5.0, 4500)
	_, err := loader.Load(context.Background(), time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindUniverseFloorBreached, kind)
}

func TestLoad_FundExclusion(t *testing.T) {
	bars := []models.RawBar{
		{Symbol: "TQQQ", Close: 50, Volume: 1_000_000},
		{Symbol: "GOOD", Close: 50, Volume: 1_000_000},
	}
	bars = append(bars, barsOfSize(4500)...)

	loader := New(&fakeFetcher{bars: bars}, 0.50, 100.00, 5.0, 4500)
	res, err := loader.Load(context.Background(), time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	symbols := make(map[models.Symbol]bool)
	for _, e := range res.Entries {
		symbols[e.Symbol] = true
	}
	assert.False(t, symbols["TQQQ"])
	assert.True(t, symbols["GOOD"])
}

func TestLoad_DollarVolumeFloor(t *testing.T) {
	bars := []models.RawBar{
		{Symbol: "THIN", Close: 10, Volume: 100}, // $1000 dollar volume, below $5M floor
		{Symbol: "THICK", Close: 10, Volume: 10_000_000},
		{Symbol: "NOVOL", Close: 10, Volume: 0}, // allowed through per spec
	}
	bars = append(bars, barsOfSize(4500)...)

	loader := New(&fakeFetcher{bars: bars}, 0.50, 100.00, 5.0, 4500)
	res, err := loader.Load(context.Background(), time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	symbols := make(map[models.Symbol]bool)
	for _, e := range res.Entries {
		symbols[e.Symbol] = true
	}
	assert.False(t, symbols["THIN"])
	assert.True(t, symbols["THICK"])
	assert.True(t, symbols["NOVOL"])
}

func TestTradingDate_SkipsWeekends(t *testing.T) {
	saturday := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Saturday, saturday.Weekday())
	resolved := TradingDate(saturday)
	assert.Equal(t, time.Friday, resolved.Weekday())

	sunday := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	resolved = TradingDate(sunday)
	assert.Equal(t, time.Friday, resolved.Weekday())

	weekday := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	resolved = TradingDate(weekday)
	assert.Equal(t, weekday, resolved)
}
