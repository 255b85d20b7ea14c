// Package universe implements the daily universe fetch and local
// filtering stage (component B): resolve the target trading date, pull
// the grouped-daily bars (falling back to paged reference tickers when
// coverage is thin), and apply price/fund/dollar-volume filters entirely
// in-process.
//
// The exclusion blocklist and fund-keyword list are grounded on
// original_source/backend/src/constants.py (EXCLUDE_SYMBOL_PATTERNS and
// its fund-name keywords) and on bms_engine_real.py's FUND_KEYWORDS. The
// trading-date resolver is grounded on constants.py's get_trading_date
// and the teacher's own adjustToTradingDay/isWeekend helpers.
package universe

import (
	"context"
	"strings"
	"time"

	"github.com/flipper1994/discovery-engine/internal/errs"
	"github.com/flipper1994/discovery-engine/internal/models"
)

// fetcher is the subset of the upstream client the loader depends on.
// Declared here (rather than imported as a concrete type) so tests can
// inject a fake without standing up an HTTP server.
type fetcher interface {
	GroupedDaily(ctx context.Context, date string) ([]models.RawBar, error)
	ReferenceTickersPage(ctx context.Context, cursor string) ([]string, string, error)
}

// Loader fetches and filters the daily universe.
type Loader struct {
	client fetcher

	priceMin      float64
	priceMax      float64
	minDollarVolM float64
	minExpected   int
}

// New builds a Loader against client, using the given filter bounds.
func New(client fetcher, priceMin, priceMax, minDollarVolM float64, minExpected int) *Loader {
	return &Loader{
		client:        client,
		priceMin:      priceMin,
		priceMax:      priceMax,
		minDollarVolM: minDollarVolM,
		minExpected:   minExpected,
	}
}

// Entry is one surviving (symbol, price, volume) tuple from the loader.
type Entry struct {
	Symbol models.Symbol
	Price  float64
	Volume float64
}

// Result bundles the surviving entries with the loader's stats record.
// The pipeline copies TotalFetched and FinalCount into the
// DiscoveryResult; /discovery/health does not report the stats.
type Result struct {
	Entries []Entry
	Stats   models.UniverseStats
}

// TradingDate resolves the most recent session date, skipping weekends.
// Saturday and Sunday walk back to the preceding Friday; all other days
// are used as-is. Grounded on constants.py's get_trading_date and the
// teacher's isWeekend/adjustToTradingDay helpers.
func TradingDate(now time.Time) time.Time {
	d := now
	for {
		switch d.Weekday() {
		case time.Saturday:
			d = d.AddDate(0, 0, -1)
		case time.Sunday:
			d = d.AddDate(0, 0, -2)
		default:
			return d
		}
	}
}

// Load fetches the grouped-daily universe for date, falls back to paged
// reference tickers if coverage is thin, and applies local filtering.
// Returns errs.KindUniverseFloorBreached if the combined coverage still
// falls short of minExpected — the universe-floor tripwire.
func (l *Loader) Load(ctx context.Context, date time.Time) (*Result, error) {
	dateStr := date.Format("2006-01-02")

	bars, err := l.client.GroupedDaily(ctx, dateStr)
	if err != nil {
		return nil, err
	}

	if len(bars) < l.minExpected {
		fallbackSymbols, ferr := l.fetchAllReferenceTickers(ctx)
		if ferr == nil && len(fallbackSymbols) > 0 {
			bars = mergeFallback(bars, fallbackSymbols)
		}
	}

	stats := models.UniverseStats{TotalFetched: len(bars)}
	if len(bars) < l.minExpected {
		return nil, errs.New(errs.KindUniverseFloorBreached, "universe coverage below floor")
	}

	entries := make([]Entry, 0, len(bars))
	for _, b := range bars {
		if !l.withinPriceBand(b.Close) {
			continue
		}
		stats.AfterPrice++

		if isExcludedSymbol(string(b.Symbol)) {
			continue
		}
		stats.AfterFund++

		if b.Volume > 0 {
			dollarVol := b.Close * b.Volume
			if dollarVol < l.minDollarVolM*1_000_000 {
				continue
			}
		}
		stats.AfterVolume++

		entries = append(entries, Entry{Symbol: b.Symbol, Price: b.Close, Volume: b.Volume})
	}
	stats.FinalCount = len(entries)

	return &Result{Entries: entries, Stats: stats}, nil
}

func (l *Loader) withinPriceBand(price float64) bool {
	return price >= l.priceMin && price <= l.priceMax
}

// fetchAllReferenceTickers pages through the reference-tickers fallback
// endpoint until the provider stops returning a next cursor.
func (l *Loader) fetchAllReferenceTickers(ctx context.Context) ([]string, error) {
	var all []string
	cursor := ""
	for {
		page, next, err := l.client.ReferenceTickersPage(ctx, cursor)
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if next == "" || len(page) == 0 {
			break
		}
		cursor = next
	}
	return all, nil
}

// mergeFallback adds reference-ticker symbols not already present among
// bars as zero-volume, zero-price placeholders. They count toward the
// coverage floor, but their zero close fails the price band in Load, so
// none of them reach the snapshot stage (component C).
func mergeFallback(bars []models.RawBar, fallbackSymbols []string) []models.RawBar {
	seen := make(map[models.Symbol]bool, len(bars))
	for _, b := range bars {
		seen[b.Symbol] = true
	}
	for _, s := range fallbackSymbols {
		sym := models.Symbol(s)
		if seen[sym] {
			continue
		}
		seen[sym] = true
		bars = append(bars, models.RawBar{Symbol: sym})
	}
	return bars
}

// excludedPrefixes is a blocklist of common leveraged/inverse products,
// grounded on constants.py's EXCLUDE_SYMBOL_PATTERNS. A symbol is
// excluded only when it equals an entry exactly.
var excludedPrefixes = []string{
	"TQQQ", "SQQQ", "SPXU", "SPXL", "UVXY", "SVXY", "SOXL", "SOXS",
	"LABU", "LABD", "TMF", "TMV", "YINN", "YANG",
}

// fundKeywords lists ETF/trust/warrant/SPAC name fragments, grounded on
// bms_engine_real.py's FUND_KEYWORDS. isExcludedSymbol matches them as
// substrings of the ticker symbol; security names are not checked.
var fundKeywords = []string{
	"ETF", "TRUST", "FUND", "SPDR", "WARRANT", "SPAC", "PFD", "UNIT",
	"HOLDINGS TRUST", "RIGHT",
}

func isExcludedSymbol(symbol string) bool {
	upper := strings.ToUpper(symbol)
	for _, p := range excludedPrefixes {
		if upper == p {
			return true
		}
	}
	for _, kw := range fundKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}
