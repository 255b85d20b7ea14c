package upstream

import (
	"context"
	"net/url"
	"strings"

	"github.com/flipper1994/discovery-engine/internal/models"
)

type groupedDailyResponse struct {
	Results []groupedRow `json:"results"`
}

type groupedRow struct {
	Ticker string  `json:"T"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
	VWAP   float64 `json:"vw"`
	Time   int64   `json:"t"`
}

// GroupedDaily fetches one session's OHLCV for every symbol the provider
// covers, via the grouped-daily endpoint.
func (c *Client) GroupedDaily(ctx context.Context, date string) ([]models.RawBar, error) {
	params := url.Values{"adjusted": {"true"}, "include_otc": {"false"}}
	body, err := c.get(ctx, "/v2/aggs/grouped/locale/us/market/stocks/"+date, params)
	if err != nil {
		return nil, err
	}

	var resp groupedDailyResponse
	if err := unmarshal(body, &resp); err != nil {
		return nil, err
	}

	bars := make([]models.RawBar, 0, len(resp.Results))
	for _, r := range resp.Results {
		symbol := models.Symbol(strings.ToUpper(strings.TrimSpace(r.Ticker)))
		if symbol == "" {
			continue
		}
		bars = append(bars, models.RawBar{
			Symbol: symbol,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
			VWAP:   r.VWAP,
			Time:   r.Time,
		})
	}
	return bars, nil
}

type referenceTickersResponse struct {
	Results []referenceTicker `json:"results"`
	NextURL string            `json:"next_url"`
}

type referenceTicker struct {
	Ticker string `json:"ticker"`
	Type   string `json:"type"`
	Name   string `json:"name"`
}

// ReferenceTickersPage fetches one page of the v3 reference-tickers
// endpoint (type=CS, active common stocks), used as the universe loader's
// fallback when the grouped endpoint is thin. cursor is empty for the
// first page.
func (c *Client) ReferenceTickersPage(ctx context.Context, cursor string) (tickers []string, nextCursor string, err error) {
	params := url.Values{
		"active": {"true"},
		"market": {"stocks"},
		"type":   {"CS"},
		"limit":  {"1000"},
		"sort":   {"ticker"},
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	body, err := c.get(ctx, "/v3/reference/tickers", params)
	if err != nil {
		return nil, "", err
	}

	var resp referenceTickersResponse
	if err := unmarshal(body, &resp); err != nil {
		return nil, "", err
	}

	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Type != "CS" {
			continue
		}
		out = append(out, strings.ToUpper(strings.TrimSpace(r.Ticker)))
	}
	next := ""
	if resp.NextURL != "" {
		if u, err := url.Parse(resp.NextURL); err == nil {
			next = u.Query().Get("cursor")
		}
	}
	return out, next, nil
}

type snapshotResponse struct {
	Tickers []snapshotTicker `json:"tickers"`
}

type snapshotTicker struct {
	Ticker    string `json:"ticker"`
	LastTrade struct {
		Price float64 `json:"p"`
	} `json:"lastTrade"`
	Day struct {
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
	} `json:"day"`
	PrevDay struct {
		Close float64 `json:"c"`
	} `json:"prevDay"`
}

// SnapshotAll fetches the current-session snapshot for every covered
// symbol in a single call.
func (c *Client) SnapshotAll(ctx context.Context) (map[models.Symbol]models.Snapshot, error) {
	body, err := c.get(ctx, "/v2/snapshot/locale/us/markets/stocks/tickers", nil)
	if err != nil {
		return nil, err
	}

	var resp snapshotResponse
	if err := unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := make(map[models.Symbol]models.Snapshot, len(resp.Tickers))
	for _, t := range resp.Tickers {
		symbol := models.Symbol(strings.ToUpper(strings.TrimSpace(t.Ticker)))
		if symbol == "" {
			continue
		}
		price := t.LastTrade.Price
		if price == 0 {
			price = t.Day.Close
		}
		if price == 0 {
			continue
		}
		out[symbol] = models.Snapshot{
			Symbol:    symbol,
			LastPrice: price,
			DayVolume: t.Day.Volume,
			PrevClose: t.PrevDay.Close,
		}
	}
	return out, nil
}

type prevDayResponse struct {
	Results []groupedRow `json:"results"`
}

// PrevDay fetches the previous session's bar for a single symbol.
func (c *Client) PrevDay(ctx context.Context, symbol models.Symbol) (models.RawBar, error) {
	body, err := c.get(ctx, "/v2/aggs/ticker/"+string(symbol)+"/prev", nil)
	if err != nil {
		return models.RawBar{}, err
	}
	var resp prevDayResponse
	if err := unmarshal(body, &resp); err != nil {
		return models.RawBar{}, err
	}
	if len(resp.Results) == 0 {
		return models.RawBar{}, nil
	}
	r := resp.Results[0]
	return models.RawBar{
		Symbol: symbol,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
		VWAP:   r.VWAP,
		Time:   r.Time,
	}, nil
}

type aggregatesResponse struct {
	Results []groupedRow `json:"results"`
}

// Aggregates fetches historical daily bars for one symbol over [from, to].
// span is currently always "day"; the parameter is kept for provider
// parity (intraday spans are explicitly out of scope per spec.md §1).
func (c *Client) Aggregates(ctx context.Context, symbol models.Symbol, span, from, to string) ([]models.RawBar, error) {
	path := "/v2/aggs/ticker/" + string(symbol) + "/range/1/" + span + "/" + from + "/" + to
	params := url.Values{"adjusted": {"true"}, "sort": {"asc"}, "limit": {"5000"}}
	body, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	var resp aggregatesResponse
	if err := unmarshal(body, &resp); err != nil {
		return nil, err
	}
	bars := make([]models.RawBar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bars = append(bars, models.RawBar{
			Symbol: symbol,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
			VWAP:   r.VWAP,
			Time:   r.Time,
		})
	}
	return bars, nil
}

type tickerDetailsResponse struct {
	Results struct {
		Ticker          string  `json:"ticker"`
		ShareClassFloat float64 `json:"share_class_shares_outstanding"`
	} `json:"results"`
}

// TickerDetailsBatch fetches structural details for a batch of symbols,
// one upstream call per symbol (the provider has no batch endpoint for
// this data). Missing fields are reported via the Has* flags rather than
// fabricated, per SPEC_FULL.md's squeeze open question.
func (c *Client) TickerDetailsBatch(ctx context.Context, symbols []models.Symbol) ([]Details, error) {
	out := make([]Details, 0, len(symbols))
	for _, sym := range symbols {
		body, err := c.get(ctx, "/v3/reference/tickers/"+string(sym), nil)
		if err != nil {
			out = append(out, Details{Symbol: sym})
			continue
		}
		var resp tickerDetailsResponse
		if err := unmarshal(body, &resp); err != nil {
			out = append(out, Details{Symbol: sym})
			continue
		}
		d := Details{Symbol: sym}
		if resp.Results.ShareClassFloat > 0 {
			d.HasFloat = true
			d.Float = resp.Results.ShareClassFloat
		}
		out = append(out, d)
	}
	return out, nil
}
