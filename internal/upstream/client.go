// Package upstream implements the rate-limited, retry-aware client for the
// single market-data provider the discovery pipeline depends on. It is
// grounded on the teacher's own httpClient usage (main.go's package-level
// `var httpClient = &http.Client{Timeout: 10 * time.Second}` and its Yahoo
// fetch helpers) and on golang.org/x/time/rate, the rate-limiting library
// the retrieval pack already uses directly for the same "cooperative
// blocking token bucket" shape (see Outblock-flowindex's ipLimiter and
// bobmcallan-vire's eodhd.Client).
package upstream

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flipper1994/discovery-engine/internal/errs"
	"github.com/flipper1994/discovery-engine/internal/models"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	maxRateLimitRetries = 5
	memoTTL             = 60 * time.Second
)

// Details is the subset of provider ticker-detail fields the scorer's
// structural features (float, short interest, borrow rate) are built
// from. All fields are optional because the configured upstream does not
// reliably supply them (see SPEC_FULL.md's squeeze open question).
type Details struct {
	Symbol           models.Symbol
	HasFloat         bool
	Float            float64
	HasShortInterest bool
	ShortInterestPct float64
	HasBorrowRate    bool
	BorrowRate       float64
	HasUtilization   bool
	UtilizationPct   float64
}

// Client is a single typed client over one market-data provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	limiter *rate.Limiter
	sem     chan struct{}

	maxRetries int

	memoMu sync.Mutex
	memo   map[string]memoEntry
}

type memoEntry struct {
	body      []byte
	fetchedAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the provider base URL (tests inject a httptest
// server here).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client rate-limited to ratePerSec requests/second with the
// given burst capacity, and bounded to concurrency in-flight requests.
func New(apiKey string, ratePerSec, capacity, concurrency int, opts ...Option) *Client {
	c := &Client{
		baseURL: "https://api.polygon.io",
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), capacity),
		sem:        make(chan struct{}, concurrency),
		maxRetries: defaultMaxRetries,
		memo:       make(map[string]memoEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// acquire blocks on both the rate limiter and the concurrency semaphore,
// the two suspension points spec.md §5 names for every upstream call.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.KindTimeout, "rate limiter wait", err)
	}
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindTimeout, "semaphore acquire", ctx.Err())
	}
	return func() { <-c.sem }, nil
}

func (c *Client) memoKey(endpoint string, params url.Values) string {
	return endpoint + "?" + params.Encode()
}

func (c *Client) lookupMemo(key string) ([]byte, bool) {
	c.memoMu.Lock()
	defer c.memoMu.Unlock()
	entry, ok := c.memo[key]
	if !ok || time.Since(entry.fetchedAt) > memoTTL {
		return nil, false
	}
	return entry.body, true
}

func (c *Client) storeMemo(key string, body []byte) {
	c.memoMu.Lock()
	defer c.memoMu.Unlock()
	c.memo[key] = memoEntry{body: body, fetchedAt: time.Now()}
}

// get performs a rate-limited, retried GET against endpoint and returns
// the (possibly decompressed) response body.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)

	key := c.memoKey(endpoint, params)
	if body, ok := c.lookupMemo(key); ok {
		return body, nil
	}

	reqURL := c.baseURL + endpoint + "?" + params.Encode()

	var lastErr error
	attempt := 0
	rateLimitAttempt := 0
	for attempt < c.maxRetries {
		release, err := c.acquire(ctx)
		if err != nil {
			return nil, err
		}

		body, status, retryAfter, err := c.doRequest(ctx, reqURL)
		release()

		if err == nil && status == http.StatusOK {
			c.storeMemo(key, body)
			return body, nil
		}

		if err != nil {
			lastErr = errs.Wrap(errs.KindTimeout, "request failed", err)
		} else {
			lastErr = classifyStatus(status)
		}

		if status != 0 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout && !is5xx(status) {
			// non-retryable 4xx
			return nil, lastErr
		}

		// A 429 carrying a usable Retry-After is a provider-supplied hint,
		// not a failure of ours: it draws from its own budget instead of
		// the caller's maxRetries, per spec.md §4.A.
		hinted := err == nil && status == http.StatusTooManyRequests && retryAfter >= 0
		wait := backoff(attempt)
		if hinted {
			wait = retryAfter
			rateLimitAttempt++
			if rateLimitAttempt > maxRateLimitRetries {
				return nil, lastErr
			}
		} else {
			attempt++
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindTimeout, "context done during backoff", ctx.Err())
		}
	}

	if lastErr == nil {
		lastErr = errs.New(errs.KindUpstream5xx, "retries exhausted")
	}
	return nil, lastErr
}

func is5xx(status int) bool { return status >= 500 && status < 600 }

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return errs.New(errs.KindRateLimited, "upstream returned 429")
	case is5xx(status):
		return errs.New(errs.KindUpstream5xx, fmt.Sprintf("upstream returned %d", status))
	default:
		return errs.New(errs.KindMalformed, fmt.Sprintf("upstream returned %d", status))
	}
}

func backoff(attempt int) time.Duration {
	base := math.Pow(2, float64(attempt))
	return time.Duration(base) * 250 * time.Millisecond
}

func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Accept-Encoding", "gzip,deflate")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, 0, err
	}

	// retryAfter stays negative unless a 429 carries a parseable
	// Retry-After header; "Retry-After: 0" is a valid hint of no wait.
	retryAfter := time.Duration(-1)
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, retryAfter, nil
	}

	body, err := decodeBody(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, resp.StatusCode, retryAfter, err
	}
	return body, resp.StatusCode, retryAfter, nil
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zlibMagics = [][]byte{{0x78, 0x01}, {0x78, 0x9c}, {0x78, 0xda}}
)

// decodeBody inspects both the Content-Encoding header and the response's
// own magic bytes to decide whether to decompress. This is a correctness
// requirement per spec.md §4.A: some providers return compressed bodies
// without announcing it in the header. Ported from
// original_source/backend/src/services/http_safe.py's _maybe_decompress,
// using the teacher's own compress/gzip import for the decoder.
func decodeBody(raw []byte, contentEncoding string) ([]byte, error) {
	switch {
	case containsFold(contentEncoding, "gzip"):
		return gunzip(raw)
	case containsFold(contentEncoding, "deflate"):
		return inflate(raw)
	case looksLikeGzip(raw):
		return gunzip(raw)
	case looksLikeZlib(raw):
		return inflate(raw)
	default:
		return raw, nil
	}
}

func containsFold(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := 0; j < len(needle); j++ {
			a, b := haystack[i+j], needle[j]
			if 'A' <= a && a <= 'Z' {
				a += 'a' - 'A'
			}
			if 'A' <= b && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func looksLikeGzip(raw []byte) bool {
	return len(raw) >= 2 && raw[0] == gzipMagic[0] && raw[1] == gzipMagic[1]
}

func looksLikeZlib(raw []byte) bool {
	if len(raw) < 2 {
		return false
	}
	for _, m := range zlibMagics {
		if raw[0] == m[0] && raw[1] == m[1] {
			return true
		}
	}
	return false
}

func gunzip(raw []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformed, "gzip decode", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformed, "gzip decode", err)
	}
	return out, nil
}

func inflate(raw []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		// zlib-wrapped deflate (rather than raw deflate) fails the
		// raw flate reader; retry assuming a 2-byte zlib header.
		if len(raw) > 2 {
			r2 := flate.NewReader(bytes.NewReader(raw[2:]))
			defer r2.Close()
			if out2, err2 := io.ReadAll(r2); err2 == nil {
				return out2, nil
			}
		}
		return nil, errs.Wrap(errs.KindMalformed, "deflate decode", err)
	}
	return out, nil
}

func unmarshal(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return errs.Wrap(errs.KindMalformed, "decode response", err)
	}
	return nil
}
