package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func gzipBody(t *testing.T, raw string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(raw)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestGroupedDaily_DecodesUngzippedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"T":"aapl","o":1,"h":2,"l":0.5,"c":1.5,"v":1000,"vw":1.2,"t":123}]}`))
	}))
	defer srv.Close()

	c := New("test-key", 100, 100, 4, WithBaseURL(srv.URL))
	bars, err := c.GroupedDaily(context.Background(), "2026-07-31")
	if err != nil {
		t.Fatalf("GroupedDaily: %v", err)
	}
	if len(bars) != 1 || bars[0].Symbol != "AAPL" {
		t.Fatalf("unexpected bars: %+v", bars)
	}
}

func TestGroupedDaily_DecodesGzipBodyWithoutHeader(t *testing.T) {
	payload := `{"results":[{"T":"MSFT","o":1,"h":2,"l":0.5,"c":1.5,"v":1000,"vw":1.2,"t":123}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deliberately omit Content-Encoding: decodeBody must fall back
		// to gzip magic-byte sniffing, per spec.md §4.A.
		w.Write(gzipBody(t, payload))
	}))
	defer srv.Close()

	c := New("test-key", 100, 100, 4, WithBaseURL(srv.URL))
	bars, err := c.GroupedDaily(context.Background(), "2026-07-31")
	if err != nil {
		t.Fatalf("GroupedDaily: %v", err)
	}
	if len(bars) != 1 || bars[0].Symbol != "MSFT" {
		t.Fatalf("unexpected bars: %+v", bars)
	}
}

func TestRateLimiter_ThrottlesRequestRate(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := New("test-key", 2, 1, 4, WithBaseURL(srv.URL))
	start := time.Now()
	// Distinct dates, so the client-local memo cannot answer a repeat
	// request without going through the limiter.
	dates := []string{"2026-07-29", "2026-07-30", "2026-07-31"}
	for i, date := range dates {
		if _, err := c.GroupedDaily(context.Background(), date); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)
	// 3 requests at 2/sec with burst 1 must take at least ~1 second.
	if elapsed < 900*time.Millisecond {
		t.Fatalf("expected rate limiting to slow requests, took %v", elapsed)
	}
}

func TestGet_RetriesOnTooManyRequestsThenSucceeds(t *testing.T) {
	var attempt int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempt, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := New("test-key", 1000, 1000, 4, WithBaseURL(srv.URL))
	if _, err := c.GroupedDaily(context.Background(), "2026-07-31"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if atomic.LoadInt32(&attempt) < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempt)
	}
}

func TestGet_RateLimitedRetriesDoNotConsumeRetryBudget(t *testing.T) {
	var attempt int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempt, 1)
		if n <= 4 {
			// More hinted 429s than defaultMaxRetries (3): a
			// non-retry-hinted attempt budget would exhaust here, but
			// the Retry-After hint should draw from its own budget.
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := New("test-key", 1000, 1000, 4, WithBaseURL(srv.URL))
	if _, err := c.GroupedDaily(context.Background(), "2026-07-31"); err != nil {
		t.Fatalf("expected retry-hinted 429s to not exhaust the retry budget, got %v", err)
	}
}

func TestGet_NonRetryable4xxFailsImmediately(t *testing.T) {
	var attempt int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempt, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("test-key", 1000, 1000, 4, WithBaseURL(srv.URL))
	if _, err := c.GroupedDaily(context.Background(), "2026-07-31"); err == nil {
		t.Fatal("expected error on 400")
	}
	if atomic.LoadInt32(&attempt) != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable 4xx, got %d", attempt)
	}
}
