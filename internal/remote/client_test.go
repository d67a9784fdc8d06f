package remote

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/odyssey/beacon/internal/config"
	"github.com/odyssey/beacon/internal/token"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTokenSource hands out tokens from a list, advancing on Invalidate.
type fakeTokenSource struct {
	mu            sync.Mutex
	tokens        []string
	idx           int
	invalidations int
	loadErr       error
}

func (f *fakeTokenSource) CurrentToken(ctx context.Context) (token.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return token.TokenRecord{}, f.loadErr
	}
	return token.TokenRecord{Value: f.tokens[f.idx]}, nil
}

func (f *fakeTokenSource) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations++
	if f.idx < len(f.tokens)-1 {
		f.idx++
	}
}

func testConfig(endpointURL string, maxRetries int) *config.ConnectionConfig {
	return &config.ConnectionConfig{
		EndpointURL:    endpointURL,
		RequestTimeout: "2s",
		MaxRetries:     &maxRetries,
		BackoffBase:    "5ms",
		PoolSize:       2,
	}
}

func TestFetchStatusConnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("Authorization header = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing request correlation ID")
		}
		time.Sleep(40 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 2), &fakeTokenSource{tokens: []string{"tok-1"}}, testLogger())
	result := client.FetchStatus(context.Background())

	if result.Kind != KindConnected {
		t.Fatalf("kind = %q, want connected (reason: %s)", result.Kind, result.Reason)
	}
	if result.LatencyMs < 40 {
		t.Errorf("latency = %dms, want >= 40ms", result.LatencyMs)
	}
}

func TestFetchStatusUnconfigured(t *testing.T) {
	client := NewClient(&config.ConnectionConfig{}, &fakeTokenSource{tokens: []string{"tok-1"}}, testLogger())
	result := client.FetchStatus(context.Background())
	if result.Kind != KindUnconfigured {
		t.Fatalf("kind = %q, want unconfigured", result.Kind)
	}
}

func TestFetchStatusRetriesThenSucceeds(t *testing.T) {
	const maxRetries = 3
	var mu sync.Mutex
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		n := requests
		mu.Unlock()
		if n <= maxRetries {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL, maxRetries)
	client := NewClient(cfg, &fakeTokenSource{tokens: []string{"tok-1"}}, testLogger())

	start := time.Now()
	result := client.FetchStatus(context.Background())
	elapsed := time.Since(start)

	if result.Kind != KindConnected {
		t.Fatalf("kind = %q, want connected after retries (reason: %s)", result.Kind, result.Reason)
	}
	mu.Lock()
	got := requests
	mu.Unlock()
	if got != maxRetries+1 {
		t.Errorf("requests = %d, want %d", got, maxRetries+1)
	}
	if elapsed > cfg.GetRequestTimeout() {
		t.Errorf("elapsed %v exceeds request timeout %v", elapsed, cfg.GetRequestTimeout())
	}
}

func TestFetchStatusRetriesExhaustedIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 1), &fakeTokenSource{tokens: []string{"tok-1"}}, testLogger())
	result := client.FetchStatus(context.Background())

	if result.Kind != KindUnreachable {
		t.Fatalf("kind = %q, want unreachable", result.Kind)
	}
	if result.Reason != "server error: 502" {
		t.Errorf("reason = %q", result.Reason)
	}
}

func TestFetchStatusAuthFailureRefreshesOnce(t *testing.T) {
	var mu sync.Mutex
	var seenTokens []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenTokens = append(seenTokens, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.Header.Get("Authorization") == "Bearer tok-fresh" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := &fakeTokenSource{tokens: []string{"tok-stale", "tok-fresh"}}
	client := NewClient(testConfig(server.URL, 2), store, testLogger())
	result := client.FetchStatus(context.Background())

	if result.Kind != KindConnected {
		t.Fatalf("kind = %q, want connected after token refresh", result.Kind)
	}
	if store.invalidations != 1 {
		t.Errorf("invalidations = %d, want exactly 1", store.invalidations)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seenTokens) != 2 {
		t.Fatalf("requests = %d, want 2", len(seenTokens))
	}
	if seenTokens[0] != "Bearer tok-stale" || seenTokens[1] != "Bearer tok-fresh" {
		t.Errorf("token sequence = %v", seenTokens)
	}
}

func TestFetchStatusSecondAuthFailureGivesUp(t *testing.T) {
	var mu sync.Mutex
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := &fakeTokenSource{tokens: []string{"tok-1", "tok-2", "tok-3"}}
	client := NewClient(testConfig(server.URL, 3), store, testLogger())
	result := client.FetchStatus(context.Background())

	if result.Kind != KindUnauthenticated {
		t.Fatalf("kind = %q, want unauthenticated", result.Kind)
	}
	if store.invalidations != 1 {
		t.Errorf("invalidations = %d, want exactly 1", store.invalidations)
	}
	mu.Lock()
	defer mu.Unlock()
	if requests != 2 {
		t.Errorf("requests = %d, want exactly 2 (no third attempt)", requests)
	}
}

func TestFetchStatusMissingCredentialIsUnauthenticated(t *testing.T) {
	var mu sync.Mutex
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
	}))
	defer server.Close()

	store := &fakeTokenSource{loadErr: token.ErrNoCredential, tokens: []string{""}}
	client := NewClient(testConfig(server.URL, 2), store, testLogger())
	result := client.FetchStatus(context.Background())

	if result.Kind != KindUnauthenticated {
		t.Fatalf("kind = %q, want unauthenticated", result.Kind)
	}
	mu.Lock()
	defer mu.Unlock()
	if requests != 0 {
		t.Errorf("requests = %d, want 0 (no credential, no request)", requests)
	}
}

func TestFetchStatusRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 1), &fakeTokenSource{tokens: []string{"tok-1"}}, testLogger())
	result := client.FetchStatus(context.Background())

	if result.Kind != KindRateLimited {
		t.Fatalf("kind = %q, want rate_limited", result.Kind)
	}
	if result.RetryAfterSeconds != 17 {
		t.Errorf("retry after = %d, want 17", result.RetryAfterSeconds)
	}
}

func TestFetchStatusTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	maxRetries := 2
	cfg := &config.ConnectionConfig{
		EndpointURL:    server.URL,
		RequestTimeout: "100ms",
		MaxRetries:     &maxRetries,
		BackoffBase:    "5ms",
	}
	client := NewClient(cfg, &fakeTokenSource{tokens: []string{"tok-1"}}, testLogger())

	start := time.Now()
	result := client.FetchStatus(context.Background())
	elapsed := time.Since(start)

	if result.Kind != KindUnreachable || result.Reason != "timeout" {
		t.Fatalf("result = %+v, want unreachable/timeout", result)
	}
	if elapsed > 400*time.Millisecond {
		t.Errorf("elapsed %v, deadline should cut the whole fetch off near 100ms", elapsed)
	}
}

func TestFetchStatusConnectionRefused(t *testing.T) {
	// Grab a port that nothing listens on.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	client := NewClient(testConfig(deadURL, 1), &fakeTokenSource{tokens: []string{"tok-1"}}, testLogger())
	result := client.FetchStatus(context.Background())

	if result.Kind != KindUnreachable {
		t.Fatalf("kind = %q, want unreachable", result.Kind)
	}
	if result.Reason == "" || result.Reason == "timeout" {
		t.Errorf("reason = %q, want a connection failure reason", result.Reason)
	}
}
