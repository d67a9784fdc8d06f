// Package remote performs the bounded-timeout health exchange with the
// coordination service and classifies the outcome into a closed result set.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey/beacon/internal/config"
	"github.com/odyssey/beacon/internal/token"
)

const requestIDHeader = "X-Request-ID"

// TokenSource is the slice of token.Store the client needs: a current-token
// accessor and an invalidation hook for rejected credentials.
type TokenSource interface {
	CurrentToken(ctx context.Context) (token.TokenRecord, error)
	Invalidate()
}

// Client issues the lightweight health request over a pooled keep-alive
// transport. The pool lives only for this invocation's possible retries;
// cross-invocation amortization is the status cache's job.
type Client struct {
	cfg        *config.ConnectionConfig
	store      TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a health client for the given connection config.
func NewClient(cfg *config.ConnectionConfig, store TokenSource, logger *slog.Logger) *Client {
	poolSize := cfg.GetPoolSize()
	return &Client{
		cfg:   cfg,
		store: store,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        poolSize,
				MaxIdleConnsPerHost: poolSize,
				IdleConnTimeout:     30 * time.Second,
			},
			// No client-level timeout: the overall context deadline bounds
			// the whole fetch, retries included.
		},
		logger: logger,
	}
}

// FetchStatus performs the health exchange. Total elapsed time is bounded by
// the config's request timeout regardless of retry count, enforced through a
// single deadline shared by every attempt. Never returns an error: every
// failure mode maps to a classified StatusResult.
func (c *Client) FetchStatus(ctx context.Context) StatusResult {
	if !c.cfg.Configured() {
		return Unconfigured()
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetRequestTimeout())
	defer cancel()

	maxRetries := c.cfg.GetMaxRetries()
	authRetried := false
	var lastResult StatusResult

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if !c.backoff(ctx, attempt) {
				return Unreachable("timeout")
			}
		}

		result, retryable := c.attempt(ctx, &authRetried)
		if !retryable {
			return result
		}
		lastResult = result
		c.logger.Debug("Status attempt failed, will retry",
			"attempt", attempt, "kind", result.Kind, "reason", result.Reason)
	}

	return lastResult
}

// attempt runs one request. The second return value reports whether the
// failure class is retryable. Auth failures consume the single token-refresh
// retry rather than the backoff budget.
func (c *Client) attempt(ctx context.Context, authRetried *bool) (StatusResult, bool) {
	record, err := c.store.CurrentToken(ctx)
	if err != nil {
		if errors.Is(err, token.ErrNoCredential) {
			return Unauthenticated(), false
		}
		return Unreachable(fmt.Sprintf("credential load failed: %v", err)), false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.GetHealthURL(), nil)
	if err != nil {
		return Unreachable(fmt.Sprintf("request build failed: %v", err)), false
	}
	req.Header.Set("Authorization", "Bearer "+record.Value)
	req.Header.Set(requestIDHeader, uuid.NewString())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Unreachable("timeout"), false
		}
		// Connection-level failures (refused, reset, DNS) are retryable.
		return Unreachable(fmt.Sprintf("request failed: %v", err)), true
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusOK:
		return Connected(latency), false

	case resp.StatusCode == http.StatusUnauthorized:
		if *authRetried {
			return Unauthenticated(), false
		}
		*authRetried = true
		c.logger.Info("Remote rejected credential; invalidating and retrying once", "token", record.Masked())
		c.store.Invalidate()
		// Immediate re-attempt with a freshly loaded token; no backoff and
		// no retry-budget charge for the auth path.
		return c.attempt(ctx, authRetried)

	case resp.StatusCode == http.StatusTooManyRequests:
		return RateLimited(parseRetryAfter(resp)), true

	case isRetryableStatus(resp.StatusCode):
		return Unreachable(fmt.Sprintf("server error: %d", resp.StatusCode)), true

	default:
		return Unreachable(fmt.Sprintf("unexpected status: %d", resp.StatusCode)), false
	}
}

// backoff sleeps for a full-jittered exponential delay seeded at the config
// base. Jitter desynchronizes the many statusline processes that tend to be
// invoked at the same instant. Returns false if the deadline expired first.
func (c *Client) backoff(ctx context.Context, attempt int) bool {
	d := c.cfg.GetBackoffBase() << (attempt - 1)
	jittered := time.Duration(rand.Int63n(int64(d) + 1))

	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
