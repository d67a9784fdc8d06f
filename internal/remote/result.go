package remote

import "time"

// Kind is the closed classification of a status fetch. The rendering layer
// matches on it exhaustively to show a specific, truthful indicator.
type Kind string

const (
	// KindConnected means the health check succeeded; LatencyMs is set.
	KindConnected Kind = "connected"
	// KindUnreachable means a network or timeout failure; Reason is set.
	KindUnreachable Kind = "unreachable"
	// KindUnauthenticated means the credential is missing or was rejected
	// even after one refresh attempt.
	KindUnauthenticated Kind = "unauthenticated"
	// KindRateLimited means the service asked us to back off; RetryAfterSeconds
	// is set when the response carried it.
	KindRateLimited Kind = "rate_limited"
	// KindUnconfigured means no remote endpoint is configured.
	KindUnconfigured Kind = "unconfigured"
	// KindStale means a degraded-but-usable cached result served after a
	// fetch failure; AgeSeconds says how old it is.
	KindStale Kind = "stale"
)

// StatusResult is the outcome of one remote-status determination.
type StatusResult struct {
	Kind              Kind      `json:"kind"`
	LatencyMs         int64     `json:"latency_ms,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	RetryAfterSeconds int64     `json:"retry_after_seconds,omitempty"`
	AgeSeconds        int64     `json:"age_seconds,omitempty"`
	CheckedAt         time.Time `json:"checked_at"`
}

// Connected builds a successful result carrying the measured round trip.
func Connected(latency time.Duration) StatusResult {
	return StatusResult{
		Kind:      KindConnected,
		LatencyMs: latency.Milliseconds(),
		CheckedAt: time.Now(),
	}
}

// Unreachable builds a network/timeout failure result.
func Unreachable(reason string) StatusResult {
	return StatusResult{Kind: KindUnreachable, Reason: reason, CheckedAt: time.Now()}
}

// Unauthenticated builds a credential-failure result.
func Unauthenticated() StatusResult {
	return StatusResult{Kind: KindUnauthenticated, CheckedAt: time.Now()}
}

// RateLimited builds a back-off result; retryAfter may be zero when the
// response carried no Retry-After header.
func RateLimited(retryAfter time.Duration) StatusResult {
	return StatusResult{
		Kind:              KindRateLimited,
		RetryAfterSeconds: int64(retryAfter.Seconds()),
		CheckedAt:         time.Now(),
	}
}

// Unconfigured builds the no-endpoint-configured result.
func Unconfigured() StatusResult {
	return StatusResult{Kind: KindUnconfigured, CheckedAt: time.Now()}
}

// AsStale re-labels a previously fetched result as stale data of the given
// age. The original payload fields (latency etc.) are preserved so the
// renderer can still show them alongside the age.
func AsStale(prior StatusResult, age time.Duration) StatusResult {
	stale := prior
	stale.Kind = KindStale
	stale.AgeSeconds = int64(age.Seconds())
	stale.CheckedAt = time.Now()
	return stale
}
