// Package statuscache memoizes remote-status results with a TTL, persisting
// entries to small per-endpoint files so the cost of a health exchange is
// amortized across the many independent short-lived statusline invocations.
package statuscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kurtosis-tech/stacktrace"

	"github.com/odyssey/beacon/internal/remote"
)

// Fetcher is the slice of remote.Client the cache depends on.
type Fetcher interface {
	FetchStatus(ctx context.Context) remote.StatusResult
}

// entry is the on-disk cache record for one endpoint. The TTL is stored in
// milliseconds so sub-second values survive the round trip through disk.
type entry struct {
	Payload   remote.StatusResult `json:"payload"`
	FetchedAt time.Time           `json:"fetched_at"`
	TTLMillis int64               `json:"ttl_ms"`
	// LastGood carries the most recent successful payload forward through
	// failures so it can be served explicitly marked stale.
	LastGood   *remote.StatusResult `json:"last_good,omitempty"`
	LastGoodAt time.Time            `json:"last_good_at,omitempty"`
}

func (e *entry) fresh(now time.Time) bool {
	ttl := time.Duration(e.TTLMillis) * time.Millisecond
	return ttl > 0 && now.Sub(e.FetchedAt) < ttl
}

// Cache wraps a Fetcher with a TTL cache. Hits return instantly; a miss
// blocks no longer than the fetcher's own request timeout.
type Cache struct {
	dirpath     string
	ttl         time.Duration
	minInterval time.Duration
	fetcher     Fetcher
	logger      *slog.Logger

	mu  sync.Mutex
	mem map[string]*entry
}

// New creates a cache storing entries under dirpath with the given TTL.
// minFetchInterval is the advisory rate-limit floor: even after TTL expiry,
// no new fetch is issued until that long after the last one, so the many
// independent statusline invocations collectively stay inside the
// configured per-minute request budget. Zero disables the floor.
func New(dirpath string, ttl time.Duration, minFetchInterval time.Duration, fetcher Fetcher, logger *slog.Logger) *Cache {
	return &Cache{
		dirpath:     dirpath,
		ttl:         ttl,
		minInterval: minFetchInterval,
		fetcher:     fetcher,
		logger:      logger,
		mem:         map[string]*entry{},
	}
}

// Get returns the status for the endpoint, from cache when a fresh entry
// exists, otherwise via a bounded fetch. On a fetch failure with an expired
// prior success available, the old payload is returned explicitly marked
// stale instead of flapping the display to unreachable on one blip.
func (c *Cache) Get(ctx context.Context, endpointURL string) remote.StatusResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := entryKey(endpointURL)
	now := time.Now()

	prior := c.loadLocked(key)
	if prior != nil && prior.fresh(now) {
		return presentPayload(prior, now)
	}
	if prior != nil && c.minInterval > 0 && now.Sub(prior.FetchedAt) < c.minInterval {
		// TTL has lapsed but the rate-limit floor hasn't; serve the expired
		// entry honestly marked stale rather than spend request budget.
		return presentExpired(prior, now)
	}

	result := c.fetcher.FetchStatus(ctx)

	next := &entry{
		Payload:   result,
		FetchedAt: now,
		TTLMillis: c.ttl.Milliseconds(),
	}
	switch {
	case result.Kind == remote.KindConnected:
		good := result
		next.LastGood = &good
		next.LastGoodAt = now
	case prior != nil:
		next.LastGood = prior.LastGood
		next.LastGoodAt = prior.LastGoodAt
	}

	c.storeLocked(key, next)
	return presentPayload(next, now)
}

// presentPayload maps a cache entry to the caller-facing result. An entry
// whose payload is a network failure but which still carries an earlier
// success is presented as that success, stale-marked with its age.
func presentPayload(e *entry, now time.Time) remote.StatusResult {
	if e.Payload.Kind == remote.KindUnreachable && e.LastGood != nil {
		return remote.AsStale(*e.LastGood, now.Sub(e.LastGoodAt))
	}
	return e.Payload
}

// presentExpired maps an entry past its TTL to a stale-marked result; an
// expired payload is never handed back as fresh.
func presentExpired(e *entry, now time.Time) remote.StatusResult {
	if e.LastGood != nil {
		return remote.AsStale(*e.LastGood, now.Sub(e.LastGoodAt))
	}
	return remote.AsStale(e.Payload, now.Sub(e.FetchedAt))
}

// loadLocked returns the cached entry for key, consulting process memory
// first and falling back to the on-disk file. A corrupt file is discarded
// and treated as a cold cache, never surfaced as an error.
func (c *Cache) loadLocked(key string) *entry {
	if e, ok := c.mem[key]; ok {
		return e
	}

	entryFilepath := c.entryFilepath(key)
	data, err := os.ReadFile(entryFilepath)
	if err != nil {
		return nil
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("Discarding corrupt status cache entry", "path", entryFilepath, "error", err)
		_ = os.Remove(entryFilepath)
		return nil
	}
	c.mem[key] = &e
	return &e
}

func (c *Cache) storeLocked(key string, e *entry) {
	c.mem[key] = e
	if err := c.writeEntryFile(key, e); err != nil {
		// Persistence is an optimization; the in-memory result still stands.
		c.logger.Warn("Failed to persist status cache entry", "error", err)
	}
}

// writeEntryFile atomically replaces the entry file via temp-write + rename
// so concurrent statusline invocations never observe a partial write.
func (c *Cache) writeEntryFile(key string, e *entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return stacktrace.Propagate(err, "failed to encode status cache entry")
	}

	if err := os.MkdirAll(c.dirpath, 0755); err != nil {
		return stacktrace.Propagate(err, "failed to create status cache directory")
	}

	tmpFile, err := os.CreateTemp(c.dirpath, ".entry-*.tmp")
	if err != nil {
		return stacktrace.Propagate(err, "failed to create temp cache file")
	}
	tmpFilepath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFilepath)
		return stacktrace.Propagate(err, "failed to write temp cache file")
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFilepath)
		return stacktrace.Propagate(err, "failed to close temp cache file")
	}
	if err := os.Rename(tmpFilepath, c.entryFilepath(key)); err != nil {
		_ = os.Remove(tmpFilepath)
		return stacktrace.Propagate(err, "failed to replace cache file")
	}
	return nil
}

func (c *Cache) entryFilepath(key string) string {
	return filepath.Join(c.dirpath, key+".json")
}

// entryKey derives a filesystem-safe key from the endpoint identity.
func entryKey(endpointURL string) string {
	sum := sha256.Sum256([]byte(endpointURL))
	return hex.EncodeToString(sum[:8])
}
