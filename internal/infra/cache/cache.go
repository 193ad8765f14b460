// Package cache stores search results keyed by a fingerprint of the query and
// its parameters, with a fixed time-to-live.
//
// The Cache never reports backend failures to its callers: a backend error on
// read is a miss, a backend error on write is logged and dropped. Expiry is
// checked on every read, so an entry older than the TTL is never returned even
// if no sweep has run.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"uplink/internal/observability/metrics"
)

// DefaultTTL is the entry lifetime used when none is configured.
const DefaultTTL = 24 * time.Hour

// Entry is the persisted form of one cached result set.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	Timestamp   time.Time       `json:"timestamp"`
	Query       string          `json:"query"`
	Params      map[string]any  `json:"params,omitempty"`
	Results     json.RawMessage `json:"results"`
}

// Stats describes the cache for diagnostics.
type Stats struct {
	Location string        `json:"location"`
	Entries  int           `json:"entries"`
	TTL      time.Duration `json:"ttl"`
	Hits     uint64        `json:"hits"`
	Misses   uint64        `json:"misses"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for degraded backend operations.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache is a TTL cache of search results over a Backend.
type Cache struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a Cache over backend. A ttl <= 0 uses DefaultTTL.
func New(backend Backend, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Key returns the fingerprint of a query and its parameters: the hex SHA-256
// of their canonical JSON encoding. Map keys are encoded in sorted order, so
// the result does not depend on parameter insertion order.
func Key(query string, params map[string]any) string {
	payload, err := json.Marshal(struct {
		Params map[string]any `json:"params"`
		Query  string         `json:"query"`
	}{Params: params, Query: query})
	if err != nil {
		// unencodable params still need a stable key
		payload = []byte(fmt.Sprintf("%s\x00%v", query, params))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached results for query and params.
//
// It reports a hit only if the entry exists and is no older than the TTL.
// Expired and undecodable entries are deleted and reported as misses.
func (c *Cache) Get(ctx context.Context, query string, params map[string]any) (json.RawMessage, bool) {
	key := Key(query, params)

	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("cache read failed",
				slog.String("fingerprint", key),
				slog.Any("error", err))
		}
		c.miss()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("removing corrupt cache entry",
			slog.String("fingerprint", key),
			slog.Any("error", err))
		if c.evict(ctx, key, raw) {
			metrics.RecordCacheEvictions("corrupt", 1)
		}
		c.miss()
		return nil, false
	}

	if c.expired(entry) {
		// a fresh Set that lands after the read above survives the eviction
		if c.evict(ctx, key, raw) {
			metrics.RecordCacheEvictions("expired", 1)
		}
		c.miss()
		return nil, false
	}

	c.hits.Add(1)
	metrics.RecordCacheLookup("hit")
	return entry.Results, true
}

// GetInto decodes a cached result set into dst. It returns false on a miss or
// when the payload does not decode into dst.
func (c *Cache) GetInto(ctx context.Context, query string, params map[string]any, dst any) bool {
	raw, ok := c.Get(ctx, query, params)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("cached results do not match destination",
			slog.String("query", query),
			slog.Any("error", err))
		return false
	}
	return true
}

// Set stores results for query and params stamped with the current time,
// replacing any existing entry.
func (c *Cache) Set(ctx context.Context, query string, params map[string]any, results any) {
	key := Key(query, params)

	payload, err := json.Marshal(results)
	if err != nil {
		c.logger.Warn("cache results not encodable",
			slog.String("fingerprint", key),
			slog.Any("error", err))
		return
	}

	raw, err := json.Marshal(Entry{
		Fingerprint: key,
		Timestamp:   c.now(),
		Query:       query,
		Params:      params,
		Results:     payload,
	})
	if err != nil {
		c.logger.Warn("cache entry not encodable",
			slog.String("fingerprint", key),
			slog.Any("error", err))
		return
	}

	// the backend TTL only reclaims disk space; expiry is decided on read
	if err := c.backend.Put(ctx, key, raw, 2*c.ttl); err != nil {
		c.logger.Warn("cache write failed",
			slog.String("fingerprint", key),
			slog.Any("error", err))
	}
}

// ClearExpired removes expired and undecodable entries and returns how many
// were removed. An entry rewritten after the scan is kept.
func (c *Cache) ClearExpired(ctx context.Context) (int, error) {
	type candidate struct {
		key     string
		value   []byte
		corrupt bool
	}
	var candidates []candidate
	err := c.backend.Scan(ctx, func(key string, value []byte) error {
		var entry Entry
		if err := json.Unmarshal(value, &entry); err != nil {
			candidates = append(candidates, candidate{key: key, value: value, corrupt: true})
			return nil
		}
		if c.expired(entry) {
			candidates = append(candidates, candidate{key: key, value: value})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ClearExpired: %w", err)
	}

	var expired, corrupt int
	defer func() {
		metrics.RecordCacheEvictions("expired", expired)
		metrics.RecordCacheEvictions("corrupt", corrupt)
	}()
	for _, cand := range candidates {
		ok, err := c.backend.DeleteIf(ctx, cand.key, cand.value)
		if err != nil {
			return expired + corrupt, fmt.Errorf("ClearExpired: %w", err)
		}
		switch {
		case !ok:
		case cand.corrupt:
			corrupt++
		default:
			expired++
		}
	}

	if expired+corrupt > 0 {
		c.logger.Info("cleared expired cache entries",
			slog.Int("expired", expired),
			slog.Int("corrupt", corrupt))
	}
	return expired + corrupt, nil
}

// ClearAll removes every entry and returns how many were removed.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	var keys []string
	err := c.backend.Scan(ctx, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ClearAll: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if err := c.backend.Delete(ctx, key); err != nil {
			metrics.RecordCacheEvictions("clear", removed)
			return removed, fmt.Errorf("ClearAll: %w", err)
		}
		removed++
	}
	metrics.RecordCacheEvictions("clear", removed)
	return removed, nil
}

// Stats returns the current cache statistics.
// A failing entry count is logged and reported as zero.
func (c *Cache) Stats(ctx context.Context) Stats {
	n, err := c.backend.Count(ctx)
	if err != nil {
		c.logger.Warn("cache count failed", slog.Any("error", err))
		n = 0
	}
	return Stats{
		Location: c.backend.Location(),
		Entries:  n,
		TTL:      c.ttl,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

func (c *Cache) expired(e Entry) bool {
	return c.now().Sub(e.Timestamp) > c.ttl
}

func (c *Cache) miss() {
	c.misses.Add(1)
	metrics.RecordCacheLookup("miss")
}

// evict removes key if it still holds raw.
func (c *Cache) evict(ctx context.Context, key string, raw []byte) bool {
	ok, err := c.backend.DeleteIf(ctx, key, raw)
	if err != nil {
		c.logger.Warn("cache delete failed",
			slog.String("fingerprint", key),
			slog.Any("error", err))
		return false
	}
	return ok
}
