package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// FreshnessPolicy decides whether a cached entry may still be served.
type FreshnessPolicy int

const (
	// FreshnessElapsed serves an entry while now - fetchedAt <= ttl.
	FreshnessElapsed FreshnessPolicy = iota
	// FreshnessLegacy serves an entry while fetchedAt - now <= ttl. Since fetchedAt is never
	// after now, entries never expire and only invalidation removes them.
	FreshnessLegacy
)

func (p FreshnessPolicy) String() string {
	if p == FreshnessLegacy {
		return "legacy"
	}
	return "elapsed"
}

// CacheEntry is one cached tabular result. Entries are replaced wholesale, never mutated.
type CacheEntry struct {
	Key       string
	Payload   any // *models.Table or *models.DataSet
	FetchedAt time.Time
	Query     *models.QuerySpecification
}

// CacheOptions configures a ResultCache.
type CacheOptions struct {
	Policy FreshnessPolicy
	// MaxEntries bounds the cache; the oldest entry is evicted first. Zero means unbounded.
	MaxEntries int
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// CacheStats is a snapshot of cache activity.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Policy  string `json:"policy"`
}

// ResultCache holds tabular results keyed by materialized statement text and shape.
// One mutex guards every check-then-write so concurrent misses cannot interleave.
// Payloads are deep-copied on the way in and out.
type ResultCache struct {
	mu           sync.Mutex
	entries      map[string]*CacheEntry
	policy       FreshnessPolicy
	maxEntries   int
	now          func() time.Time
	hits, misses uint64
}

// NewResultCache creates an empty cache.
func NewResultCache(opts CacheOptions) *ResultCache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ResultCache{
		entries:    make(map[string]*CacheEntry),
		policy:     opts.Policy,
		maxEntries: opts.MaxEntries,
		now:        now,
	}
}

// CacheKey derives the cache key of a statement.
func CacheKey(text string, shape models.ExecutionShape) string {
	return strings.ToLower(text + shape.String())
}

// boundParameter is the part of a bound parameter that decides the result.
type boundParameter struct {
	Name  string               `json:"n"`
	Kind  models.ParameterKind `json:"k"`
	Value any                  `json:"v"`
}

// StatementCacheKey extends CacheKey with a digest of the statement's bound parameters and,
// for impersonated connections, the caller. ok is false when the parameters cannot be
// encoded; such statements are not cached.
func StatementCacheKey(stmt models.Statement, shape models.ExecutionShape, userID string) (key string, ok bool) {
	key = CacheKey(stmt.Text, shape)

	if len(stmt.Parameters) > 0 {
		bound := make([]boundParameter, len(stmt.Parameters))
		for i, p := range stmt.Parameters {
			bound[i] = boundParameter{Name: strings.ToLower(p.Name), Kind: p.Kind, Value: p.Value}
		}
		data, err := json.Marshal(bound)
		if err != nil {
			return "", false
		}
		sum := sha256.Sum256(data)
		key += "|params:" + hex.EncodeToString(sum[:])
	}
	if userID != "" {
		key += "|user:" + userID
	}
	return key, true
}

// Get returns a copy of the entry for key if it is fresh under ttl. A stale entry is removed.
func (c *ResultCache) Get(key string, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if !c.fresh(e, ttl) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return clonePayload(e.Payload), true
}

func (c *ResultCache) fresh(e *CacheEntry, ttl time.Duration) bool {
	now := c.now().UTC()
	if c.policy == FreshnessLegacy {
		return e.FetchedAt.Sub(now) <= ttl
	}
	return now.Sub(e.FetchedAt) <= ttl
}

// Put stores a copy of payload under key, replacing any previous entry.
func (c *ResultCache) Put(key string, payload any, q *models.QuerySpecification) {
	entry := &CacheEntry{
		Key:       key,
		Payload:   clonePayload(payload),
		FetchedAt: c.now().UTC(),
		Query:     q,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
	} else if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = entry
}

func (c *ResultCache) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if oldestKey == "" || e.FetchedAt.Before(oldest) {
			oldestKey, oldest = k, e.FetchedAt
		}
	}
	delete(c.entries, oldestKey)
}

// Invalidate removes the entry for a cache key and reports whether one existed.
func (c *ResultCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// InvalidateQuery removes every entry produced by the query with the given logical key and
// returns how many were removed.
func (c *ResultCache) InvalidateQuery(queryKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.Query != nil && strings.EqualFold(e.Query.Key, queryKey) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear removes every entry and returns how many there were.
func (c *ResultCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*CacheEntry)
	return n
}

// Len returns the number of entries, fresh or not.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses, Policy: c.policy.String()}
}

func clonePayload(p any) any {
	switch v := p.(type) {
	case *models.Table:
		return v.Clone()
	case *models.DataSet:
		return v.Clone()
	}
	return p
}
