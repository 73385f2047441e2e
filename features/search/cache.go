package search

import (
	"strings"
	"sync"
	"time"

	"lens/apps/backend/internal/ranking"
)

// ResponseCache keeps recent search responses in memory, keyed by the
// normalized query. The pipeline behind a search is several model calls;
// repeating it within minutes for the same query buys nothing.
type ResponseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp    *ranking.Response
	expires time.Time
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// NormalizeQuery collapses whitespace and case so trivially different
// spellings share a cache entry and a suggestion bucket.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func (c *ResponseCache) Get(normalized string) (*ranking.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[normalized]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, normalized)
		return nil, false
	}
	return entry.resp, true
}

func (c *ResponseCache) Set(normalized string, resp *ranking.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Expired entries for other queries pile up between hits; sweep them
	// while we hold the lock anyway.
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}

	c.entries[normalized] = cacheEntry{resp: resp, expires: now.Add(c.ttl)}
}
