package authz

import (
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a validated token record is reused
// without touching the database. Revocation therefore takes effect
// within one TTL at the latest.
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	rec tokenRecord
	exp time.Time
}

// decisionCache memoizes token lookups keyed by token hash. Scope
// evaluation is cheap and always re-run per request; only the argon2
// hashing and the row fetch are amortized.
type decisionCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]cacheEntry
	Now func() time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &decisionCache{ttl: ttl, m: make(map[string]cacheEntry), Now: time.Now}
}

func (c *decisionCache) get(hash string) (tokenRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[hash]
	if !ok || c.Now().After(e.exp) {
		delete(c.m, hash)
		return tokenRecord{}, false
	}
	return e.rec, true
}

func (c *decisionCache) put(hash string, rec tokenRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	for k, e := range c.m {
		if now.After(e.exp) {
			delete(c.m, k)
		}
	}
	c.m[hash] = cacheEntry{rec: rec, exp: now.Add(c.ttl)}
}

func (c *decisionCache) drop(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, hash)
}
