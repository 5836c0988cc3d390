package auth

import (
	"sync"
	"time"
)

// cacheGraceWindow is the buffer subtracted from a cached token's expiry
// before it is considered stale; acceptance of a fresh token has no such
// grace, only invalidation of a cached one does.
const cacheGraceWindow = 5 * time.Minute

type cacheEntry struct {
	token     string
	expiresAt time.Time
}

// tokenCache is the process-wide map keyed by (secret_id, optional
// tenant_override). Reads take the mutex; writes are idempotent last-wins.
type tokenCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

var defaultCache = &tokenCache{entries: make(map[cacheKey]cacheEntry)}

func (c *tokenCache) get(key cacheKey) (string, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", time.Time{}, false
	}
	if time.Now().Add(cacheGraceWindow).After(e.expiresAt) {
		delete(c.entries, key)
		return "", time.Time{}, false
	}
	return e.token, e.expiresAt, true
}

func (c *tokenCache) put(key cacheKey, token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{token: token, expiresAt: expiresAt}
}

// invalidate removes a cached token, forcing the next Token call to
// re-acquire. Its only caller is the exported Invalidate.
func (c *tokenCache) invalidate(key cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Invalidate removes any cached token for the given secret/tenant pair.
func Invalidate(secretID, tenant string) {
	defaultCache.invalidate(cacheKey{secretID: secretID, tenant: tenant})
}
