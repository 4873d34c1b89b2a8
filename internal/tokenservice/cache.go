// Package tokenservice implements per-credential access-token
// caching with exactly-one-concurrent-refresh semantics, serving both
// OAuth refresh-token grants and Vertex service-account JWT exchanges.
// Concurrent Acquire calls for the same credential collapse onto a single
// in-flight refresh via golang.org/x/sync/singleflight.
package tokenservice

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is a cached access token and its expiry.
type Token struct {
	AccessToken string
	Expiry time.Time
}

func (t Token) validAt(now time.Time) bool {
	return t.AccessToken != "" && t.Expiry.After(now.Add(60*time.Second))
}

// Refresher performs the actual token acquisition for one credential ID.
// OAuth and Vertex each provide their own implementation (see oauth.go,
// vertex.go).
type Refresher func(ctx context.Context) (Token, error)

// Cache holds one Token per credential ID and collapses concurrent
// refreshes for the same ID into a single call: "exactly
// one concurrent refresh per credential id; other callers await the
// result."
type Cache struct {
	mu sync.RWMutex
	tokens map[string]Token

	group singleflight.Group
}

// NewCache builds an empty token cache.
func NewCache() *Cache {
	return &Cache{tokens: make(map[string]Token)}
}

// Acquire returns a valid access token for credentialID, refreshing via
// refresh if the cached token is absent or within 60s of expiry. On
// refresh failure the cache is left untouched (the stale or absent entry
// is not poisoned with an error value).
func (c *Cache) Acquire(ctx context.Context, credentialID string, refresh Refresher) (string, error) {
	now := time.Now()
	c.mu.RLock()
	cached, ok := c.tokens[credentialID]
	c.mu.RUnlock()
	if ok && cached.validAt(now) {
		return cached.AccessToken, nil
	}

	v, err, _ := c.group.Do(credentialID, func() (any, error) {
		// Re-check under the singleflight key: another goroutine may have
		// refreshed while we were waiting to enter Do.
		c.mu.RLock()
		cached, ok := c.tokens[credentialID]
		c.mu.RUnlock()
		if ok && cached.validAt(time.Now()) {
			return cached.AccessToken, nil
		}
		tok, refreshErr := refresh(ctx)
		if refreshErr != nil {
			return "", refreshErr
		}
		c.mu.Lock()
		c.tokens[credentialID] = tok
		c.mu.Unlock()
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops a cached token, forcing the next Acquire to refresh.
func (c *Cache) Invalidate(credentialID string) {
	c.mu.Lock()
	delete(c.tokens, credentialID)
	c.mu.Unlock()
}
