// Package cache implements a fingerprint -> entry response
// cache with hit/in-flight/miss semantics, TTL expiry, and LRU eviction
// bounded by a configured max-entries count. An LRU index
// (hashicorp/golang-lru) tracks eviction order on top of a separate
// expiring store (patrickmn/go-cache) rather than a hand-rolled linked
// list.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Entry is one cached response: the finalized response bytes and a
// completed flag. Callers waiting on an in-flight fill are parked in the
// cache's singleflight group, not on the Entry.
type Entry struct {
	Bytes []byte
	Completed bool
}

// ResponseCache deduplicates in-flight and recently-completed identical
// requests keyed by their fingerprint (internal/translate.Fingerprint).
type ResponseCache struct {
	ttl *gocache.Cache
	index *lru.Cache[string, struct{}]
	group singleflight.Group
	mu sync.Mutex
}

// New builds a ResponseCache. maxEntries bounds the LRU index; ttl governs
// how long a completed entry survives in the TTL store.
func New(maxEntries int, ttl time.Duration) (*ResponseCache, error) {
	c := &ResponseCache{
		ttl: gocache.New(ttl, ttl/2),
	}
	index, err := lru.NewWithEvict(maxEntries, func(key string, _ struct{}) {
			c.ttl.Delete(key)
		})
	if err != nil {
		return nil, err
	}
	c.index = index
	return c, nil
}

// Lookup returns the cached entry for fingerprint, if present and
// completed.
func (c *ResponseCache) Lookup(fingerprint string) (Entry, bool) {
	v, ok := c.ttl.Get(fingerprint)
	if !ok {
		return Entry{}, false
	}
	entry := v.(Entry)
	if !entry.Completed {
		return Entry{}, false
	}
	c.index.Get(fingerprint) // touch for LRU recency
	return entry, true
}

// Produce runs fn at most once concurrently per fingerprint: the first
// caller for a given fingerprint executes fn and its result is delivered
// byte-identical to every concurrent waiter A
// successful result is also stored for subsequent Lookup calls.
func (c *ResponseCache) Produce(fingerprint string, fn func() ([]byte, error)) ([]byte, error) {
	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
			if cached, ok := c.Lookup(fingerprint); ok {
				return cached.Bytes, nil
			}
			bytes, err := fn()
			if err != nil {
				return nil, err
			}
			c.store(fingerprint, bytes)
			return bytes, nil
		})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *ResponseCache) store(fingerprint string, bytes []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl.SetDefault(fingerprint, Entry{Bytes: bytes, Completed: true})
	c.index.Add(fingerprint, struct{}{})
}

// Invalidate removes a fingerprint from the cache immediately.
func (c *ResponseCache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl.Delete(fingerprint)
	c.index.Remove(fingerprint)
}

// Len reports the current number of cached entries (for metrics/tests).
func (c *ResponseCache) Len() int {
	return c.index.Len()
}
