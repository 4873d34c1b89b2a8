package middleware

import (
	"context"

	"github.com/relaymux/llmgate/internal/cache"
	"github.com/relaymux/llmgate/internal/metrics"
	"github.com/relaymux/llmgate/internal/translate"
)

// Dispatch performs the actual upstream call for one canonical request and
// returns the wire-format bytes to send back to the caller (already
// translated into the caller's origin format by the route handler).
type Dispatch func(ctx context.Context) ([]byte, error)

// Chain is the reusable, provider-agnostic middle of the request pipeline:
// sanitize -> fingerprint -> cache lookup -> dispatch -> cache store. Route
// handlers own authentication, wire-format detection/translation, and
// transactor selection step list.
type Chain struct {
	Cache *cache.ResponseCache // nil disables caching entirely
	Projection translate.FingerprintProjection
	Metrics *metrics.Registry

	// RequireLeadingUser makes Sanitize prepend an empty user turn when the
	// first non-system message is assistant. It is one setting for every
	// request run through this Chain; no route sets it per request.
	RequireLeadingUser bool
}

// Run sanitizes req in place, computes its fingerprint, and either returns a
// cached response or calls dispatch exactly once (collapsing concurrent
// identical requests via the cache's singleflight group).
func (c *Chain) Run(ctx context.Context, req *translate.Request, dispatch Dispatch) ([]byte, error) {
	req.Messages = translate.Sanitize(req.Messages, c.RequireLeadingUser)

	if c.Cache == nil || req.Stream {
		// Streaming responses are never cached whole; caching is scoped
		// to non-streaming, fully-buffered responses.
		return dispatch(ctx)
	}

	fp := translate.Fingerprint(req, c.Projection)
	if entry, ok := c.Cache.Lookup(fp); ok {
		if c.Metrics != nil {
			c.Metrics.CacheHits.Inc()
		}
		return entry.Bytes, nil
	}
	if c.Metrics != nil {
		c.Metrics.CacheMisses.Inc()
	}
	return c.Cache.Produce(fp, func() ([]byte, error) {
			return dispatch(ctx)
		})
}
