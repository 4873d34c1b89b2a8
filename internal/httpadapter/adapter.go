// Package httpadapter builds and sends upstream HTTP requests. It never
// interprets response bodies — it surfaces raw bytes plus status — and
// composes URLs exclusively through net/url's JoinPath semantics, never
// string concatenation. Proxying, per-credential rate limiting, and a
// pluggable per-request transport seam round out the adapter.
package httpadapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"
)

// roundTripperKey is the context key an out-of-scope TLS-fingerprinted
// transport is plugged in under.
type roundTripperKey struct{}

// WithRoundTripper attaches a custom transport to ctx for Send to pick up.
func WithRoundTripper(ctx context.Context, rt http.RoundTripper) context.Context {
	return context.WithValue(ctx, roundTripperKey{}, rt)
}

func roundTripperFrom(ctx context.Context) http.RoundTripper {
	rt, _ := ctx.Value(roundTripperKey{}).(http.RoundTripper)
	return rt
}

// Request describes an upstream call to build.
type Request struct {
	Method string
	BaseURL string
	Path string
	Query url.Values
	Headers http.Header
	Body io.Reader
	Stream bool
}

// Response is the raw upstream result: status, headers, and a body stream
// the caller is responsible for closing.
type Response struct {
	StatusCode int
	Header http.Header
	Body io.ReadCloser
}

// Adapter wraps an outbound HTTP client configured with a process-wide
// proxy and per-credential rate limiting.
type Adapter struct {
	proxyURL string

	mu sync.Mutex
	limiters map[string]*rate.Limiter
	limiterRPS float64
}

// New builds an Adapter. proxyURL may be empty; limiterRPS bounds how many
// requests per second a single credential ID may issue (0 disables
// limiting).
func New(proxyURL string, limiterRPS float64) *Adapter {
	return &Adapter{proxyURL: proxyURL, limiters: make(map[string]*rate.Limiter), limiterRPS: limiterRPS}
}

// JoinURL composes a base origin and a path using URL join semantics,
// tolerant of a trailing slash on base.
func JoinURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("httpadapter: invalid base url %q: %w", base, err)
	}
	u = u.JoinPath(strings.TrimPrefix(path, "/"))
	return u.String(), nil
}

func (a *Adapter) limiterFor(credentialID string) *rate.Limiter {
	if a.limiterRPS <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.limiters[credentialID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(a.limiterRPS), 1)
	a.limiters[credentialID] = l
	return l
}

// Send builds and executes the upstream request, applying proxy and
// per-credential rate limiting, and transparently zstd-decoding the body
// when the upstream sets Content-Encoding: zstd.
func (a *Adapter) Send(ctx context.Context, credentialID string, req Request) (*Response, error) {
	if limiter := a.limiterFor(credentialID); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	target, err := JoinURL(req.BaseURL, req.Path)
	if err != nil {
		return nil, err
	}
	if len(req.Query) > 0 {
		u, parseErr := url.Parse(target)
		if parseErr != nil {
			return nil, parseErr
		}
		u.RawQuery = req.Query.Encode()
		target = u.String()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	client := &http.Client{}
	if req.Stream {
		client.Timeout = 0
	} else {
		client.Timeout = 120 * time.Second
	}
	if rt := roundTripperFrom(ctx); rt != nil {
		client.Transport = rt
	} else if a.proxyURL != "" {
		transport, proxyErr := transportWithProxy(a.proxyURL)
		if proxyErr != nil {
			return nil, proxyErr
		}
		client.Transport = transport
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	body := resp.Body
	if hasZSTDEncoding(resp.Header.Get("Content-Encoding")) {
		decoder, decErr := zstd.NewReader(resp.Body)
		if decErr != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("httpadapter: zstd decode: %w", decErr)
		}
		body = zstdReadCloser{Decoder: decoder, inner: resp.Body}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

type zstdReadCloser struct {
	*zstd.Decoder
	inner io.Closer
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.inner.Close()
}

func hasZSTDEncoding(contentEncoding string) bool {
	if contentEncoding == "" {
		return false
	}
	for _, part := range strings.Split(contentEncoding, ",") {
		if strings.EqualFold(strings.TrimSpace(part), "zstd") {
			return true
		}
	}
	return false
}
