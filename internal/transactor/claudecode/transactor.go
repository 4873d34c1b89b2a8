// Package claudecode implements OAuth-credentialed calls to
// POST {base}/v1/messages with a session cache keyed by (credential id,
// hash(system prompt)), and a refresh-once-and-retry on 401: the same
// Anthropic-Version/Anthropic-Beta header set, a per-request transport
// override seam, and a refresh-token-then-retry pattern on expiry.
package claudecode

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"

	"github.com/relaymux/llmgate/internal/apierr"
	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/httpadapter"
	"github.com/relaymux/llmgate/internal/streaming"
	"github.com/relaymux/llmgate/internal/tokenservice"
	"github.com/relaymux/llmgate/internal/translate"
)

// defaultBaseURL is a var rather than a const so tests can redirect it at
// a local httptest server without touching dispatch logic.
var defaultBaseURL = "https://api.anthropic.com"

// Transactor executes requests against the Claude Code upstream using an
// OAuth-credentialed messages endpoint.
type Transactor struct {
	Adapter *httpadapter.Adapter
	Tokens *tokenservice.Cache
	TokenURL string

	mu sync.Mutex
	sessions map[string]string // sessionKey -> upstream session id
}

// New builds a Transactor.
func New(adapter *httpadapter.Adapter, tokens *tokenservice.Cache, tokenURL string) *Transactor {
	return &Transactor{Adapter: adapter, Tokens: tokens, TokenURL: tokenURL, sessions: make(map[string]string)}
}

func sessionKey(credentialID string, systemPrompt string) string {
	h := sha256.Sum256([]byte(credentialID + "\x00" + systemPrompt))
	return hex.EncodeToString(h[:])
}

// Result carries the raw response body and status for the caller to feed
// into the response translator / streaming pipeline.
type Result struct {
	StatusCode int
	Header http.Header
	Body []byte
}

// Execute performs one non-streaming (or pre-buffered) call. It retries
// exactly once after refreshing the access token on a 401.
func (t *Transactor) Execute(ctx context.Context, cred *credential.Credential, req *translate.Request) (*Result, error) {
	return t.do(ctx, cred, req, false)
}

// ExecuteStream performs a streaming call and returns a canonical Delta
// channel via the streaming pipeline.
func (t *Transactor) ExecuteStream(ctx context.Context, cred *credential.Credential, req *translate.Request, decode streaming.FrameDecoder, stopSequences []string) (<-chan translate.Delta, error) {
	result, err := t.do(ctx, cred, req, true)
	if err != nil {
		return nil, err
	}
	pipeline := &streaming.Pipeline{Decode: decode, StopSequences: stopSequences}
	return pipeline.Run(ctx, bytes.NewReader(result.Body)), nil
}

func (t *Transactor) do(ctx context.Context, cred *credential.Credential, req *translate.Request, stream bool) (*Result, error) {
	key := sessionKey(cred.ID, systemText(req))
	t.mu.Lock()
	sessionID := t.sessions[key]
	t.mu.Unlock()

	body, err := translate.RenderClaudeRequest(req)
	if err != nil {
		return nil, err
	}

	result, err := t.send(ctx, cred, body, stream, sessionID)
	if err == nil && result.StatusCode == http.StatusUnauthorized {
		t.Tokens.Invalidate(cred.ID)
		result, err = t.send(ctx, cred, body, stream, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return result, apierr.New(classifyStatus(result.StatusCode), "claude code upstream error", string(result.Body))
	}

	if echoed := result.Header.Get("X-Session-Id"); echoed != "" {
		t.mu.Lock()
		t.sessions[key] = echoed
		t.mu.Unlock()
	}
	return result, nil
}

func (t *Transactor) send(ctx context.Context, cred *credential.Credential, body []byte, stream bool, sessionID string) (*Result, error) {
	accessToken, err := t.Tokens.Acquire(ctx, cred.ID, func(ctx context.Context) (tokenservice.Token, error) {
			return tokenservice.OAuthRefresher(cred, t.TokenURL)(ctx)
		})
	if err != nil {
		return nil, fmt.Errorf("claudecode: token refresh: %w", err)
	}

	headers := http.Header{}
	applyClaudeCodeHeaders(headers, accessToken, stream)
	if sessionID != "" {
		headers.Set("X-Session-Id", sessionID)
	}

	resp, err := t.Adapter.Send(ctx, cred.ID, httpadapter.Request{
			Method: http.MethodPost,
			BaseURL: defaultBaseURL,
			Path: "/v1/messages",
			Query: queryWithBeta(),
			Headers: headers,
			Body: bytes.NewReader(body),
			Stream: stream,
		})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readAll(resp)
	if err != nil {
		return nil, err
	}
	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func systemText(req *translate.Request) string {
	if req.System == nil {
		return ""
	}
	return req.System.Text
}

func classifyStatus(status int) apierr.Type {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apierr.AuthFailure
	case status == http.StatusTooManyRequests:
		return apierr.UpstreamRateLimit
	case status >= 500:
		return apierr.UpstreamTransient
	default:
		return apierr.UpstreamInvalid
	}
}
