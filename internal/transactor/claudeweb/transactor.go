// Package claudeweb implements the Claude.ai web transactor.
// It leases a CookieCred, discovers an eligible organization (cached per
// credential ID for the life of the Transactor, so the choice is reused
// across leases), creates a conversation, translates the canonical request
// into Claude-web's H/A-prompt JSON completion body, streams the SSE response
// through the streaming pipeline, and always deletes the conversation on
// exit unless preserve-chats is configured. Conversation lifecycle
// bookkeeping uses a bbolt-backed persistence pattern (see conversation.go).
package claudeweb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/relaymux/llmgate/internal/apierr"
	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/httpadapter"
	"github.com/relaymux/llmgate/internal/streaming"
	"github.com/relaymux/llmgate/internal/translate"
)

// defaultBaseURL is a var rather than a const so tests can redirect it at
// a local httptest server without touching dispatch logic.
var defaultBaseURL = "https://claude.ai"

// Config controls the optional behaviors and §4.H name.
type Config struct {
	SkipFreeOrganizations bool
	PreserveChats bool
	HumanMarker string // default "\n\nHuman: "
	AssistantMarker string // default "\n\nAssistant: "
	PadPrefix string // optional prompt-size normalization prefix
}

func (c Config) markers() (human, assistant string) {
	human, assistant = c.HumanMarker, c.AssistantMarker
	if human == "" {
		human = "\n\nHuman: "
	}
	if assistant == "" {
		assistant = "\n\nAssistant: "
	}
	return
}

// Transactor drives the Claude.ai web conversation lifecycle for one
// leased cookie credential.
type Transactor struct {
	Adapter *httpadapter.Adapter
	Audit *AuditTrail
	Config Config

	orgMu sync.Mutex
	orgCache map[string]*Organization // credential id -> first discovered org; entries are never dropped, so they outlive the lease
}

// New builds a Transactor.
func New(adapter *httpadapter.Adapter, audit *AuditTrail, cfg Config) *Transactor {
	return &Transactor{Adapter: adapter, Audit: audit, Config: cfg, orgCache: make(map[string]*Organization)}
}

// UsageEvent reports accounting data scraped from the upstream stream, for
// the caller to fold into the leased credential's usage counters via
// resource.Manager.Release.
type UsageEvent struct {
	InputTokens int64
	OutputTokens int64
	IsOpus bool
	RateLimited bool
	ResetAt int64 // unix seconds, 0 if absent
	Capabilities credential.CapabilityFlags
}

// Execute runs one full request/response cycle against Claude.ai web,
// streaming canonical deltas to the returned channel. The conversation is
// always cleaned up (step 5 of ) before the channel closes.
func (t *Transactor) Execute(ctx context.Context, cred *credential.Credential, req *translate.Request, stopSequences []string) (<-chan translate.Delta, *UsageEvent, error) {
	org, err := t.organizationFor(ctx, cred)
	if err != nil {
		return nil, nil, err
	}

	conv, err := Create(ctx, t.Adapter, t.Audit, cred.ID, cred.SessionToken, org.UUID, t.Config.PreserveChats)
	if err != nil {
		return nil, nil, err
	}

	prompt := t.buildPrompt(req)
	body := jsonBody(map[string]any{
			"prompt": prompt,
			"timezone": "UTC",
			"model": req.Model,
			"attachments": []any{},
			"files": []any{},
		})

	conv.Streaming(ctx)
	resp, err := t.Adapter.Send(ctx, cred.ID, httpadapter.Request{
			Method: http.MethodPost,
			BaseURL: defaultBaseURL,
			Path: fmt.Sprintf("/api/organizations/%s/chat_conversations/%s/completion", org.UUID, conv.UUID),
			Headers: cookieHeaders(cred.SessionToken),
			Body: body,
			Stream: true,
		})
	if err != nil {
		_ = conv.Finish(ctx, err)
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		upErr := &upstreamError{status: resp.StatusCode, body: data}
		_ = conv.Finish(ctx, upErr)
		usage := classifyUsageFromStatus(resp.StatusCode)
		usage.Capabilities = org.capabilityFlags()
		return nil, usage, apierr.New(classifyType(resp.StatusCode), "claude web upstream error", string(data))
	}

	usage := &UsageEvent{Capabilities: org.capabilityFlags()}
	pipeline := &streaming.Pipeline{
		Decode: decodeClaudeWebFrame(usage),
		StopSequences: stopSequences,
	}
	out := pipeline.Run(ctx, resp.Body)

	finalOut := make(chan translate.Delta)
	go func() {
		defer close(finalOut)
		defer resp.Body.Close()
		var finishErr error
		for d := range out {
			if d.StopReason == "error" {
				finishErr = fmt.Errorf("claudeweb: upstream error mid-stream")
			}
			select {
			case finalOut <- d:
			case <-ctx.Done():
				finishErr = ctx.Err()
			}
		}
		_ = conv.Finish(ctx, finishErr)
	}()

	return finalOut, usage, nil
}

func (t *Transactor) organizationFor(ctx context.Context, cred *credential.Credential) (*Organization, error) {
	t.orgMu.Lock()
	if org, ok := t.orgCache[cred.ID]; ok {
		t.orgMu.Unlock()
		return org, nil
	}
	t.orgMu.Unlock()

	org, err := discoverOrganization(ctx, t.Adapter, cred.ID, cred.SessionToken, t.Config.SkipFreeOrganizations)
	if err != nil {
		return nil, err
	}
	t.orgMu.Lock()
	t.orgCache[cred.ID] = org
	t.orgMu.Unlock()
	return org, nil
}

// buildPrompt merges canonical messages into a single H/A-marked prompt
// string step 3, optionally prefixed with a pad string
// for prompt-size normalization.
func (t *Transactor) buildPrompt(req *translate.Request) string {
	human, assistant := t.Config.markers()
	var b strings.Builder
	if t.Config.PadPrefix != "" {
		b.WriteString(t.Config.PadPrefix)
	}
	if req.System != nil {
		b.WriteString(human)
		b.WriteString(req.System.Text)
	}
	for _, m := range req.Messages {
		if m.Role == translate.RoleAssistant {
			b.WriteString(assistant)
		} else {
			b.WriteString(human)
		}
		for _, blk := range m.Blocks {
			if blk.Type == translate.BlockText {
				b.WriteString(blk.Text)
			}
		}
	}
	b.WriteString(assistant)
	return b.String()
}

func cookieHeaders(sessionToken string) http.Header {
	h := http.Header{}
	h.Set("Cookie", "sessionKey="+sessionToken)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "text/event-stream")
	h.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	return h
}

func jsonBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func classifyType(status int) apierr.Type {
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

func classifyUsageFromStatus(status int) *UsageEvent {
	return &UsageEvent{RateLimited: status == http.StatusTooManyRequests}
}

// decodeClaudeWebFrame adapts one Claude.ai web SSE frame into a canonical
// Delta, folding token/rate-limit accounting into usage as a side effect.
func decodeClaudeWebFrame(usage *UsageEvent) streaming.FrameDecoder {
	return func(frame *streaming.Frame) (translate.Delta, error) {
		var payload struct {
			Completion string `json:"completion"`
			StopReason string `json:"stop_reason"`
			RateLimit *struct {
				ResetsAt int64 `json:"resets_at"`
			} `json:"rate_limit"`
			Usage *struct {
				InputTokens int64 `json:"input_tokens"`
				OutputTokens int64 `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return translate.Delta{}, err
		}
		if payload.RateLimit != nil {
			usage.RateLimited = true
			usage.ResetAt = payload.RateLimit.ResetsAt
		}
		if payload.Usage != nil {
			usage.InputTokens += payload.Usage.InputTokens
			usage.OutputTokens += payload.Usage.OutputTokens
		}
		delta := translate.Delta{
			Role: translate.RoleAssistant,
			ContentDelta: payload.Completion,
			StopReason: payload.StopReason,
		}
		if payload.Usage != nil {
			delta.Usage = translate.Usage{InputTokens: payload.Usage.InputTokens, OutputTokens: payload.Usage.OutputTokens}
		}
		return delta, nil
	}
}
