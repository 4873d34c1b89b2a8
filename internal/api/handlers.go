package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relaymux/llmgate/internal/apierr"
	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/resource"
	"github.com/relaymux/llmgate/internal/streaming"
	"github.com/relaymux/llmgate/internal/transactor/claudecode"
	"github.com/relaymux/llmgate/internal/translate"
)

// handleClaudeCodeMessages serves /code/v1/messages: native Claude wire
// format against the OAuth-credentialed Claude Code upstream.
// Non-streaming responses pass the upstream body straight through
// Chain.Run so they stay cacheable; streaming responses are decoded to
// canonical deltas and re-encoded as native Claude SSE, since the
// upstream body is fully buffered before this process ever sees it.
func (a *App) handleClaudeCodeMessages(c *gin.Context) {
	req, ok := a.parseBody(c, translate.ParseClaudeRequest)
	if !ok {
		return
	}
	lease, mgr, ok := a.lease(c, credential.KindOAuth)
	if !ok {
		return
	}

	if req.Stream {
		start := time.Now()
		deltas, err := a.ClaudeCode.ExecuteStream(c.Request.Context(), lease.Credential, req, claudecode.DecodeFrame, req.StopSequences)
		a.observeUpstream("claudecode", start)
		if err != nil {
			a.release(c, mgr, lease, outcomeForErr(err))
			writeAPIError(c, err)
			return
		}
		_, usage, _ := writeClaudeSSE(c, deltas)
		a.release(c, mgr, lease, resource.Outcome{Kind: resource.OutcomeOk, UsageDeltaInputTokens: usage.InputTokens, UsageDeltaOutputTokens: usage.OutputTokens, IsOpusModel: isOpusModel(req.Model)})
		return
	}

	body, err := a.Chain.Run(c.Request.Context(), req, func(ctx context.Context) ([]byte, error) {
		start := time.Now()
		result, err := a.ClaudeCode.Execute(ctx, lease.Credential, req)
		a.observeUpstream("claudecode", start)
		if err != nil {
			return nil, err
		}
		return result.Body, nil
	})
	if err != nil {
		a.release(c, mgr, lease, outcomeForErr(err))
		writeAPIError(c, err)
		return
	}
	a.release(c, mgr, lease, resource.Outcome{Kind: resource.OutcomeOk, IsOpusModel: isOpusModel(req.Model)})
	c.Data(http.StatusOK, "application/json", body)
}

// handleClaudeWebMessages serves /v1/messages: native Claude wire format
// against the cookie-credentialed Claude.ai web transactor. Unlike the
// other two transactors, claudeweb.Transactor.Execute never returns a
// buffered Result — every call streams deltas, so a non-streaming client
// here always collects the channel and a native response is hand-built.
func (a *App) handleClaudeWebMessages(c *gin.Context) {
	req, ok := a.parseBody(c, translate.ParseClaudeRequest)
	if !ok {
		return
	}
	lease, mgr, ok := a.lease(c, credential.KindCookie)
	if !ok {
		return
	}

	start := time.Now()
	deltas, usageEvent, err := a.ClaudeWeb.Execute(c.Request.Context(), lease.Credential, req, req.StopSequences)
	a.observeUpstream("claudeweb", start)
	var capabilities *credential.CapabilityFlags
	if usageEvent != nil {
		capabilities = &usageEvent.Capabilities
	}
	if err != nil {
		var outcome resource.Outcome
		switch {
		case usageEvent != nil && usageEvent.RateLimited && usageEvent.ResetAt > 0:
			outcome = resource.Outcome{Kind: resource.OutcomeExhausted, ResetAt: time.Unix(usageEvent.ResetAt, 0)}
		case usageEvent != nil && usageEvent.RateLimited:
			outcome = resource.ClassifyRateLimitBody(0)
		default:
			outcome = outcomeForErr(err)
		}
		outcome.Capabilities = capabilities
		a.release(c, mgr, lease, outcome)
		writeAPIError(c, err)
		return
	}

	if req.Stream {
		_, usage, _ := writeClaudeSSE(c, deltas)
		a.release(c, mgr, lease, resource.Outcome{Kind: resource.OutcomeOk, UsageDeltaInputTokens: usage.InputTokens, UsageDeltaOutputTokens: usage.OutputTokens, IsOpusModel: isOpusModel(req.Model), Capabilities: capabilities})
		return
	}

	content, usage, stopReason := streaming.Collect(deltas)
	a.release(c, mgr, lease, resource.Outcome{Kind: resource.OutcomeOk, UsageDeltaInputTokens: usage.InputTokens, UsageDeltaOutputTokens: usage.OutputTokens, IsOpusModel: isOpusModel(req.Model), Capabilities: capabilities})
	c.Data(http.StatusOK, "application/json", renderClaudeResponse(req.Model, content, stopReason, usage))
}

// handleOpenAICompatClaude serves /v1/chat/completions, bridging an
// OpenAI-shaped request onto the Claude Code upstream. It always obtains a
// canonical delta channel and re-encodes into whichever wire shape the
// client asked for, since translate has no OpenAI-shaped passthrough for a
// non-OpenAI upstream.
func (a *App) handleOpenAICompatClaude(c *gin.Context) {
	req, ok := a.parseBody(c, translate.ParseOpenAIRequest)
	if !ok {
		return
	}
	lease, mgr, ok := a.lease(c, credential.KindOAuth)
	if !ok {
		return
	}

	start := time.Now()
	deltas, err := a.ClaudeCode.ExecuteStream(c.Request.Context(), lease.Credential, req, claudecode.DecodeFrame, req.StopSequences)
	a.observeUpstream("claudecode", start)
	if err != nil {
		a.release(c, mgr, lease, outcomeForErr(err))
		writeAPIError(c, err)
		return
	}
	a.respondOpenAI(c, mgr, lease, req, deltas)
}

// handleOpenAICompatGemini serves /gemini/chat/completions, bridging an
// OpenAI-shaped request onto the Gemini (AI Studio) upstream.
func (a *App) handleOpenAICompatGemini(c *gin.Context) {
	req, ok := a.parseBody(c, translate.ParseOpenAIRequest)
	if !ok {
		return
	}
	lease, mgr, ok := a.lease(c, credential.KindKey)
	if !ok {
		return
	}

	start := time.Now()
	deltas, err := a.Gemini.ExecuteStreamOpenAICompat(c.Request.Context(), lease.Credential, req, req.StopSequences)
	a.observeUpstream("gemini", start)
	if err != nil {
		a.release(c, mgr, lease, outcomeForErr(err))
		writeAPIError(c, err)
		return
	}
	a.respondOpenAI(c, mgr, lease, req, deltas)
}

// respondOpenAI drains deltas into whichever OpenAI-compat wire shape the
// client requested, shared by both OpenAI-compat routes.
func (a *App) respondOpenAI(c *gin.Context, mgr *resource.Manager, lease *resource.LeaseHandle, req *translate.Request, deltas <-chan translate.Delta) {
	id := "chatcmpl-" + uuid.NewString()
	if req.Stream {
		usage := writeOpenAISSE(c, id, deltas)
		a.release(c, mgr, lease, resource.Outcome{Kind: resource.OutcomeOk, UsageDeltaInputTokens: usage.InputTokens, UsageDeltaOutputTokens: usage.OutputTokens, IsOpusModel: isOpusModel(req.Model)})
		return
	}
	content, usage, stopReason := streaming.Collect(deltas)
	a.release(c, mgr, lease, resource.Outcome{Kind: resource.OutcomeOk, UsageDeltaInputTokens: usage.InputTokens, UsageDeltaOutputTokens: usage.OutputTokens, IsOpusModel: isOpusModel(req.Model)})
	c.Data(http.StatusOK, "application/json", renderOpenAIResponse(id, req.Model, content, stopReason, usage))
}

// handleGeminiNative serves /v1beta/models/:modelAction against the
// API-key-credentialed AI Studio upstream: modelAction is
// "{model}:{generateContent|streamGenerateContent}" per the native Gemini
// URL convention.
func (a *App) handleGeminiNative(c *gin.Context) {
	a.dispatchGeminiNative(c, credential.KindKey)
}

// handleVertexNative serves /v1/vertex/models/:modelAction against the
// service-account-credentialed Vertex AI upstream, the same wire shape as
// AI Studio but routed through a different credential kind and transactor
// dispatch path.
func (a *App) handleVertexNative(c *gin.Context) {
	a.dispatchGeminiNative(c, credential.KindServiceAccount)
}

func (a *App) dispatchGeminiNative(c *gin.Context, kind credential.Kind) {
	model, action, ok := splitModelAction(c.Param("modelAction"))
	if !ok {
		writeAPIError(c, apierr.Invalid("model", "model action must be \"{model}:{action}\""))
		return
	}
	req, ok := a.parseBody(c, translate.ParseGeminiRequest)
	if !ok {
		return
	}
	req.Model = model
	req.Stream = action == "streamGenerateContent"

	lease, mgr, ok := a.lease(c, kind)
	if !ok {
		return
	}

	if req.Stream {
		start := time.Now()
		deltas, err := a.Gemini.ExecuteStream(c.Request.Context(), lease.Credential, req, req.StopSequences)
		a.observeUpstream("gemini", start)
		if err != nil {
			a.release(c, mgr, lease, outcomeForErr(err))
			writeAPIError(c, err)
			return
		}
		_, usage, _ := writeGeminiSSE(c, deltas)
		a.release(c, mgr, lease, resource.Outcome{Kind: resource.OutcomeOk, UsageDeltaInputTokens: usage.InputTokens, UsageDeltaOutputTokens: usage.OutputTokens, IsOpusModel: isOpusModel(req.Model)})
		return
	}

	body, err := a.Chain.Run(c.Request.Context(), req, func(ctx context.Context) ([]byte, error) {
		start := time.Now()
		result, err := a.Gemini.Execute(ctx, lease.Credential, req)
		a.observeUpstream("gemini", start)
		if err != nil {
			return nil, err
		}
		return result.Body, nil
	})
	if err != nil {
		a.release(c, mgr, lease, outcomeForErr(err))
		writeAPIError(c, err)
		return
	}
	a.release(c, mgr, lease, resource.Outcome{Kind: resource.OutcomeOk, IsOpusModel: isOpusModel(req.Model)})
	c.Data(http.StatusOK, "application/json", body)
}

func splitModelAction(raw string) (model, action string, ok bool) {
	i := strings.LastIndex(raw, ":")
	if i < 0 {
		return "", "", false
	}
	return raw[:i], raw[i+1:], true
}

// parseBody reads and decodes the request body with parse, writing the
// standard error envelope and returning ok=false on failure.
func (a *App) parseBody(c *gin.Context, parse func([]byte) (*translate.Request, error)) (*translate.Request, bool) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeAPIError(c, apierr.Invalid("body", "failed to read request body"))
		return nil, false
	}
	req, err := parse(raw)
	if err != nil {
		writeAPIError(c, apierr.Invalid("body", err.Error()))
		return nil, false
	}
	return req, true
}

// lease acquires a credential of kind, writing the standard error envelope
// and returning ok=false when no manager is configured or none is
// currently available.
func (a *App) lease(c *gin.Context, kind credential.Kind) (*resource.LeaseHandle, *resource.Manager, bool) {
	mgr := a.managerFor(kind)
	if mgr == nil {
		writeAPIError(c, apierr.New(apierr.Unavailable, "no credentials configured for this route", ""))
		return nil, nil, false
	}
	lease, err := mgr.Lease(c.Request.Context(), "")
	if err != nil {
		writeAPIError(c, apierr.New(apierr.Unavailable, err.Error(), ""))
		return nil, nil, false
	}
	return lease, mgr, true
}

// release reports outcome back to mgr, logging failures instead of
// surfacing them to the client — the response has already been decided by
// the time release runs.
func (a *App) release(c *gin.Context, mgr *resource.Manager, lease *resource.LeaseHandle, outcome resource.Outcome) {
	_ = mgr.Release(c.Request.Context(), lease, outcome)
	if a.Metrics != nil {
		a.Metrics.RequestsTotal.WithLabelValues(c.FullPath(), outcome.Kind.String()).Inc()
	}
}

// observeUpstream records the wall-clock duration since start against
// transactor when a metrics registry is configured.
func (a *App) observeUpstream(transactor string, start time.Time) {
	if a.Metrics != nil {
		a.Metrics.UpstreamLatency.WithLabelValues(transactor).Observe(time.Since(start).Seconds())
	}
}

// outcomeForErr maps a dispatch error to the Outcome its Release call
// should report, via the same HTTP-status classification the transactors
// use to build the error in the first place.
func outcomeForErr(err error) resource.Outcome {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		return resource.Outcome{Kind: resource.OutcomeTransientFail}
	}
	return resource.ClassifyHTTP(apiErr.HTTPStatus(), time.Time{}, false, false)
}

func isOpusModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "opus")
}

// writeAPIError renders err as the standard {"type","message","param"}
// envelope, wrapping non-apierr errors as internal.
func writeAPIError(c *gin.Context, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.New(apierr.Internal, err.Error(), "")
	}
	c.Data(apiErr.HTTPStatus(), "application/json", apiErr.ToJSON())
}
