// Package gemini implements the AI Studio (API-key) and
// Vertex AI (service-account) Gemini transactors: the
// ?key= query parameter / Authorization: Bearer split, a per-request
// transport override seam, and the streamGenerateContent?alt=sse query
// convention, generalized into a single struct whose path depends on
// which credential kind it is given.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/sjson"

	"github.com/relaymux/llmgate/internal/apierr"
	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/httpadapter"
	"github.com/relaymux/llmgate/internal/streaming"
	"github.com/relaymux/llmgate/internal/tokenservice"
	"github.com/relaymux/llmgate/internal/translate"
)

// aiStudioBaseURL is a var rather than a const so tests can redirect it at
// a local httptest server without touching dispatch logic.
var aiStudioBaseURL = "https://generativelanguage.googleapis.com"

// SafetySetting is applied for the native Gemini path only, never for the
// OpenAI-compat route
type SafetySetting struct {
	Category string
	Threshold string
}

// Transactor dispatches to either AI Studio (APIKey credential) or Vertex
// AI (ServiceAccount credential), chosen by the credential kind it is
// given at call time.
type Transactor struct {
	Adapter *httpadapter.Adapter
	Tokens *tokenservice.Cache
	Vertex VertexConfig
	Safety []SafetySetting
}

// Result carries the raw response for the caller to translate back.
type Result struct {
	StatusCode int
	Header http.Header
	Body []byte
}

// Execute runs a non-streaming generateContent call against the native
// Gemini/Vertex wire format, with Safety settings applied. Callers
// bridging from a non-native wire format (the OpenAI-compat route) must
// use ExecuteOpenAICompat/ExecuteStreamOpenAICompat instead, which never
// attach Safety.
func (t *Transactor) Execute(ctx context.Context, cred *credential.Credential, req *translate.Request) (*Result, error) {
	return t.do(ctx, cred, req, false, true)
}

// ExecuteStream runs a streamGenerateContent call against the native wire
// format and decodes it through the streaming pipeline, with Safety
// settings applied.
func (t *Transactor) ExecuteStream(ctx context.Context, cred *credential.Credential, req *translate.Request, stopSequences []string) (<-chan translate.Delta, error) {
	result, err := t.do(ctx, cred, req, true, true)
	if err != nil {
		return nil, err
	}
	pipeline := &streaming.Pipeline{Decode: decodeGeminiFrame, StopSequences: stopSequences}
	return pipeline.Run(ctx, bytes.NewReader(result.Body)), nil
}

// ExecuteOpenAICompat runs a non-streaming generateContent call on behalf
// of the OpenAI-compat route. Safety settings are never attached here:
// they apply to the native path only.
func (t *Transactor) ExecuteOpenAICompat(ctx context.Context, cred *credential.Credential, req *translate.Request) (*Result, error) {
	return t.do(ctx, cred, req, false, false)
}

// ExecuteStreamOpenAICompat is ExecuteStream for the OpenAI-compat route:
// same streaming decode, but Safety settings are never attached.
func (t *Transactor) ExecuteStreamOpenAICompat(ctx context.Context, cred *credential.Credential, req *translate.Request, stopSequences []string) (<-chan translate.Delta, error) {
	result, err := t.do(ctx, cred, req, true, false)
	if err != nil {
		return nil, err
	}
	pipeline := &streaming.Pipeline{Decode: decodeGeminiFrame, StopSequences: stopSequences}
	return pipeline.Run(ctx, bytes.NewReader(result.Body)), nil
}

func (t *Transactor) do(ctx context.Context, cred *credential.Credential, req *translate.Request, stream, applySafetySettings bool) (*Result, error) {
	body, err := translate.RenderGeminiRequest(req)
	if err != nil {
		return nil, err
	}
	if applySafetySettings {
		body, err = applySafety(body, t.Safety)
		if err != nil {
			return nil, err
		}
	}

	var (
		baseURL string
		path string
		query url.Values
		headers http.Header
	)
	action := "generateContent"
	if stream {
		action = "streamGenerateContent"
	}

	switch cred.Kind {
	case credential.KindKey:
		baseURL = aiStudioBaseURL
		path = fmt.Sprintf("/v1beta/models/%s:%s", req.Model, action)
		query = url.Values{"key": {cred.APIKey}}
		if stream {
			query.Set("alt", "sse")
		}
		headers = http.Header{"Content-Type": {"application/json"}}

	case credential.KindServiceAccount:
		var vErr error
		baseURL, path, headers, vErr = t.vertexDispatch(ctx, cred, req.Model, action)
		if vErr != nil {
			return nil, vErr
		}
		if stream {
			query = url.Values{"alt": {"sse"}}
		}

	default:
		return nil, fmt.Errorf("gemini: unsupported credential kind %q", cred.Kind)
	}

	resp, err := t.Adapter.Send(ctx, cred.ID, httpadapter.Request{
			Method: http.MethodPost,
			BaseURL: baseURL,
			Path: path,
			Query: query,
			Headers: headers,
			Body: bytes.NewReader(body),
			Stream: stream,
		})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: data},
		apierr.New(classifyStatus(resp.StatusCode), "gemini upstream error", string(data))
	}
	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func applySafety(body []byte, settings []SafetySetting) ([]byte, error) {
	if len(settings) == 0 {
		return body, nil
	}
	list := make([]map[string]string, 0, len(settings))
	for _, s := range settings {
		list = append(list, map[string]string{"category": s.Category, "threshold": s.Threshold})
	}
	return sjson.SetBytes(body, "safetySettings", list)
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

func decodeGeminiFrame(frame *streaming.Frame) (translate.Delta, error) {
	var payload struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount int64 `json:"promptTokenCount"`
			CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		return translate.Delta{}, err
	}
	delta := translate.Delta{
		Role: translate.RoleAssistant,
		Usage: translate.Usage{
			InputTokens: payload.UsageMetadata.PromptTokenCount,
			OutputTokens: payload.UsageMetadata.CandidatesTokenCount,
		},
	}
	if len(payload.Candidates) > 0 {
		c := payload.Candidates[0]
		for _, p := range c.Content.Parts {
			delta.ContentDelta += p.Text
		}
		if c.FinishReason != "" && c.FinishReason != "FINISH_REASON_UNSPECIFIED" {
			delta.StopReason = c.FinishReason
		}
	}
	return delta, nil
}
