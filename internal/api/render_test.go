package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llmgate/internal/translate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ginContext(rec *httptest.ResponseRecorder) *gin.Context {
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest("POST", "/", nil)
	return c
}

func deltaChannel(deltas ...translate.Delta) <-chan translate.Delta {
	ch := make(chan translate.Delta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch
}

func TestWriteClaudeSSE_AggregatesContentUsageAndStopReason(t *testing.T) {
	rec := httptest.NewRecorder()
	c := ginContext(rec)

	content, usage, stopReason := writeClaudeSSE(c, deltaChannel(
		translate.Delta{ContentDelta: "hel"},
		translate.Delta{ContentDelta: "lo"},
		translate.Delta{StopReason: "end_turn", Usage: translate.Usage{InputTokens: 3, OutputTokens: 7}},
	))

	assert.Equal(t, "hello", content)
	assert.Equal(t, "end_turn", stopReason)
	assert.EqualValues(t, 3, usage.InputTokens)
	assert.EqualValues(t, 7, usage.OutputTokens)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "content_block_delta")
	assert.Contains(t, rec.Body.String(), "message_delta")
}

func TestWriteClaudeSSE_SkipsKeepAliveContentButWritesComment(t *testing.T) {
	rec := httptest.NewRecorder()
	c := ginContext(rec)

	content, _, _ := writeClaudeSSE(c, deltaChannel(
		translate.Delta{KeepAlive: true},
		translate.Delta{ContentDelta: "x"},
	))

	assert.Equal(t, "x", content)
	assert.Contains(t, rec.Body.String(), ": keep-alive")
}

func TestWriteOpenAISSE_WritesDoneSentinel(t *testing.T) {
	rec := httptest.NewRecorder()
	c := ginContext(rec)

	usage := writeOpenAISSE(c, "chatcmpl-test", deltaChannel(
		translate.Delta{ContentDelta: "hi", Usage: translate.Usage{InputTokens: 1, OutputTokens: 2}},
	))

	assert.EqualValues(t, 1, usage.InputTokens)
	assert.EqualValues(t, 2, usage.OutputTokens)
	assert.Contains(t, rec.Body.String(), "[DONE]")
}

func TestRenderClaudeResponse_ProducesExpectedEnvelope(t *testing.T) {
	body := renderClaudeResponse("claude-3-opus", "hello", "end_turn", translate.Usage{InputTokens: 5, OutputTokens: 9})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "message", decoded["type"])
	assert.Equal(t, "assistant", decoded["role"])
	assert.Equal(t, "claude-3-opus", decoded["model"])
	assert.Equal(t, "end_turn", decoded["stop_reason"])
}

func TestRenderOpenAIResponse_MapsFinishReasons(t *testing.T) {
	body := renderOpenAIResponse("chatcmpl-1", "gpt-oss", "hi", "max_tokens", translate.Usage{InputTokens: 2, OutputTokens: 4})

	var decoded struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded.Choices, 1)
	assert.Equal(t, "length", decoded.Choices[0].FinishReason)
	assert.Equal(t, 6, decoded.Usage.TotalTokens)
}

func TestOpenAIFinishReasonForAPI(t *testing.T) {
	cases := map[string]string{
		"end_turn":       "stop",
		"stop_sequence":  "stop",
		"":                "stop",
		"max_tokens":     "length",
		"tool_use":       "tool_calls",
		"something_else": "something_else",
	}
	for in, want := range cases {
		assert.Equal(t, want, openAIFinishReasonForAPI(in), "input %q", in)
	}
}
