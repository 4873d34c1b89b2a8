package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relaymux/llmgate/internal/streaming"
	"github.com/relaymux/llmgate/internal/translate"
)

// sseHeaders sets the standard text/event-stream response headers gin
// needs before the first flush.
func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
}

// writeClaudeSSE drains deltas, re-encoding each as a native Claude SSE
// frame, and returns the aggregated usage/content/stop-reason once the
// channel closes.
func writeClaudeSSE(c *gin.Context, deltas <-chan translate.Delta) (content string, usage translate.Usage, stopReason string) {
	sseHeaders(c)
	w := streaming.NewWriter(c.Writer, c.Writer)
	for d := range deltas {
		if d.KeepAlive {
			_ = w.WriteComment("keep-alive")
			continue
		}
		content += d.ContentDelta
		usage.Add(d.Usage)
		if d.StopReason != "" {
			stopReason = d.StopReason
		}
		event, data, err := translate.EncodeClaudeSSE(d)
		if err != nil {
			continue
		}
		if err := w.WriteEvent(event, data); err != nil {
			return content, usage, stopReason
		}
	}
	return content, usage, stopReason
}

// writeGeminiSSE drains deltas, re-encoding each as a native
// streamGenerateContent SSE payload.
func writeGeminiSSE(c *gin.Context, deltas <-chan translate.Delta) (content string, usage translate.Usage, stopReason string) {
	sseHeaders(c)
	w := streaming.NewWriter(c.Writer, c.Writer)
	for d := range deltas {
		if d.KeepAlive {
			_ = w.WriteComment("keep-alive")
			continue
		}
		content += d.ContentDelta
		usage.Add(d.Usage)
		if d.StopReason != "" {
			stopReason = d.StopReason
		}
		data, err := translate.EncodeGeminiChunk(d)
		if err != nil {
			continue
		}
		if err := w.WriteEvent("", data); err != nil {
			return content, usage, stopReason
		}
	}
	return content, usage, stopReason
}

// writeOpenAISSE drains deltas, re-encoding each as an OpenAI
// chat.completion.chunk, and returns the aggregated usage for Release.
func writeOpenAISSE(c *gin.Context, id string, deltas <-chan translate.Delta) translate.Usage {
	sseHeaders(c)
	w := streaming.NewWriter(c.Writer, c.Writer)
	var usage translate.Usage
	for d := range deltas {
		if d.KeepAlive {
			_ = w.WriteComment("keep-alive")
			continue
		}
		usage.Add(d.Usage)
		data, err := translate.EncodeOpenAIChunk(id, d)
		if err != nil {
			continue
		}
		if err := w.WriteEvent("", data); err != nil {
			return usage
		}
	}
	_ = w.WriteDone()
	return usage
}

// renderClaudeResponse hand-builds a native, non-streaming Claude messages
// response from collected content. translate has no full response
// renderer for any format, so every OpenAI-compat and claudeweb route
// assembles its own minimal envelope here.
func renderClaudeResponse(model, content, stopReason string, usage translate.Usage) []byte {
	body, _ := json.Marshal(map[string]any{
		"id": "msg_" + uuid.NewString(),
		"type": "message",
		"role": "assistant",
		"model": model,
		"content": []map[string]any{{"type": "text", "text": content}},
		"stop_reason": stopReason,
		"usage": map[string]any{
			"input_tokens": usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		},
	})
	return body
}

// renderOpenAIResponse hand-builds a non-streaming OpenAI
// chat.completion response from collected content.
func renderOpenAIResponse(id, model, content, stopReason string, usage translate.Usage) []byte {
	body, _ := json.Marshal(map[string]any{
		"id": id,
		"object": "chat.completion",
		"model": model,
		"choices": []map[string]any{{
				"index": 0,
				"message": map[string]any{"role": "assistant", "content": content},
				"finish_reason": openAIFinishReasonForAPI(stopReason),
			}},
		"usage": map[string]any{
			"prompt_tokens": usage.InputTokens,
			"completion_tokens": usage.OutputTokens,
			"total_tokens": usage.InputTokens + usage.OutputTokens,
		},
	})
	return body
}

func openAIFinishReasonForAPI(stopReason string) string {
	switch stopReason {
	case "stop_sequence", "end_turn", "":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return stopReason
	}
}
