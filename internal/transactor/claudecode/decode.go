package claudecode

import (
	"encoding/json"

	"github.com/relaymux/llmgate/internal/streaming"
	"github.com/relaymux/llmgate/internal/translate"
)

// DecodeFrame adapts one native Claude SSE event (content_block_delta,
// message_delta, message_stop) into a canonical Delta, the mirror image of
// translate.EncodeClaudeSSE.
func DecodeFrame(frame *streaming.Frame) (translate.Delta, error) {
	var payload struct {
		Type  string `json:"type"`
		Delta struct {
			Type       string `json:"type"`
			Text       string `json:"text"`
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		return translate.Delta{}, err
	}
	delta := translate.Delta{Role: translate.RoleAssistant}
	switch payload.Type {
	case "content_block_delta":
		delta.ContentDelta = payload.Delta.Text
	case "message_delta":
		delta.StopReason = payload.Delta.StopReason
		delta.Usage = translate.Usage{InputTokens: payload.Usage.InputTokens, OutputTokens: payload.Usage.OutputTokens}
	case "message_stop":
		delta.Done = true
	}
	return delta, nil
}
