package translate

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ParseClaudeRequest decodes a native /v1/messages body into the canonical
// Request. This mapping is near-identity, with one notable preserved edge
// case: tool-result content may be a string OR a structured array, and
// both forms are retained rather than coerced to string.
func ParseClaudeRequest(raw []byte) (*Request, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("translate: invalid claude request json")
	}
	root := gjson.ParseBytes(raw)
	req := &Request{
		Model: root.Get("model").String(),
		Origin: OriginClaudeNative,
		Stream: root.Get("stream").Bool(),
		RawJSON: raw,
	}
	if v := root.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := root.Get("top_p"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := root.Get("top_k"); v.Exists() {
		n := int(v.Int())
		req.TopK = &n
	}
	if v := root.Get("max_tokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	}
	root.Get("stop_sequences").ForEach(func(_, item gjson.Result) bool {
			req.StopSequences = append(req.StopSequences, item.String())
			return true
		})

	if sys := root.Get("system"); sys.Exists() {
		if sys.Type == gjson.String {
			req.System = &Block{Type: BlockText, Text: sys.String()}
		} else if sys.IsArray() && len(sys.Array()) > 0 {
			req.System = &Block{Type: BlockText, Text: sys.Array()[0].Get("text").String()}
		}
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
			role := Role(msg.Get("role").String())
			var blocks []Block
			content := msg.Get("content")
			if content.Type == gjson.String {
				blocks = append(blocks, Block{Type: BlockText, Text: content.String()})
			} else {
				content.ForEach(func(_, part gjson.Result) bool {
						blocks = append(blocks, claudeContentPartToBlock(part))
						return true
					})
			}
			req.Messages = append(req.Messages, Message{Role: role, Blocks: blocks})
			return true
		})

	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
			req.Tools = append(req.Tools, ToolDefinition{
					Name: tool.Get("name").String(),
					Description: tool.Get("description").String(),
					Parameters: []byte(tool.Get("input_schema").Raw),
				})
			return true
		})

	return req, nil
}

func claudeContentPartToBlock(part gjson.Result) Block {
	switch part.Get("type").String() {
		case "image":
		return Block{
			Type: BlockImage,
			MediaType: part.Get("source.media_type").String(),
			Data: part.Get("source.data").String(),
		}
		case "tool_use":
		return Block{
			Type: BlockToolUse,
			ToolUseID: part.Get("id").String(),
			ToolName: part.Get("name").String(),
			ToolInput: []byte(part.Get("input").Raw),
		}
		case "tool_result":
		b := Block{Type: BlockToolResult, ToolResultID: part.Get("tool_use_id").String(), ToolResultError: part.Get("is_error").Bool()}
		content := part.Get("content")
		if content.Type == gjson.String {
			b.ToolResultText = content.String()
		} else if content.IsArray() {
			content.ForEach(func(_, sub gjson.Result) bool {
					b.ToolResultBlocks = append(b.ToolResultBlocks, claudeContentPartToBlock(sub))
					return true
				})
		}
		return b
		default:
		return Block{Type: BlockText, Text: part.Get("text").String()}
	}
}

// RenderClaudeRequest serializes the canonical Request into a native
// /v1/messages body.
func RenderClaudeRequest(req *Request) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	body, err = sjson.SetBytes(body, "model", req.Model)
	if err != nil {
		return nil, err
	}
	body, _ = sjson.SetBytes(body, "stream", req.Stream)
	if req.System != nil {
		body, _ = sjson.SetBytes(body, "system", req.System.Text)
	}
	if req.MaxTokens != nil {
		body, _ = sjson.SetBytes(body, "max_tokens", *req.MaxTokens)
	} else {
		body, _ = sjson.SetBytes(body, "max_tokens", 4096)
	}
	if req.Temperature != nil {
		body, _ = sjson.SetBytes(body, "temperature", *req.Temperature)
	}
	if req.TopP != nil {
		body, _ = sjson.SetBytes(body, "top_p", *req.TopP)
	}
	if req.TopK != nil {
		body, _ = sjson.SetBytes(body, "top_k", *req.TopK)
	}
	if len(req.StopSequences) > 0 {
		body, _ = sjson.SetBytes(body, "stop_sequences", req.StopSequences)
	}

	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{"role": string(m.Role), "content": blocksToClaudeContent(m.Blocks)})
	}
	body, err = sjson.SetBytes(body, "messages", messages)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func blocksToClaudeContent(blocks []Block) []map[string]any {
	out := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case BlockText:
			out = append(out, map[string]any{"type": "text", "text": b.Text})
		case BlockImage:
			out = append(out, map[string]any{
					"type": "image",
					"source": map[string]any{"type": "base64", "media_type": b.MediaType, "data": b.Data},
				})
		case BlockToolUse:
			var input any
			_ = json.Unmarshal(b.ToolInput, &input)
			out = append(out, map[string]any{"type": "tool_use", "id": b.ToolUseID, "name": b.ToolName, "input": input})
		case BlockToolResult:
			// Preserve the string-vs-structured-array distinction
			// instead of regressing to string-only.
			item := map[string]any{"type": "tool_result", "tool_use_id": b.ToolResultID}
			if b.ToolResultError {
				item["is_error"] = true
			}
			if len(b.ToolResultBlocks) > 0 {
				item["content"] = blocksToClaudeContent(b.ToolResultBlocks)
			} else {
				item["content"] = b.ToolResultText
			}
			out = append(out, item)
		}
	}
	return out
}

// EncodeClaudeSSE renders one canonical Delta as a native Claude SSE event
// name plus its "data:" JSON payload. It returns the payload only, like
// EncodeGeminiChunk and EncodeOpenAIChunk; the caller frames both through
// streaming.Writer.WriteEvent.
func EncodeClaudeSSE(delta Delta) (event string, data []byte, err error) {
	event = "content_block_delta"
	payload := map[string]any{
		"type": event,
		"index": 0,
		"delta": map[string]any{"type": "text_delta", "text": delta.ContentDelta},
	}
	if delta.StopReason != "" {
		event = "message_delta"
		payload = map[string]any{
			"type": event,
			"delta": map[string]any{"stop_reason": delta.StopReason},
			"usage": map[string]any{"input_tokens": delta.Usage.InputTokens, "output_tokens": delta.Usage.OutputTokens},
		}
	}
	data, err = json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}
	return event, data, nil
}
