package translate

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ParseOpenAIRequest decodes an OpenAI /v1/chat/completions body into the
// canonical Request: split messages by role, turn tool_calls/tool_results
// into content blocks, and map stop into the stop-sequences set.
func ParseOpenAIRequest(raw []byte) (*Request, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("translate: invalid openai request json")
	}
	root := gjson.ParseBytes(raw)
	req := &Request{
		Model: root.Get("model").String(),
		Origin: OriginOpenAI,
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
	if v := root.Get("max_tokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	}
	req.StopSequences = stopSequencesFromOpenAI(root.Get("stop"))

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
			role := Role(msg.Get("role").String())
			if role == "" {
				role = RoleUser
			}
			var blocks []Block
			content := msg.Get("content")
			switch {
			case content.IsArray():
				content.ForEach(func(_, part gjson.Result) bool {
						blocks = append(blocks, openAIContentPartToBlock(part))
						return true
					})
			case content.Exists() && content.Type == gjson.String:
				blocks = append(blocks, Block{Type: BlockText, Text: content.String()})
			}
			if toolCallID := msg.Get("tool_call_id"); toolCallID.Exists() {
				blocks = append(blocks, Block{
						Type: BlockToolResult,
						ToolResultID: toolCallID.String(),
						ToolResultText: content.String(),
					})
			}
			msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
					blocks = append(blocks, Block{
							Type: BlockToolUse,
							ToolUseID: call.Get("id").String(),
							ToolName: call.Get("function.name").String(),
							ToolInput: []byte(call.Get("function.arguments").Raw),
						})
					return true
				})

			if role == RoleSystem {
				if req.System == nil && len(blocks) > 0 {
					req.System = &blocks[0]
				}
				return true
			}
			req.Messages = append(req.Messages, Message{Role: role, Blocks: blocks})
			return true
		})

	req.Messages = Sanitize(req.Messages, false)

	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
			req.Tools = append(req.Tools, ToolDefinition{
					Name: tool.Get("function.name").String(),
					Description: tool.Get("function.description").String(),
					Parameters: []byte(tool.Get("function.parameters").Raw),
				})
			return true
		})

	return req, nil
}

func stopSequencesFromOpenAI(v gjson.Result) []string {
	if !v.Exists() {
		return nil
	}
	if v.Type == gjson.String {
		return []string{v.String()}
	}
	var out []string
	v.ForEach(func(_, item gjson.Result) bool {
			out = append(out, item.String())
			return true
		})
	return out
}

func openAIContentPartToBlock(part gjson.Result) Block {
	switch part.Get("type").String() {
		case "image_url":
		url := part.Get("image_url.url").String()
		mediaType, data := splitDataURL(url)
		return Block{Type: BlockImage, MediaType: mediaType, Data: data}
		default:
		return Block{Type: BlockText, Text: part.Get("text").String()}
	}
}

func splitDataURL(dataURL string) (mediaType, data string) {
	const prefix = "data:"
	if len(dataURL) < len(prefix) || dataURL[:len(prefix)] != prefix {
		return "", dataURL
	}
	rest := dataURL[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ',' {
			header := rest[:i]
			payload := rest[i+1:]
			for j := 0; j < len(header); j++ {
				if header[j] == ';' {
					return header[:j], payload
				}
			}
			return header, payload
		}
	}
	return "", dataURL
}

// RenderOpenAIRequest serializes the canonical Request back into the shape
// an OpenAI-compatible upstream expects, stripping unsupported fields the
// caller has already nulled out (e.g. Gemini drops frequency_penalty
// before this is called).
func RenderOpenAIRequest(req *Request) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	body, err = sjson.SetBytes(body, "model", req.Model)
	if err != nil {
		return nil, err
	}
	body, _ = sjson.SetBytes(body, "stream", req.Stream)

	messages := make([]map[string]any, 0, len(req.Messages)+1)
	if req.System != nil {
		messages = append(messages, map[string]any{"role": "system", "content": req.System.Text})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{"role": string(m.Role), "content": blocksToPlainText(m.Blocks)})
	}
	body, err = sjson.SetBytes(body, "messages", messages)
	if err != nil {
		return nil, err
	}
	if req.Temperature != nil {
		body, _ = sjson.SetBytes(body, "temperature", *req.Temperature)
	}
	if req.TopP != nil {
		body, _ = sjson.SetBytes(body, "top_p", *req.TopP)
	}
	if req.MaxTokens != nil {
		body, _ = sjson.SetBytes(body, "max_tokens", *req.MaxTokens)
	}
	if len(req.StopSequences) > 0 {
		body, _ = sjson.SetBytes(body, "stop", req.StopSequences)
	}
	return body, nil
}

func blocksToPlainText(blocks []Block) string {
	out := ""
	for _, b := range blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// EncodeOpenAIChunk renders one canonical Delta as an OpenAI
// chat.completion.chunk SSE "data:" payload (without the "data: " prefix
// or trailing newlines — the streaming package owns framing).
func EncodeOpenAIChunk(id string, delta Delta) ([]byte, error) {
	chunk := map[string]any{
		"id": id,
		"object": "chat.completion.chunk",
		"model": delta.Model,
		"choices": []map[string]any{{
				"index": 0,
				"delta": map[string]any{"content": delta.ContentDelta},
			}},
	}
	if delta.StopReason != "" {
		chunk["choices"].([]map[string]any)[0]["finish_reason"] = openAIFinishReason(delta.StopReason)
	}
	return json.Marshal(chunk)
}

func openAIFinishReason(stopReason string) string {
	switch stopReason {
	case "stop_sequence", "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return stopReason
	}
}
