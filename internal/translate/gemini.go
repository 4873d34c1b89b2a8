package translate

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// geminiRole maps a canonical Role onto Gemini's two-role vocabulary
// ("user"/"model").
func geminiRole(r Role) string {
	if r == RoleAssistant {
		return "model"
	}
	return "user"
}

func roleFromGemini(r string) Role {
	if r == "model" {
		return RoleAssistant
	}
	return RoleUser
}

// ParseGeminiRequest decodes a native generateContent body into the
// canonical Request. systemInstruction maps to the canonical system block;
// contents[].parts[] map to canonical blocks (text, inlineData,
// functionCall, functionResponse)
func ParseGeminiRequest(raw []byte) (*Request, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("translate: invalid gemini request json")
	}
	root := gjson.ParseBytes(raw)
	req := &Request{
		Origin: OriginGeminiNative,
		RawJSON: raw,
	}

	gen := root.Get("generationConfig")
	if v := gen.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := gen.Get("topP"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := gen.Get("topK"); v.Exists() {
		n := int(v.Int())
		req.TopK = &n
	}
	if v := gen.Get("maxOutputTokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	}
	gen.Get("stopSequences").ForEach(func(_, item gjson.Result) bool {
			req.StopSequences = append(req.StopSequences, item.String())
			return true
		})

	if sys := root.Get("systemInstruction"); sys.Exists() {
		text := sys.Get("parts.0.text").String()
		req.System = &Block{Type: BlockText, Text: text}
	}

	root.Get("contents").ForEach(func(_, content gjson.Result) bool {
			role := roleFromGemini(content.Get("role").String())
			var blocks []Block
			content.Get("parts").ForEach(func(_, part gjson.Result) bool {
					blocks = append(blocks, geminiPartToBlock(part))
					return true
				})
			req.Messages = append(req.Messages, Message{Role: role, Blocks: blocks})
			return true
		})

	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
			tool.Get("functionDeclarations").ForEach(func(_, fn gjson.Result) bool {
					req.Tools = append(req.Tools, ToolDefinition{
							Name: fn.Get("name").String(),
							Description: fn.Get("description").String(),
							Parameters: []byte(fn.Get("parameters").Raw),
						})
					return true
				})
			return true
		})

	return req, nil
}

func geminiPartToBlock(part gjson.Result) Block {
	switch {
	case part.Get("inlineData").Exists():
		return Block{
			Type: BlockImage,
			MediaType: part.Get("inlineData.mimeType").String(),
			Data: part.Get("inlineData.data").String(),
		}
	case part.Get("functionCall").Exists():
		return Block{
			Type: BlockToolUse,
			ToolName: part.Get("functionCall.name").String(),
			ToolInput: []byte(part.Get("functionCall.args").Raw),
		}
	case part.Get("functionResponse").Exists():
		return Block{
			Type: BlockToolResult,
			ToolResultID: part.Get("functionResponse.name").String(),
			ToolResultText: part.Get("functionResponse.response.content").String(),
		}
	default:
		return Block{Type: BlockText, Text: part.Get("text").String()}
	}
}

// RenderGeminiRequest serializes the canonical Request into a native
// generateContent body. OpenAI-only fields (frequency_penalty,
// presence_penalty, logit_bias) have no Gemini equivalent and are never
// populated here, satisfying "strip unsupported fields
// before dispatch".
func RenderGeminiRequest(req *Request) ([]byte, error) {
	body := []byte(`{}`)
	var err error

	if req.System != nil {
		body, err = sjson.SetBytes(body, "systemInstruction.parts.0.text", req.System.Text)
		if err != nil {
			return nil, err
		}
	}

	contents := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, map[string]any{
				"role": geminiRole(m.Role),
				"parts": blocksToGeminiParts(m.Blocks),
			})
	}
	body, err = sjson.SetBytes(body, "contents", contents)
	if err != nil {
		return nil, err
	}

	genConfig := map[string]any{}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}
	if req.TopK != nil {
		genConfig["topK"] = *req.TopK
	}
	if req.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		genConfig["stopSequences"] = req.StopSequences
	}
	if len(genConfig) > 0 {
		body, _ = sjson.SetBytes(body, "generationConfig", genConfig)
	}

	if len(req.Tools) > 0 {
		decls := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			var params any
			_ = json.Unmarshal(t.Parameters, &params)
			decls = append(decls, map[string]any{"name": t.Name, "description": t.Description, "parameters": params})
		}
		body, _ = sjson.SetBytes(body, "tools", []map[string]any{{"functionDeclarations": decls}})
	}

	return body, nil
}

func blocksToGeminiParts(blocks []Block) []map[string]any {
	out := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case BlockText:
			out = append(out, map[string]any{"text": b.Text})
		case BlockImage:
			out = append(out, map[string]any{
					"inlineData": map[string]any{"mimeType": b.MediaType, "data": b.Data},
				})
		case BlockToolUse:
			var args any
			_ = json.Unmarshal(b.ToolInput, &args)
			out = append(out, map[string]any{
					"functionCall": map[string]any{"name": b.ToolName, "args": args},
				})
		case BlockToolResult:
			content := b.ToolResultText
			if content == "" && len(b.ToolResultBlocks) > 0 {
				content = blocksToPlainText(b.ToolResultBlocks)
			}
			out = append(out, map[string]any{
					"functionResponse": map[string]any{
						"name": b.ToolResultID,
						"response": map[string]any{"content": content},
					},
				})
		}
	}
	return out
}

// EncodeGeminiChunk renders one canonical Delta as a native
// streamGenerateContent response object (the caller frames it as an SSE
// "data:" payload or a JSON-array element depending on transport).
func EncodeGeminiChunk(delta Delta) ([]byte, error) {
	candidate := map[string]any{
		"content": map[string]any{
			"role": geminiRole(delta.Role),
			"parts": []map[string]any{{"text": delta.ContentDelta}},
		},
	}
	if delta.StopReason != "" {
		candidate["finishReason"] = geminiFinishReason(delta.StopReason)
	}
	chunk := map[string]any{
		"candidates": []map[string]any{candidate},
		"usageMetadata": map[string]any{
			"promptTokenCount": delta.Usage.InputTokens,
			"candidatesTokenCount": delta.Usage.OutputTokens,
		},
	}
	return json.Marshal(chunk)
}

func geminiFinishReason(stopReason string) string {
	switch stopReason {
	case "stop_sequence", "end_turn":
		return "STOP"
	case "max_tokens":
		return "MAX_TOKENS"
	default:
		return "OTHER"
	}
}
