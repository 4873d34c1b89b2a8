package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOpenAIRequest_SplitsSystemAndRoles(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4o",
		"stream": true,
		"stop": ["STOP"],
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"}
		]
	}`)
	req, err := ParseOpenAIRequest(raw)
	require.NoError(t, err)
	require.NotNil(t, req.System)
	assert.Equal(t, "be terse", req.System.Text)
	assert.Equal(t, []string{"STOP"}, req.StopSequences)
	require.Len(t, req.Messages, 2)
	assert.True(t, req.FirstNonSystemIsUser())
	assert.True(t, req.StrictlyAlternates())
}

func TestParseClaudeRequest_ToolResultArrayPreserved(t *testing.T) {
	// scenario 5: a tool-result whose content is a structured
	// array must round-trip without being coerced into a string.
	raw := []byte(`{
		"model": "claude-3",
		"messages": [
			{"role": "user", "content": "do thing"},
			{"role": "assistant", "content": [{"type": "tool_use", "id": "t1", "name": "f", "input": {}}]},
			{"role": "user", "content": [
					{"type": "tool_result", "tool_use_id": "t1", "content": [{"type": "text", "text": "ok"}]}
				]}
		]
	}`)
	req, err := ParseClaudeRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 3)
	toolResult := req.Messages[2].Blocks[0]
	require.Equal(t, BlockToolResult, toolResult.Type)
	assert.Empty(t, toolResult.ToolResultText)
	require.Len(t, toolResult.ToolResultBlocks, 1)
	assert.Equal(t, "ok", toolResult.ToolResultBlocks[0].Text)

	out, err := RenderClaudeRequest(req)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"text":"ok"`)
	assert.NotContains(t, string(out), `"content":""`)
}

func TestParseClaudeRequest_ToolResultStringPreserved(t *testing.T) {
	raw := []byte(`{
		"model": "claude-3",
		"messages": [
			{"role": "user", "content": [
					{"type": "tool_result", "tool_use_id": "t1", "content": "ok"}
				]}
		]
	}`)
	req, err := ParseClaudeRequest(raw)
	require.NoError(t, err)
	toolResult := req.Messages[0].Blocks[0]
	assert.Equal(t, "ok", toolResult.ToolResultText)
	assert.Empty(t, toolResult.ToolResultBlocks)
}

func TestParseGeminiRequest_RoleMapping(t *testing.T) {
	raw := []byte(`{
		"systemInstruction": {"parts": [{"text": "be terse"}]},
		"contents": [
			{"role": "user", "parts": [{"text": "hi"}]},
			{"role": "model", "parts": [{"text": "hello"}]}
		]
	}`)
	req, err := ParseGeminiRequest(raw)
	require.NoError(t, err)
	require.NotNil(t, req.System)
	assert.Equal(t, "be terse", req.System.Text)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
	assert.Equal(t, RoleAssistant, req.Messages[1].Role)

	out, err := RenderGeminiRequest(req)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"role":"model"`)
}

func TestSanitize_CoalescesAndDropsEmptyAssistant(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Blocks: []Block{{Type: BlockText, Text: "a"}}},
		{Role: RoleUser, Blocks: []Block{{Type: BlockText, Text: "b"}}},
		{Role: RoleAssistant, Blocks: nil},
		{Role: RoleAssistant, Blocks: []Block{{Type: BlockText, Text: "c"}}},
	}
	out := Sanitize(messages, false)
	require.Len(t, out, 2)
	assert.Len(t, out[0].Blocks, 2)
	assert.Equal(t, "c", out[1].Blocks[0].Text)
}

func TestFingerprint_StableAndProjectionSensitive(t *testing.T) {
	req := &Request{
		Model: "gpt-4o",
		Origin: OriginOpenAI,
		System: &Block{Type: BlockText, Text: "sys"},
		Messages: []Message{
			{Role: RoleUser, Blocks: []Block{{Type: BlockText, Text: "hi"}}},
		},
	}
	f1 := Fingerprint(req, FingerprintProjection{})
	f2 := Fingerprint(req, FingerprintProjection{})
	assert.Equal(t, f1, f2)

	f3 := Fingerprint(req, FingerprintProjection{ExcludeSystem: true})
	assert.NotEqual(t, f1, f3)
}
