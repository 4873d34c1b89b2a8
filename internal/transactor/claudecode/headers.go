package claudecode

import (
	"io"
	"net/http"
	"net/url"

	"github.com/relaymux/llmgate/internal/httpadapter"
)

// applyClaudeCodeHeaders sets the same Anthropic-Version/Anthropic-Beta/
// Stainless header set a real Claude Code CLI sends, so the upstream
// cannot distinguish this proxy's traffic from the genuine client.
func applyClaudeCodeHeaders(h http.Header, accessToken string, stream bool) {
	h.Set("Authorization", "Bearer "+accessToken)
	h.Set("Content-Type", "application/json")
	h.Set("Anthropic-Version", "2023-06-01")
	h.Set("Anthropic-Beta", "claude-code-20250219,oauth-2025-04-20,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14")
	h.Set("X-App", "cli")
	h.Set("User-Agent", "claude-cli/1.0.83 (external, cli)")
	h.Set("Connection", "keep-alive")
	if stream {
		h.Set("Accept", "text/event-stream")
		return
	}
	h.Set("Accept", "application/json")
}

func queryWithBeta() url.Values {
	v := url.Values{}
	v.Set("beta", "true")
	return v
}

func readAll(resp *httpadapter.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}
