// Package translate implements the bidirectional mapping
// between OpenAI chat, native Claude messages, and native Gemini
// generateContent, all routed through one canonical in-memory form. Each
// mapping does its JSON surgery with tidwall/gjson and tidwall/sjson
// rather than fully typed marshal/unmarshal structs, since a given
// upstream's JSON carries fields this proxy doesn't model.
package translate

// Role is the canonical message role.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType enumerates the canonical content block kinds.
type BlockType string

const (
	BlockText BlockType = "text"
	BlockImage BlockType = "image"
	BlockToolUse BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one canonical content block. Only the fields relevant to Type
// are populated.
type Block struct {
	Type BlockType

	// BlockText
	Text string

	// BlockImage
	MediaType string
	Data string // base64 payload

	// BlockToolUse
	ToolUseID string
	ToolName string
	ToolInput []byte // raw JSON

	// BlockToolResult
	ToolResultID string
	// ToolResultText is used when the result is a plain string; when the
	// client supplied a structured array instead, ToolResultBlocks is
	// populated and ToolResultText is empty, preserving the distinction
	// end to end.
	ToolResultText string
	ToolResultBlocks []Block
	ToolResultError bool
}

// Message is an ordered sequence of content blocks with a role.
type Message struct {
	Role Role
	Blocks []Block
}

// FormatOrigin tags which wire format a Request was decoded from, so the
// middleware chain can translate the final response back the same way it
// came in.
type FormatOrigin string

const (
	OriginOpenAI FormatOrigin = "openai"
	OriginClaudeNative FormatOrigin = "claude_native"
	OriginGeminiNative FormatOrigin = "gemini_native"
)

// ToolDefinition is a canonical tool/function declaration.
type ToolDefinition struct {
	Name string
	Description string
	Parameters []byte // raw JSON schema
}

// Request is the canonical, provider-agnostic request form every origin
// format is translated into before dispatch.
type Request struct {
	Model string
	Messages []Message
	System *Block // optional system-prompt block

	Temperature *float64
	TopP *float64
	TopK *int
	MaxTokens *int
	StopSequences []string // set semantics: caller must dedupe
	Stream bool
	ThinkingMode bool
	Tools []ToolDefinition
	Origin FormatOrigin

	// RawJSON is the original wire body, kept for translators that need to
	// carry forward provider-specific fields the canonical form drops.
	RawJSON []byte
}

// FirstNonSystemIsUser reports whether the first non-system message is
// user, an invariant some upstreams require.
func (r *Request) FirstNonSystemIsUser() bool {
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			continue
		}
		return m.Role == RoleUser
	}
	return true
}

// Usage aggregates token accounting for one request.
type Usage struct {
	InputTokens int64
	OutputTokens int64
	CachedTokens int64
	ReasoningTokens int64
}

// Add folds another Usage's counters into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedTokens += other.CachedTokens
	u.ReasoningTokens += other.ReasoningTokens
}

// Delta is one canonical streaming update: model, role, content delta,
// usage delta, and an optional stop reason, translated from one upstream
// frame.
type Delta struct {
	Model string
	Role Role
	ContentDelta string
	ToolCallDelta *Block // non-nil when the delta carries a tool-use fragment
	Usage Usage
	StopReason string // e.g. "stop_sequence", "rate_limit", "end_turn"
	Done bool
	KeepAlive bool // true when this delta carries no content, sent only to hold the connection open
}

// StrictlyAlternates reports whether roles alternate strictly between user
// and assistant after system messages are excluded.
func (r *Request) StrictlyAlternates() bool {
	var last Role
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			continue
		}
		if last != "" && m.Role == last {
			return false
		}
		last = m.Role
	}
	return true
}
