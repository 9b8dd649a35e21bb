package core

// Role identifies the author of a conversation message.
type Role string

// Conversation roles. Tool messages carry the result of a tool invocation and
// must reference the originating call via ToolCallID.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallInfo is a fully assembled tool invocation request surfaced by a
// provider. Arguments is the raw JSON argument payload; streaming providers
// deliver it as ordered fragments that are concatenated before parsing.
type ToolCallInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Attachment is an optional file payload attached to a user message. Either
// Data (base64 inlined bytes) or URI is set, never both.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// ChatMessage is one entry of the append-only conversation history.
//
// Field usage by role:
//   - assistant: Content, optional Reasoning, optional ToolCalls
//   - tool: Content (result text), ToolCallID and ToolName for correlation
//   - user: Content, optional Attachment
//   - system: Content only
type ChatMessage struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Reasoning  string         `json:"reasoning,omitempty"`
	ToolCalls  []ToolCallInfo `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Attachment *Attachment    `json:"attachment,omitempty"`
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

// NewAssistantMessage creates an assistant text message.
func NewAssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text}
}

// NewToolCallMessage records the raw tool calls requested by the assistant so
// a later provider round trip sees the full call/result exchange.
func NewToolCallMessage(calls []ToolCallInfo) ChatMessage {
	return ChatMessage{Role: RoleAssistant, ToolCalls: calls}
}

// NewToolResultMessage records the outcome of a single tool call, correlated
// by the call id the provider issued.
func NewToolResultMessage(callID, toolName, result string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: result, ToolCallID: callID, ToolName: toolName}
}
