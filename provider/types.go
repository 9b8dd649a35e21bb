package provider

import "github.com/lumipet/lumipet/core"

// Finish reasons reported by providers. Vendor-specific values are normalized
// to this set by the adapters.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
	FinishError     = "error"
)

// ToolChoice controls whether the model may, must, or must not call tools.
type ToolChoice string

// Tool choice policies.
const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// SamplingParams are the generation parameters forwarded to the vendor.
// Nil pointers mean "use the vendor default".
type SamplingParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int64   `json:"max_tokens,omitempty"`
}

// ToolSchema declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the normalized model input built by the agent loop.
type Request struct {
	SystemPrompt string             `json:"system_prompt,omitempty"`
	Messages     []core.ChatMessage `json:"messages"`
	Sampling     SamplingParams     `json:"sampling"`
	Tools        []ToolSchema       `json:"tools,omitempty"`
	ToolChoice   ToolChoice         `json:"tool_choice,omitempty"`
}

// Usage captures token accounting for a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the outcome of a non-streaming round trip. A transport failure
// is encoded as FinishReason == FinishError with the failure text in Text.
type Response struct {
	Text         string              `json:"text"`
	Reasoning    string              `json:"reasoning,omitempty"`
	ToolCalls    []core.ToolCallInfo `json:"tool_calls,omitempty"`
	FinishReason string              `json:"finish_reason"`
	Usage        *Usage              `json:"usage,omitempty"`
}

// ToolCallDelta is one streamed fragment of a tool call. Fragments for the
// same Index arrive in order and their ArgumentsDelta values concatenate into
// the complete JSON argument payload.
type ToolCallDelta struct {
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// StreamChunk is one unit of a streaming response. The terminal chunk has
// Done == true; a stream-level failure sets Err on the terminal chunk.
type StreamChunk struct {
	Delta          string          `json:"delta,omitempty"`
	ReasoningDelta string          `json:"reasoning_delta,omitempty"`
	ToolCalls      []ToolCallDelta `json:"tool_calls,omitempty"`
	Done           bool            `json:"done"`
	Err            string          `json:"error,omitempty"`
}

// ModelInfo describes one model offered by a provider endpoint.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}
