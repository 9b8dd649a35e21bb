// Package anthropic implements the provider contract on the Anthropic
// Messages API, including streaming with tool use and thinking deltas.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/lumipet/lumipet/core"
	"github.com/lumipet/lumipet/provider"
)

// TypeID is the provider-type id under which this adapter registers.
const TypeID = "anthropic"

// Registration returns the registry entry for the Anthropic adapter.
func Registration() provider.Registration {
	return provider.Registration{
		Metadata: provider.Metadata{
			ID:          TypeID,
			DisplayName: "Anthropic",
			Kind:        provider.KindLLM,
			Fields: []provider.FieldSpec{
				{Key: "api_key", Label: "API Key", Type: provider.FieldSecret, Required: true},
				{Key: "model", Label: "Model", Type: provider.FieldString, Default: string(anthropic.ModelClaude3_5Sonnet20241022)},
				{Key: "max_tokens", Label: "Max Tokens", Type: provider.FieldNumber, Default: 4096},
				{Key: "temperature", Label: "Temperature", Type: provider.FieldNumber, Default: 0.7},
				{Key: "timeout_seconds", Label: "Request Timeout (s)", Type: provider.FieldNumber, Default: 120},
			},
		},
		Factory: func(cfg provider.InstanceConfig) (provider.Provider, error) {
			return New(cfg)
		},
	}
}

// Client adapts the Anthropic Messages API to provider.Provider.
type Client struct {
	client     anthropic.Client
	httpClient *http.Client
	model      anthropic.Model
	temp       float64
	maxTokens  int64
}

// New builds a Client from an instance configuration.
func New(cfg provider.InstanceConfig) (*Client, error) {
	httpClient := &http.Client{Timeout: cfg.Settings.Duration("timeout_seconds", 120*time.Second)}
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if key := cfg.Settings.String("api_key", ""); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	return &Client{
		client:     anthropic.NewClient(opts...),
		httpClient: httpClient,
		model:      anthropic.Model(cfg.Settings.String("model", string(anthropic.ModelClaude3_5Sonnet20241022))),
		temp:       cfg.Settings.Float("temperature", 0.7),
		maxTokens:  int64(cfg.Settings.Float("max_tokens", 4096)),
	}, nil
}

// Initialize probes the API so authentication problems surface at connect
// time.
func (c *Client) Initialize(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return fmt.Errorf("anthropic: endpoint probe failed: %w", err)
	}
	return nil
}

// Terminate releases pooled HTTP connections. Idempotent.
func (c *Client) Terminate() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Chat performs a non-streaming round trip. Transport and vendor failures are
// encoded as FinishError responses, never returned as errors.
func (c *Client) Chat(ctx context.Context, req provider.Request) (provider.Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return provider.Response{}, err
	}
	resp, apiErr := c.client.Messages.New(ctx, params)
	if apiErr != nil {
		return provider.Response{
			Text:         fmt.Sprintf("The language model request failed: %v", apiErr),
			FinishReason: provider.FinishError,
		}, nil
	}

	out := provider.Response{FinishReason: normalizeStop(string(resp.StopReason))}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.AsText().Text
		case "thinking":
			out.Reasoning += block.AsThinking().Thinking
		case "tool_use":
			tu := block.AsToolUse()
			args := "{}"
			if raw, err := json.Marshal(tu.Input); err == nil {
				args = string(raw)
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCallInfo{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = provider.FinishToolCalls
	}
	out.Usage = &provider.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return out, nil
}

// ChatStream adapts the Messages streaming events into StreamChunk callbacks.
// Tool-use input arrives as partial JSON fragments which are forwarded as
// argument deltas keyed by content block index.
func (c *Client) ChatStream(ctx context.Context, req provider.Request, onChunk func(provider.StreamChunk)) error {
	params, err := c.buildParams(req)
	if err != nil {
		return err
	}
	stream := c.client.Messages.NewStreaming(ctx, params)
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				onChunk(provider.StreamChunk{ToolCalls: []provider.ToolCallDelta{{
					Index: int(ev.Index),
					ID:    tu.ID,
					Name:  tu.Name,
				}}})
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text != "" {
					onChunk(provider.StreamChunk{Delta: d.Text})
				}
			case anthropic.ThinkingDelta:
				if d.Thinking != "" {
					onChunk(provider.StreamChunk{ReasoningDelta: d.Thinking})
				}
			case anthropic.InputJSONDelta:
				if d.PartialJSON != "" {
					onChunk(provider.StreamChunk{ToolCalls: []provider.ToolCallDelta{{
						Index:          int(ev.Index),
						ArgumentsDelta: d.PartialJSON,
					}}})
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		onChunk(provider.StreamChunk{Done: true, Err: err.Error()})
		return nil
	}
	onChunk(provider.StreamChunk{Done: true})
	return nil
}

// Models lists the models available to the account.
func (c *Client) Models(ctx context.Context) ([]provider.ModelInfo, error) {
	page, err := c.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("anthropic: list models: %w", err)
	}
	out := make([]provider.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, provider.ModelInfo{ID: string(m.ID), OwnedBy: "anthropic"})
	}
	return out, nil
}

// Test performs a one-token round trip against the configured model.
func (c *Client) Test(ctx context.Context) error {
	_, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
	})
	if err != nil {
		return fmt.Errorf("anthropic: test call failed: %w", err)
	}
	return nil
}

// buildParams converts the normalized request into Messages API parameters.
// The system prompt becomes system blocks; tool results are attached as
// user-role tool_result blocks immediately after the assistant tool_use turn.
func (c *Client) buildParams(req provider.Request) (anthropic.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: request has no messages")
	}

	toolResults := map[string]core.ChatMessage{}
	for _, msg := range req.Messages {
		if msg.Role == core.RoleTool && msg.ToolCallID != "" {
			toolResults[msg.ToolCallID] = msg
		}
	}

	var system []anthropic.TextBlockParam
	if req.SystemPrompt != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.SystemPrompt})
	}

	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			if msg.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: msg.Content})
			}
		case core.RoleUser:
			if msg.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		case core.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			var resultBlocks []anthropic.ContentBlockParamUnion
			for _, tc := range msg.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
				if result, ok := toolResults[tc.ID]; ok {
					resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(tc.ID, result.Content, false))
					delete(toolResults, tc.ID)
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
			if len(resultBlocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
			}
		}
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temp),
	}
	if req.Sampling.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Sampling.Temperature)
	}
	if req.Sampling.MaxTokens != nil {
		params.MaxTokens = *req.Sampling.MaxTokens
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
		params.ToolChoice = toolChoiceParam(req.ToolChoice)
	}
	return params, nil
}

// toolChoiceParam maps the normalized tool choice onto the Messages API union.
// "required" corresponds to Anthropic's "any"; unknown values leave the union
// zero so the vendor default applies.
func toolChoiceParam(choice provider.ToolChoice) anthropic.ToolChoiceUnionParam {
	switch choice {
	case provider.ToolChoiceAuto:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	case provider.ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	case provider.ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{}
	}
}

func buildTools(tools []provider.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if t.Parameters != nil {
			if properties, ok := t.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			switch required := t.Parameters["required"].(type) {
			case []string:
				inputSchema.Required = required
			case []any:
				for _, r := range required {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, t.Name)
	}
	return out
}

func normalizeStop(reason string) string {
	switch reason {
	case "max_tokens":
		return provider.FinishLength
	case "tool_use":
		return provider.FinishToolCalls
	default:
		return provider.FinishStop
	}
}
