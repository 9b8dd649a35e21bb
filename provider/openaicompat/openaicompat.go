// Package openaicompat implements the provider contract on top of the OpenAI
// Chat Completions protocol. Because the adapter is composed purely from
// configuration (base URL, API key, model) it serves the open set of
// OpenAI-protocol-compatible vendors, not just the first-party API.
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lumipet/lumipet/core"
	"github.com/lumipet/lumipet/provider"
)

// TypeID is the provider-type id under which this adapter registers.
const TypeID = "openai-compatible"

// Registration returns the registry entry for the chat adapter, including the
// declarative field schema consumed by the settings surface.
func Registration() provider.Registration {
	return provider.Registration{
		Metadata: provider.Metadata{
			ID:          TypeID,
			DisplayName: "OpenAI Compatible",
			Kind:        provider.KindLLM,
			Fields: []provider.FieldSpec{
				{Key: "base_url", Label: "Base URL", Type: provider.FieldString, Description: "Endpoint root, e.g. https://api.openai.com/v1"},
				{Key: "api_key", Label: "API Key", Type: provider.FieldSecret, Required: true},
				{Key: "model", Label: "Model", Type: provider.FieldString, Required: true},
				{Key: "temperature", Label: "Temperature", Type: provider.FieldNumber, Default: 0.7},
				{Key: "max_tokens", Label: "Max Tokens", Type: provider.FieldNumber, Default: 4096},
				{Key: "timeout_seconds", Label: "Request Timeout (s)", Type: provider.FieldNumber, Default: 120},
			},
		},
		Factory: func(cfg provider.InstanceConfig) (provider.Provider, error) {
			return New(cfg)
		},
	}
}

// Client adapts the OpenAI Chat Completions API to provider.Provider.
type Client struct {
	client     openai.Client
	httpClient *http.Client
	model      string
	temp       float64
	maxTokens  int64
}

// New builds a Client from an instance configuration.
func New(cfg provider.InstanceConfig) (*Client, error) {
	model := cfg.Settings.String("model", "")
	if model == "" {
		return nil, fmt.Errorf("openaicompat: model is required")
	}
	httpClient := &http.Client{Timeout: cfg.Settings.Duration("timeout_seconds", 120*time.Second)}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.Settings.String("api_key", "")),
		option.WithHTTPClient(httpClient),
	}
	if baseURL := cfg.Settings.String("base_url", ""); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client:     openai.NewClient(opts...),
		httpClient: httpClient,
		model:      model,
		temp:       cfg.Settings.Float("temperature", 0.7),
		maxTokens:  int64(cfg.Settings.Float("max_tokens", 4096)),
	}, nil
}

// Initialize probes the endpoint so authentication and reachability problems
// surface at connect time rather than on the first user turn.
func (c *Client) Initialize(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openaicompat: endpoint probe failed: %w", err)
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
	resp, apiErr := c.client.Chat.Completions.New(ctx, params)
	if apiErr != nil {
		return errorResponse(apiErr), nil
	}
	if len(resp.Choices) == 0 {
		return errorResponse(fmt.Errorf("no choices returned")), nil
	}
	ch0 := resp.Choices[0]
	out := provider.Response{
		Text:         ch0.Message.Content,
		FinishReason: normalizeFinish(ch0.FinishReason),
	}
	for _, tc := range ch0.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.ToolCallInfo{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = provider.FinishToolCalls
	}
	out.Usage = &provider.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return out, nil
}

// ChatStream adapts the SSE stream into StreamChunk callbacks. A stream-level
// failure is delivered as the terminal chunk's Err field.
func (c *Client) ChatStream(ctx context.Context, req provider.Request, onChunk func(provider.StreamChunk)) error {
	params, err := c.buildParams(req)
	if err != nil {
		return err
	}
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	for stream.Next() {
		ck := stream.Current()
		for _, choice := range ck.Choices {
			chunk := provider.StreamChunk{
				Delta:          choice.Delta.Content,
				ReasoningDelta: extractReasoningDelta(choice),
			}
			// Tool call deltas are forwarded raw; the caller assembles complete
			// calls from the indexed fragments.
			for _, tc := range choice.Delta.ToolCalls {
				chunk.ToolCalls = append(chunk.ToolCalls, provider.ToolCallDelta{
					Index:          int(tc.Index),
					ID:             tc.ID,
					Name:           tc.Function.Name,
					ArgumentsDelta: tc.Function.Arguments,
				})
			}
			if chunk.Delta != "" || chunk.ReasoningDelta != "" || len(chunk.ToolCalls) > 0 {
				onChunk(chunk)
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

// Models lists the models offered by the endpoint.
func (c *Client) Models(ctx context.Context) ([]provider.ModelInfo, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: list models: %w", err)
	}
	out := make([]provider.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, provider.ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return out, nil
}

// Test performs a one-token round trip against the configured model.
func (c *Client) Test(ctx context.Context) error {
	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
		MaxCompletionTokens: openai.Int(1),
	}
	if _, err := c.client.Chat.Completions.New(ctx, params); err != nil {
		return fmt.Errorf("openaicompat: test call failed: %w", err)
	}
	return nil
}

// buildParams converts the normalized request into SDK parameters. Returns an
// error only for request shape problems (programming errors).
func (c *Client) buildParams(req provider.Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("openaicompat: request has no messages")
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case core.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case core.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if req.Sampling.Temperature != nil {
		params.Temperature = openai.Float(*req.Sampling.Temperature)
	} else {
		params.Temperature = openai.Float(c.temp)
	}
	if req.Sampling.TopP != nil {
		params.TopP = openai.Float(*req.Sampling.TopP)
	}
	if req.Sampling.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(*req.Sampling.MaxTokens)
	} else {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  t.Parameters,
				},
			}
		}
		params.Tools = tools
		if tc := toolChoiceParam(req.ToolChoice); tc != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(tc),
			}
		}
	}
	return params, nil
}

// toolChoiceParam maps the normalized tool choice onto the protocol's string
// form. Unknown values fall through to the vendor default.
func toolChoiceParam(choice provider.ToolChoice) string {
	switch choice {
	case provider.ToolChoiceAuto:
		return "auto"
	case provider.ToolChoiceNone:
		return "none"
	case provider.ToolChoiceRequired:
		return "required"
	default:
		return ""
	}
}

// extractReasoningDelta pulls a reasoning_content delta out of the raw chunk
// JSON. Compatible vendors (reasoning models) emit this extension field; the
// typed SDK surface does not carry it.
func extractReasoningDelta(choice openai.ChatCompletionChunkChoice) string {
	field, ok := choice.Delta.JSON.ExtraFields["reasoning_content"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(field.Raw()), &s); err != nil {
		return ""
	}
	return s
}

func errorResponse(err error) provider.Response {
	return provider.Response{
		Text:         fmt.Sprintf("The language model request failed: %v", err),
		FinishReason: provider.FinishError,
	}
}

func normalizeFinish(reason string) string {
	switch reason {
	case "length", "max_tokens":
		return provider.FinishLength
	case "tool_calls", "function_call":
		return provider.FinishToolCalls
	case "":
		return provider.FinishStop
	default:
		return provider.FinishStop
	}
}
