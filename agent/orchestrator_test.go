package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lumipet/lumipet/core"
	"github.com/lumipet/lumipet/history"
	"github.com/lumipet/lumipet/plugin"
	"github.com/lumipet/lumipet/provider"
	"github.com/lumipet/lumipet/skill"
)

// scriptedProvider replays canned responses (non-streaming) or chunk scripts
// (streaming). When the script runs out the last element repeats, which lets
// the iteration-cap test return a tool call forever.
type scriptedProvider struct {
	responses []provider.Response
	streams   [][]provider.StreamChunk
	requests  []provider.Request
}

func (s *scriptedProvider) Initialize(ctx context.Context) error { return nil }
func (s *scriptedProvider) Terminate() error                     { return nil }

func (s *scriptedProvider) Chat(ctx context.Context, req provider.Request) (provider.Response, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *scriptedProvider) ChatStream(ctx context.Context, req provider.Request, onChunk func(provider.StreamChunk)) error {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.streams) {
		i = len(s.streams) - 1
	}
	for _, chunk := range s.streams[i] {
		onChunk(chunk)
	}
	return nil
}

func (s *scriptedProvider) Models(ctx context.Context) ([]provider.ModelInfo, error) { return nil, nil }
func (s *scriptedProvider) Test(ctx context.Context) error                          { return nil }

func newTestOrchestrator(t *testing.T, stub provider.Provider, optFns ...func(o *Options)) (*Orchestrator, history.Store, *plugin.Registry) {
	t.Helper()
	registry := provider.NewRegistry()
	err := registry.Register(provider.Registration{
		Metadata: provider.Metadata{ID: "stub", DisplayName: "Stub", Kind: provider.KindLLM},
		Factory:  func(cfg provider.InstanceConfig) (provider.Provider, error) { return stub, nil },
	})
	assert.NoError(t, err)

	manager := provider.NewManager(registry)
	assert.NoError(t, manager.Add(provider.InstanceConfig{
		ID: "main", ProviderID: "stub", Kind: provider.KindLLM, Enabled: true,
	}))

	plugins := plugin.NewRegistry()
	hist := history.NewInMemoryStore()

	base := []func(o *Options){func(o *Options) {
		o.EnableSpeech = false
		o.EnableExpression = false
		o.ProviderWait = time.Second
	}}
	orch := New(manager, plugins, skill.NewRegistry(), hist, append(base, optFns...)...)
	return orch, hist, plugins
}

func collect(t *testing.T, events <-chan core.Event) []core.Event {
	t.Helper()
	var out []core.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for turn to finish")
		}
	}
}

func ofKind(events []core.Event, kind core.EventKind) []core.Event {
	var out []core.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestOrchestrator_NonStreamingHello(t *testing.T) {
	stub := &scriptedProvider{responses: []provider.Response{
		{Text: "hi", FinishReason: provider.FinishStop},
	}}
	orch, hist, _ := newTestOrchestrator(t, stub, func(o *Options) { o.Streaming = false })

	events := collect(t, orch.Run(context.Background(), UserInput{Text: "hello"}))

	finals := ofKind(events, core.EventFinal)
	assert.Len(t, finals, 1)
	assert.Equal(t, "hi", finals[0].Text)

	msgs := hist.History(0)
	assert.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestOrchestrator_StreamingToolCallTurn(t *testing.T) {
	stub := &scriptedProvider{streams: [][]provider.StreamChunk{
		{
			{ToolCalls: []provider.ToolCallDelta{{Index: 0, ID: "call-1", Name: "get_time"}}},
			{ToolCalls: []provider.ToolCallDelta{{Index: 0, ArgumentsDelta: "{}"}}},
			{Done: true},
		},
		{
			{Delta: "He"},
			{Delta: "llo"},
			{Done: true},
		},
	}}
	orch, hist, plugins := newTestOrchestrator(t, stub, func(o *Options) { o.Streaming = true })

	assert.NoError(t, plugins.Register(
		plugin.NewFunctionPlugin("clock", "Clock").
			AddTool(plugin.ToolDefinition{Name: "get_time", Description: "Current time"},
				func(ctx context.Context, args map[string]any) (any, error) {
					return "12:00", nil
				})))
	plugins.ActivateAll()

	events := collect(t, orch.Run(context.Background(), UserInput{Text: "what time is it"}))

	partials := ofKind(events, core.EventPartial)
	assert.Len(t, partials, 2)
	assert.Equal(t, "He", partials[0].Text)
	assert.Equal(t, "llo", partials[1].Text)

	toolCalls := ofKind(events, core.EventToolCall)
	assert.Len(t, toolCalls, 1)
	assert.Equal(t, "get_time", toolCalls[0].ToolName)
	assert.Equal(t, "call-1", toolCalls[0].ToolCallID)

	toolResults := ofKind(events, core.EventToolResult)
	assert.Len(t, toolResults, 1)
	assert.Equal(t, "12:00", toolResults[0].Text)

	finals := ofKind(events, core.EventFinal)
	assert.Len(t, finals, 1)
	assert.Equal(t, "Hello", finals[0].Text)

	msgs := hist.History(0)
	assert.Len(t, msgs, 4)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, core.RoleTool, msgs[2].Role)
	assert.Equal(t, "call-1", msgs[2].ToolCallID)
	assert.Equal(t, "12:00", msgs[2].Content)
	assert.Equal(t, core.RoleAssistant, msgs[3].Role)
	assert.Equal(t, "Hello", msgs[3].Content)
}

func TestOrchestrator_IterationCapTerminates(t *testing.T) {
	stub := &scriptedProvider{responses: []provider.Response{
		{
			ToolCalls:    []core.ToolCallInfo{{ID: "loop", Name: "noop", Arguments: "{}"}},
			FinishReason: provider.FinishToolCalls,
		},
	}}
	orch, hist, plugins := newTestOrchestrator(t, stub, func(o *Options) {
		o.Streaming = false
		o.MaxToolIterations = 3
	})

	assert.NoError(t, plugins.Register(
		plugin.NewFunctionPlugin("noop", "Noop").
			AddTool(plugin.ToolDefinition{Name: "noop", Description: "Does nothing"},
				func(ctx context.Context, args map[string]any) (any, error) { return "done", nil })))
	plugins.ActivateAll()

	events := collect(t, orch.Run(context.Background(), UserInput{Text: "loop forever"}))

	assert.Len(t, ofKind(events, core.EventToolCall), 3)
	assert.Empty(t, ofKind(events, core.EventFinal))

	limits := ofKind(events, core.EventIterationLimit)
	assert.Len(t, limits, 1)
	assert.NotEmpty(t, limits[0].Text)

	// user + 3 * (assistant tool call + tool result) + limit message
	msgs := hist.History(0)
	assert.Len(t, msgs, 8)
	assert.Equal(t, limits[0].Text, msgs[7].Content)
}

func TestOrchestrator_ProviderErrorIsSingleErrorEvent(t *testing.T) {
	stub := &scriptedProvider{responses: []provider.Response{
		{Text: "The language model request failed: connection refused", FinishReason: provider.FinishError},
	}}
	orch, hist, _ := newTestOrchestrator(t, stub, func(o *Options) { o.Streaming = false })

	events := collect(t, orch.Run(context.Background(), UserInput{Text: "hello"}))

	errs := ofKind(events, core.EventError)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Text, "connection refused")
	assert.Empty(t, ofKind(events, core.EventFinal))

	// History holds the user turn and the failure message, nothing else.
	msgs := hist.History(0)
	assert.Len(t, msgs, 2)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
}

func TestOrchestrator_StreamErrorWithoutContentFailsTurn(t *testing.T) {
	stub := &scriptedProvider{streams: [][]provider.StreamChunk{
		{{Done: true, Err: "upstream timeout"}},
	}}
	orch, _, _ := newTestOrchestrator(t, stub, func(o *Options) { o.Streaming = true })

	events := collect(t, orch.Run(context.Background(), UserInput{Text: "hello"}))

	errs := ofKind(events, core.EventError)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Text, "upstream timeout")
	assert.Empty(t, ofKind(events, core.EventFinal))
}

func TestOrchestrator_NoProviderConfigured(t *testing.T) {
	manager := provider.NewManager(provider.NewRegistry())
	hist := history.NewInMemoryStore()
	orch := New(manager, plugin.NewRegistry(), skill.NewRegistry(), hist, func(o *Options) {
		o.ProviderWait = 50 * time.Millisecond
		o.EnableSpeech = false
		o.EnableExpression = false
	})

	events := collect(t, orch.Run(context.Background(), UserInput{Text: "hello"}))

	errs := ofKind(events, core.EventError)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Text, "No language model is configured")

	// Configuration failures never touch history.
	assert.Empty(t, hist.History(0))
}

func TestOrchestrator_ConfirmRequiredEventPrecedesToolCall(t *testing.T) {
	stub := &scriptedProvider{responses: []provider.Response{
		{
			ToolCalls:    []core.ToolCallInfo{{ID: "c1", Name: "delete_file", Arguments: `{"path":"x"}`}},
			FinishReason: provider.FinishToolCalls,
		},
		{Text: "done", FinishReason: provider.FinishStop},
	}}
	orch, _, plugins := newTestOrchestrator(t, stub, func(o *Options) { o.Streaming = false })

	assert.NoError(t, plugins.Register(
		plugin.NewFunctionPlugin("files", "Files").
			AddTool(plugin.ToolDefinition{Name: "delete_file", Description: "Delete", RequireConfirm: true},
				func(ctx context.Context, args map[string]any) (any, error) { return "deleted", nil })))
	plugins.ActivateAll()

	events := collect(t, orch.Run(context.Background(), UserInput{Text: "clean up"}))

	confirmIdx, callIdx := -1, -1
	for i, ev := range events {
		switch ev.Kind {
		case core.EventConfirmRequired:
			confirmIdx = i
		case core.EventToolCall:
			if callIdx < 0 {
				callIdx = i
			}
		}
	}
	assert.GreaterOrEqual(t, confirmIdx, 0)
	assert.Greater(t, callIdx, confirmIdx)
}

func TestOrchestrator_SkillToolDispatch(t *testing.T) {
	stub := &scriptedProvider{responses: []provider.Response{
		{
			ToolCalls:    []core.ToolCallInfo{{ID: "s1", Name: "skill_tell-joke", Arguments: "{}"}},
			FinishReason: provider.FinishToolCalls,
		},
		{Text: "a pun", FinishReason: provider.FinishStop},
	}}
	orch, hist, _ := newTestOrchestrator(t, stub, func(o *Options) { o.Streaming = false })

	assert.NoError(t, orch.skills.Register(&skill.Definition{
		Name:         "tell-joke",
		Instructions: "Answer with a pun.",
		Enabled:      true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "Answer with a pun.", nil
		},
	}))

	events := collect(t, orch.Run(context.Background(), UserInput{Text: "joke please"}))

	toolResults := ofKind(events, core.EventToolResult)
	assert.Len(t, toolResults, 1)
	assert.Equal(t, "Answer with a pun.", toolResults[0].Text)

	finals := ofKind(events, core.EventFinal)
	assert.Len(t, finals, 1)
	assert.Equal(t, "a pun", finals[0].Text)

	msgs := hist.History(0)
	assert.Len(t, msgs, 4)
}

func TestOrchestrator_SlashCommandBypassesModel(t *testing.T) {
	stub := &scriptedProvider{responses: []provider.Response{
		{Text: "unused", FinishReason: provider.FinishStop},
	}}
	orch, hist, plugins := newTestOrchestrator(t, stub, func(o *Options) { o.Streaming = false })

	assert.NoError(t, plugins.Register(
		plugin.NewFunctionPlugin("cmds", "Commands").
			AddCommand("version", "Show version", func(ctx context.Context, args string) (string, error) {
				return "1.0", nil
			})))
	plugins.ActivateAll()

	events := collect(t, orch.Run(context.Background(), UserInput{Text: "/version"}))

	finals := ofKind(events, core.EventFinal)
	assert.Len(t, finals, 1)
	assert.Equal(t, "1.0", finals[0].Text)
	assert.Empty(t, stub.requests)
	assert.Empty(t, hist.History(0))
}

func TestOrchestrator_RequestCarriesSystemPromptAndTools(t *testing.T) {
	stub := &scriptedProvider{responses: []provider.Response{
		{Text: "hi", FinishReason: provider.FinishStop},
	}}
	orch, _, plugins := newTestOrchestrator(t, stub, func(o *Options) {
		o.Streaming = false
		o.SystemPrompt = "default prompt"
	})

	assert.NoError(t, plugins.Register(
		plugin.NewFunctionPlugin("clock", "Clock").
			AddTool(plugin.ToolDefinition{Name: "get_time", Description: "Current time"},
				func(ctx context.Context, args map[string]any) (any, error) { return "", nil })))
	plugins.ActivateAll()

	collect(t, orch.Run(context.Background(), UserInput{Text: "hello"}))

	assert.Len(t, stub.requests, 1)
	req := stub.requests[0]
	assert.Equal(t, "default prompt", req.SystemPrompt)
	assert.Len(t, req.Tools, 1)
	assert.Equal(t, "get_time", req.Tools[0].Name)
	assert.Len(t, req.Messages, 1)
	assert.Equal(t, "hello", req.Messages[0].Content)
}
