// Package agent implements the tool-calling conversation loop that turns
// user input into dialogue, tool executions, avatar expressions and speech.
//
// The orchestrator is the error boundary for a turn: provider and tool
// failures are converted into events and history entries here, and nothing
// above it needs to handle raw errors from provider or plugin code.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumipet/lumipet/core"
	"github.com/lumipet/lumipet/history"
	"github.com/lumipet/lumipet/logging"
	"github.com/lumipet/lumipet/plugin"
	"github.com/lumipet/lumipet/provider"
	"github.com/lumipet/lumipet/skill"
)

// Default tuning values.
const (
	DefaultMaxToolIterations = 10
	DefaultProviderWait      = 5 * time.Second
	DefaultHistoryWindow     = 20
	DefaultSystemPrompt      = "You are a friendly desktop pet. Keep replies short, warm and playful."
)

// iterationLimitMessage is the terminal, user-visible text emitted when the
// tool loop hits its cap.
const iterationLimitMessage = "I stopped because this request needed too many tool steps in a row."

// Options configure an Orchestrator.
type Options struct {
	MaxToolIterations int
	Streaming         bool
	ProviderWait      time.Duration
	HistoryWindow     int
	SystemPrompt      string
	EnableSpeech      bool
	EnableExpression  bool
	Sampling          provider.SamplingParams
	EventBufferSize   int
	Logger            logging.Logger
}

// UserInput is one user turn: text, a tap, or a file drop.
type UserInput struct {
	Text       string
	Attachment *core.Attachment
}

// Orchestrator drives the per-turn state machine: resolve primary provider,
// build request, stream or fetch the response, execute tool calls, repeat
// until a final answer or the iteration cap.
type Orchestrator struct {
	providers *provider.Manager
	plugins   *plugin.Registry
	skills    *skill.Registry
	history   history.Store
	logger    logging.Logger

	maxIterations    int
	streaming        bool
	providerWait     time.Duration
	historyWindow    int
	systemPrompt     string
	enableSpeech     bool
	enableExpression bool
	sampling         provider.SamplingParams
	bufferSize       int
}

// New creates an orchestrator over the given collaborators.
func New(
	providers *provider.Manager,
	plugins *plugin.Registry,
	skills *skill.Registry,
	hist history.Store,
	optFns ...func(o *Options),
) *Orchestrator {
	opts := Options{
		MaxToolIterations: DefaultMaxToolIterations,
		Streaming:         true,
		ProviderWait:      DefaultProviderWait,
		HistoryWindow:     DefaultHistoryWindow,
		SystemPrompt:      DefaultSystemPrompt,
		EnableSpeech:      true,
		EnableExpression:  true,
		EventBufferSize:   64,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{
		providers:        providers,
		plugins:          plugins,
		skills:           skills,
		history:          hist,
		logger:           logging.OrNoOp(opts.Logger),
		maxIterations:    opts.MaxToolIterations,
		streaming:        opts.Streaming,
		providerWait:     opts.ProviderWait,
		historyWindow:    opts.HistoryWindow,
		systemPrompt:     opts.SystemPrompt,
		enableSpeech:     opts.EnableSpeech,
		enableExpression: opts.EnableExpression,
		sampling:         opts.Sampling,
		bufferSize:       opts.EventBufferSize,
	}
}

// Run launches one conversation turn and returns its event stream. The
// channel is closed when the turn reaches a terminal state. Events are
// emitted in order; partial deltas are forwarded at most once each.
func (o *Orchestrator) Run(ctx context.Context, input UserInput) <-chan core.Event {
	events := make(chan core.Event, o.bufferSize)
	responseID := core.NewID()
	go func() {
		defer close(events)
		o.runTurn(ctx, responseID, input, events)
	}()
	return events
}

func (o *Orchestrator) runTurn(ctx context.Context, responseID string, input UserInput, events chan<- core.Event) {
	if cmd, args, ok := parseCommand(input.Text); ok {
		o.runCommand(ctx, responseID, cmd, args, events)
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.providerWait)
	llm, err := o.providers.AwaitChat(waitCtx)
	cancel()
	if err != nil {
		o.emit(events, errorEvent(responseID, classifyResolution(err)))
		return
	}

	userMsg := core.NewUserMessage(input.Text)
	userMsg.Attachment = input.Attachment
	o.history.AddMessage(userMsg)

	for iteration := 0; iteration < o.maxIterations; iteration++ {
		req := o.buildRequest()
		var finished bool
		if o.streaming {
			finished = o.streamOnce(ctx, llm, req, responseID, events)
		} else {
			finished = o.chatOnce(ctx, llm, req, responseID, events)
		}
		if finished {
			return
		}
	}

	// Iteration cap reached: terminal, user-visible, not a retry.
	o.history.AddMessage(core.NewAssistantMessage(iterationLimitMessage))
	ev := core.NewEvent(core.EventIterationLimit, responseID)
	ev.Text = iterationLimitMessage
	o.emit(events, ev)
}

// chatOnce performs one non-streaming provider round trip. It returns true
// when the turn reached a terminal state, false when tool results were
// appended and another round trip is needed.
func (o *Orchestrator) chatOnce(ctx context.Context, llm provider.Provider, req provider.Request, responseID string, events chan<- core.Event) bool {
	resp, err := llm.Chat(ctx, req)
	if err != nil {
		// Programming error in request construction; fail the turn.
		o.logger.Error("agent.chat.invalid_request", "error", err.Error())
		o.emit(events, errorEvent(responseID, "Internal error building the model request."))
		return true
	}
	if resp.FinishReason == provider.FinishError {
		o.history.AddMessage(core.NewAssistantMessage(resp.Text))
		o.emit(events, errorEvent(responseID, resp.Text))
		return true
	}
	if len(resp.ToolCalls) > 0 {
		o.executeToolCalls(ctx, responseID, resp.Text, resp.ToolCalls, events)
		return false
	}
	o.finalize(ctx, responseID, resp.Text, resp.Reasoning, events)
	return true
}

// streamOnce performs one streaming provider round trip, forwarding text and
// reasoning deltas as events in arrival order while accumulating tool-call
// fragments. Same return convention as chatOnce.
func (o *Orchestrator) streamOnce(ctx context.Context, llm provider.Provider, req provider.Request, responseID string, events chan<- core.Event) bool {
	var (
		text      strings.Builder
		reasoning strings.Builder
		streamErr string
	)
	assembler := provider.NewToolCallAssembler()

	err := llm.ChatStream(ctx, req, func(chunk provider.StreamChunk) {
		if chunk.Delta != "" {
			text.WriteString(chunk.Delta)
			ev := core.NewEvent(core.EventPartial, responseID)
			ev.Text = chunk.Delta
			o.emit(events, ev)
		}
		if chunk.ReasoningDelta != "" {
			reasoning.WriteString(chunk.ReasoningDelta)
			ev := core.NewEvent(core.EventReasoning, responseID)
			ev.Text = chunk.ReasoningDelta
			o.emit(events, ev)
		}
		for _, d := range chunk.ToolCalls {
			assembler.Add(d)
		}
		if chunk.Done && chunk.Err != "" {
			streamErr = chunk.Err
		}
	})
	if err != nil {
		o.logger.Error("agent.stream.invalid_request", "error", err.Error())
		o.emit(events, errorEvent(responseID, "Internal error building the model request."))
		return true
	}

	if streamErr != "" && text.Len() == 0 && assembler.Len() == 0 {
		msg := "The language model request failed: " + streamErr
		o.history.AddMessage(core.NewAssistantMessage(msg))
		o.emit(events, errorEvent(responseID, msg))
		return true
	}
	if streamErr != "" {
		// Partial content already reached the user; keep it and log the tail.
		o.logger.Warn("agent.stream.truncated", "error", streamErr)
	}

	if assembler.Len() > 0 {
		o.executeToolCalls(ctx, responseID, text.String(), assembler.Calls(), events)
		return false
	}
	o.finalize(ctx, responseID, text.String(), reasoning.String(), events)
	return true
}

// executeToolCalls records the assistant's raw tool calls, runs each call in
// stream-index order (sequential; later calls may depend on earlier side
// effects) and appends one id-correlated tool-result message per call.
// Per-call failures become tool results, never abort the batch.
func (o *Orchestrator) executeToolCalls(ctx context.Context, responseID, partialText string, calls []core.ToolCallInfo, events chan<- core.Event) {
	assistantMsg := core.NewToolCallMessage(calls)
	assistantMsg.Content = partialText
	o.history.AddMessage(assistantMsg)

	for _, call := range calls {
		if def, ok := o.plugins.Tool(call.Name); ok && def.RequireConfirm {
			ev := core.NewEvent(core.EventConfirmRequired, responseID)
			ev.ToolCallID = call.ID
			ev.ToolName = call.Name
			ev.Text = call.Arguments
			o.emit(events, ev)
		}

		callEv := core.NewEvent(core.EventToolCall, responseID)
		callEv.ToolCallID = call.ID
		callEv.ToolName = call.Name
		callEv.Text = call.Arguments
		o.emit(events, callEv)

		start := time.Now()
		result := o.dispatchTool(ctx, call)
		o.logger.Info("agent.tool.executed",
			"tool", call.Name, "duration_ms", time.Since(start).Milliseconds(), "success", result.Success)

		resultEv := core.NewEvent(core.EventToolResult, responseID)
		resultEv.ToolCallID = call.ID
		resultEv.ToolName = call.Name
		resultEv.Text = result.Text()
		if !result.Success {
			resultEv.Err = result.Error
		}
		o.emit(events, resultEv)

		o.history.AddMessage(core.NewToolResultMessage(call.ID, call.Name, result.Text()))
	}
}

// dispatchTool routes a call to the skill layer or the plugin registry based
// on the reserved skill namespace.
func (o *Orchestrator) dispatchTool(ctx context.Context, call core.ToolCallInfo) plugin.ToolResult {
	if o.skills != nil && skill.IsSkillTool(call.Name) {
		args := map[string]any{}
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				o.logger.Warn("agent.skill.bad_args", "tool", call.Name, "error", err.Error())
				args = map[string]any{}
			}
		}
		result, err := o.skills.Execute(ctx, call.Name, args)
		if err != nil {
			return plugin.ToolResult{Error: err.Error()}
		}
		return plugin.ToolResult{Success: true, Result: result}
	}
	return o.plugins.ExecuteTool(ctx, call.Name, call.Arguments)
}

// finalize appends the final answer and emits the terminal events. The
// expression and speech steps are best-effort: their failures never block
// delivering the text.
func (o *Orchestrator) finalize(ctx context.Context, responseID, text, reasoning string, events chan<- core.Event) {
	msg := core.NewAssistantMessage(text)
	msg.Reasoning = reasoning
	o.history.AddMessage(msg)

	ev := core.NewEvent(core.EventFinal, responseID)
	ev.Text = text
	o.emit(events, ev)

	if o.enableExpression {
		modelInfo, _ := o.providers.PrimaryID(provider.KindLLM)
		if actions := o.plugins.GenerateExpression(text, modelInfo); len(actions) > 0 {
			exprEv := core.NewEvent(core.EventExpression, responseID)
			exprEv.Actions = actions
			o.emit(events, exprEv)
		}
	}

	if o.enableSpeech {
		o.speak(ctx, responseID, text, events)
	}
}

// speak synthesizes the final answer. Every failure path here is non-fatal.
func (o *Orchestrator) speak(ctx context.Context, responseID, text string, events chan<- core.Event) {
	if text == "" {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, o.providerWait)
	tts, err := o.providers.AwaitSpeech(waitCtx)
	cancel()
	if err != nil {
		if !errors.Is(err, provider.ErrNotConfigured) {
			o.logger.Warn("agent.speech.unavailable", "error", err.Error())
		}
		return
	}
	audio, err := tts.Synthesize(ctx, text)
	if err != nil {
		o.logger.Warn("agent.speech.failed", "error", err.Error())
		return
	}
	ev := core.NewEvent(core.EventSpeech, responseID)
	ev.Audio = audio
	o.emit(events, ev)
}

// runCommand handles a slash command turn. Commands bypass the model and do
// not touch conversation history.
func (o *Orchestrator) runCommand(ctx context.Context, responseID, name, args string, events chan<- core.Event) {
	result, err := o.plugins.ExecuteCommand(ctx, name, args)
	if err != nil {
		o.emit(events, errorEvent(responseID, fmt.Sprintf("Command /%s failed: %v", name, err)))
		return
	}
	ev := core.NewEvent(core.EventFinal, responseID)
	ev.Text = result
	o.emit(events, ev)
}

// buildRequest assembles the provider request: system prompt from the
// personality plugin (or the default), the trailing history window (older
// messages compressed by a memory plugin when present) and the full tool
// schema set (plugin tools plus namespaced skill tools).
func (o *Orchestrator) buildRequest() provider.Request {
	systemPrompt := o.systemPrompt
	if prompt, ok := o.plugins.SystemPrompt(); ok && prompt != "" {
		systemPrompt = prompt
	}

	messages := o.history.History(0)
	if o.historyWindow > 0 && len(messages) > o.historyWindow {
		overflow := messages[:len(messages)-o.historyWindow]
		messages = messages[len(messages)-o.historyWindow:]
		if summary, ok := o.plugins.Compress(overflow); ok && summary != "" {
			systemPrompt += "\n\nEarlier conversation summary: " + summary
		}
	}

	var tools []provider.ToolSchema
	for _, def := range o.plugins.Tools() {
		tools = append(tools, def.Schema())
	}
	if o.skills != nil {
		for _, def := range o.skills.Tools() {
			tools = append(tools, def.Schema())
		}
	}

	return provider.Request{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Sampling:     o.sampling,
		Tools:        tools,
		ToolChoice:   provider.ToolChoiceAuto,
	}
}

func (o *Orchestrator) emit(events chan<- core.Event, ev core.Event) {
	events <- ev
}

func errorEvent(responseID, text string) core.Event {
	ev := core.NewEvent(core.EventError, responseID)
	ev.Text = text
	ev.Err = text
	return ev
}

// classifyResolution maps provider resolution failures onto structured,
// user-facing configuration messages.
func classifyResolution(err error) string {
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		return "No language model is configured. Add a provider instance in settings."
	case errors.Is(err, provider.ErrDisabled):
		return "The primary language model instance is disabled."
	case errors.Is(err, provider.ErrInitializing):
		return "The language model is still connecting. Please try again in a moment."
	case errors.Is(err, provider.ErrProviderFailed):
		return fmt.Sprintf("The language model failed to connect (%v).", err)
	default:
		return fmt.Sprintf("The language model is unavailable (%v).", err)
	}
}

// parseCommand splits a leading-slash input into command name and argument
// string.
func parseCommand(text string) (name, args string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") || len(trimmed) < 2 {
		return "", "", false
	}
	rest := trimmed[1:]
	name, args, _ = strings.Cut(rest, " ")
	return name, strings.TrimSpace(args), true
}
