// Package lumipet provides a high-level façade over the agent orchestration
// engine: provider instances, plugins, skills, history and the conversation
// loop wired together with safe defaults. Most applications interact with
// this package by:
//  1. Creating a Pet via New() (optionally overriding stores and options)
//  2. Loading provider instances and registering plugins and skills
//  3. Calling Chat() per user turn and consuming the returned event stream
//
// The façade delegates turn orchestration to agent.Orchestrator while keeping
// setup concise. All defaults are safe for local development; desktop builds
// typically supply a real configuration and structured logger.
package lumipet

import (
	"context"

	"github.com/lumipet/lumipet/agent"
	"github.com/lumipet/lumipet/core"
	"github.com/lumipet/lumipet/history"
	"github.com/lumipet/lumipet/logging"
	"github.com/lumipet/lumipet/plugin"
	"github.com/lumipet/lumipet/provider"
	"github.com/lumipet/lumipet/provider/anthropic"
	"github.com/lumipet/lumipet/provider/openaicompat"
	"github.com/lumipet/lumipet/skill"
)

// Options configures the Pet façade.
type Options struct {
	// Logger receives structured logs from every component.
	Logger logging.Logger

	// History overrides the default in-memory conversation store.
	History history.Store

	// PluginSettings maps plugin id to its configuration section.
	PluginSettings map[string]map[string]any

	// AgentOptions tune the conversation loop.
	AgentOptions []func(o *agent.Options)
}

// Pet bundles the orchestration engine's collaborators.
type Pet struct {
	Providers *provider.Registry
	Instances *provider.Manager
	Plugins   *plugin.Registry
	Skills    *skill.Registry
	History   history.Store

	orchestrator *agent.Orchestrator
	logger       logging.Logger
}

// New creates a Pet with the builtin provider types registered and in-memory
// defaults for everything else.
func New(optFns ...func(o *Options)) (*Pet, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)

	registry := provider.NewRegistry()
	for _, reg := range []provider.Registration{
		openaicompat.Registration(),
		openaicompat.SpeechRegistration(),
		anthropic.Registration(),
	} {
		if err := registry.Register(reg); err != nil {
			return nil, err
		}
	}

	manager := provider.NewManager(registry, func(o *provider.ManagerOptions) {
		o.Logger = logger
	})
	plugins := plugin.NewRegistry(func(o *plugin.RegistryOptions) {
		o.Logger = logger
		o.Settings = opts.PluginSettings
	})
	skills := skill.NewRegistry()

	hist := opts.History
	if hist == nil {
		hist = history.NewInMemoryStore()
	}

	agentOpts := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Logger = logger
	}}, opts.AgentOptions...)

	return &Pet{
		Providers:    registry,
		Instances:    manager,
		Plugins:      plugins,
		Skills:       skills,
		History:      hist,
		orchestrator: agent.New(manager, plugins, skills, hist, agentOpts...),
		logger:       logger,
	}, nil
}

// LoadProviders loads provider instance configurations and starts enabled
// instances in the background.
func (p *Pet) LoadProviders(cfgs []provider.InstanceConfig) error {
	return p.Instances.LoadAll(cfgs)
}

// ActivatePlugins activates every auto-activating registered plugin in
// dependency order and returns the activation order.
func (p *Pet) ActivatePlugins() []string {
	return p.Plugins.ActivateAll()
}

// Chat runs one conversation turn and returns its event stream.
func (p *Pet) Chat(ctx context.Context, text string) <-chan core.Event {
	return p.orchestrator.Run(ctx, agent.UserInput{Text: text})
}

// ChatInput runs one conversation turn for arbitrary input (text, tap
// payloads, file drops).
func (p *Pet) ChatInput(ctx context.Context, input agent.UserInput) <-chan core.Event {
	return p.orchestrator.Run(ctx, input)
}

// Shutdown terminates all provider instances.
func (p *Pet) Shutdown() {
	p.Instances.Shutdown()
}
