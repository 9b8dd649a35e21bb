package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lumipet/lumipet/core"
	"github.com/lumipet/lumipet/logging"
)

// SkippedPlugin records why a registered plugin could not be activated.
type SkippedPlugin struct {
	ID     string
	Reason string
}

// RegistryOptions configure NewRegistry.
type RegistryOptions struct {
	Logger logging.Logger
	// Settings maps plugin id to that plugin's configuration section.
	Settings map[string]map[string]any
}

// Registry owns registered plugins and their activation state. Activation
// honors declared dependencies (topological order); plugins with unmet
// dependencies are skipped with a diagnosable reason, not silently dropped.
type Registry struct {
	mu       sync.RWMutex
	logger   logging.Logger
	settings map[string]map[string]any
	plugins  map[string]Plugin
	order    []string // registration order, for deterministic activation
	active   map[string]Plugin
	skipped  []SkippedPlugin
	tools    map[string]toolBinding // tool name -> owning plugin binding
	commands map[string]commandBinding
}

type toolBinding struct {
	owner    string
	def      ToolDefinition
	provider ToolProvider
}

type commandBinding struct {
	owner    string
	spec     CommandSpec
	provider CommandProvider
}

// NewRegistry creates an empty plugin registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		logger:   logging.OrNoOp(opts.Logger),
		settings: opts.Settings,
		plugins:  make(map[string]Plugin),
		active:   make(map[string]Plugin),
		tools:    make(map[string]toolBinding),
		commands: make(map[string]commandBinding),
	}
}

// Register adds a plugin. Registration does not activate it; call
// ActivateAll (or Activate) afterwards.
func (r *Registry) Register(p Plugin) error {
	m := p.Manifest()
	if m.ID == "" {
		return fmt.Errorf("plugin manifest missing id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[m.ID]; exists {
		return fmt.Errorf("plugin %q already registered", m.ID)
	}
	r.plugins[m.ID] = p
	r.order = append(r.order, m.ID)
	return nil
}

// ActivateAll activates every auto-activating plugin in dependency
// topological order. Plugins whose dependencies are missing or failed are
// recorded in Skipped with a reason. Returns the activation order.
func (r *Registry) ActivateAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.skipped = nil
	sorted, unresolved := r.topoSortLocked()
	for _, id := range unresolved {
		r.skipped = append(r.skipped, SkippedPlugin{ID: id, Reason: "dependency cycle or unresolved ordering"})
	}

	var activated []string
	for _, id := range sorted {
		p := r.plugins[id]
		m := p.Manifest()
		if !m.AutoActivate {
			continue
		}
		if reason := r.unmetDependencyLocked(m); reason != "" {
			r.skipped = append(r.skipped, SkippedPlugin{ID: id, Reason: reason})
			r.logger.Warn("plugin.skipped", "plugin", id, "reason", reason)
			continue
		}
		if err := r.activateLocked(id, p); err != nil {
			r.skipped = append(r.skipped, SkippedPlugin{ID: id, Reason: err.Error()})
			r.logger.Warn("plugin.activate_failed", "plugin", id, "error", err.Error())
			continue
		}
		activated = append(activated, id)
	}
	return activated
}

// Activate activates a single plugin, requiring its dependencies to already
// be active.
func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[id]
	if !ok {
		return fmt.Errorf("plugin %q not registered", id)
	}
	if _, ok := r.active[id]; ok {
		return nil
	}
	if reason := r.unmetDependencyLocked(p.Manifest()); reason != "" {
		return fmt.Errorf("plugin %q: %s", id, reason)
	}
	return r.activateLocked(id, p)
}

// Deactivate deactivates a plugin and withdraws its tools and commands.
func (r *Registry) Deactivate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.active[id]
	if !ok {
		return nil
	}
	delete(r.active, id)
	for name, b := range r.tools {
		if b.owner == id {
			delete(r.tools, name)
		}
	}
	for name, b := range r.commands {
		if b.owner == id {
			delete(r.commands, name)
		}
	}
	return p.Deactivate()
}

// Skipped returns the plugins that could not be activated and why.
func (r *Registry) Skipped() []SkippedPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SkippedPlugin, len(r.skipped))
	copy(out, r.skipped)
	return out
}

// Tools returns the tool definitions of all active plugins, sorted by name.
func (r *Registry) Tools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.tools))
	for _, b := range r.tools {
		out = append(out, b.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tool returns the definition for a tool name, if an active plugin owns it.
func (r *Registry) Tool(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.tools[name]
	return b.def, ok
}

// ExecuteTool runs the named tool with raw JSON arguments. Malformed argument
// JSON falls back to an empty object; schema violations and execution
// failures are returned inside the ToolResult, never as a Go error, so the
// agent loop can feed them back to the model.
func (r *Registry) ExecuteTool(ctx context.Context, name string, jsonArgs string) ToolResult {
	r.mu.RLock()
	b, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ToolResult{Error: fmt.Sprintf("unknown tool: %s", name)}
	}

	args := map[string]any{}
	if jsonArgs != "" {
		if err := json.Unmarshal([]byte(jsonArgs), &args); err != nil {
			r.logger.Warn("plugin.tool.bad_args", "tool", name, "error", err.Error())
			args = map[string]any{}
		}
	}

	if b.def.Parameters != nil {
		if err := validateArgs(args, b.def.Parameters); err != nil {
			return ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}
		}
	}

	result, err := r.callTool(ctx, b.provider, name, args)
	if err != nil {
		r.logger.Warn("plugin.tool.failed", "tool", name, "error", err.Error())
		return ToolResult{Error: err.Error()}
	}
	return ToolResult{Success: true, Result: stringify(result)}
}

// Commands returns the slash commands of all active plugins, sorted by name.
func (r *Registry) Commands() []CommandSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CommandSpec, 0, len(r.commands))
	for _, b := range r.commands {
		out = append(out, b.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExecuteCommand dispatches a slash command. An unknown command name yields a
// structured result, not an error.
func (r *Registry) ExecuteCommand(ctx context.Context, name, args string) (string, error) {
	r.mu.RLock()
	b, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Unknown command: /%s", name), nil
	}
	return b.provider.ExecuteCommand(ctx, name, args)
}

// SystemPrompt consults the first active personality plugin. The boolean is
// false when no personality plugin is active or it failed; failures degrade
// to the default prompt.
func (r *Registry) SystemPrompt() (string, bool) {
	for _, p := range r.byCapability(CapabilityPersonality) {
		pp, ok := p.(PersonalityProvider)
		if !ok {
			continue
		}
		prompt, err := pp.BuildSystemPrompt()
		if err != nil {
			r.logger.Warn("plugin.personality.failed", "plugin", p.Manifest().ID, "error", err.Error())
			continue
		}
		return prompt, true
	}
	return "", false
}

// GenerateExpression consults the first active expression plugin. A nil
// result means no plugin produced actions; failures are logged and skipped.
func (r *Registry) GenerateExpression(text, modelInfo string) []core.ExpressionAction {
	for _, p := range r.byCapability(CapabilityExpression) {
		ep, ok := p.(ExpressionProvider)
		if !ok {
			continue
		}
		actions, err := ep.GenerateExpression(text, modelInfo)
		if err != nil {
			r.logger.Warn("plugin.expression.failed", "plugin", p.Manifest().ID, "error", err.Error())
			continue
		}
		return actions
	}
	return nil
}

// Compress consults the first active memory plugin to summarize history.
func (r *Registry) Compress(history []core.ChatMessage) (string, bool) {
	for _, p := range r.byCapability(CapabilityMemory) {
		mc, ok := p.(MemoryCompressor)
		if !ok {
			continue
		}
		summary, err := mc.Compress(history)
		if err != nil {
			r.logger.Warn("plugin.memory.failed", "plugin", p.Manifest().ID, "error", err.Error())
			continue
		}
		return summary, true
	}
	return "", false
}

// callTool isolates tool execution so a panicking plugin is converted into an
// error result instead of tearing down the turn.
func (r *Registry) callTool(ctx context.Context, tp ToolProvider, name string, args map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, rec)
		}
	}()
	return tp.ExecuteTool(ctx, name, args)
}

func (r *Registry) byCapability(c Capability) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Plugin
	for _, id := range r.order {
		if p, ok := r.active[id]; ok && p.Manifest().Has(c) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) unmetDependencyLocked(m Manifest) string {
	for _, dep := range m.Dependencies {
		if _, registered := r.plugins[dep]; !registered {
			return fmt.Sprintf("dependency %q is not registered", dep)
		}
		if _, activated := r.active[dep]; !activated {
			return fmt.Sprintf("dependency %q is not active", dep)
		}
	}
	return ""
}

func (r *Registry) activateLocked(id string, p Plugin) error {
	pctx := &Context{Logger: r.logger, Settings: r.settings[id]}
	if err := p.Activate(pctx); err != nil {
		return err
	}
	r.active[id] = p

	m := p.Manifest()
	if m.Has(CapabilityTool) {
		tp, ok := p.(ToolProvider)
		if !ok {
			return fmt.Errorf("plugin %q declares tool capability but does not implement ToolProvider", id)
		}
		for _, def := range tp.Tools() {
			if _, taken := r.tools[def.Name]; taken {
				r.logger.Warn("plugin.tool.name_conflict", "plugin", id, "tool", def.Name)
				continue
			}
			r.tools[def.Name] = toolBinding{owner: id, def: def, provider: tp}
		}
	}
	if m.Has(CapabilityCommand) {
		cp, ok := p.(CommandProvider)
		if !ok {
			return fmt.Errorf("plugin %q declares command capability but does not implement CommandProvider", id)
		}
		for _, spec := range cp.Commands() {
			if _, taken := r.commands[spec.Name]; taken {
				r.logger.Warn("plugin.command.name_conflict", "plugin", id, "command", spec.Name)
				continue
			}
			r.commands[spec.Name] = commandBinding{owner: id, spec: spec, provider: cp}
		}
	}
	r.logger.Info("plugin.activated", "plugin", id)
	return nil
}

// topoSortLocked orders registered plugins so dependencies come before their
// dependents (Kahn's algorithm, stable on registration order). Plugins caught
// in a cycle are returned separately.
func (r *Registry) topoSortLocked() (sorted, unresolved []string) {
	indegree := make(map[string]int, len(r.plugins))
	dependents := make(map[string][]string)
	for _, id := range r.order {
		indegree[id] = 0
	}
	for _, id := range r.order {
		for _, dep := range r.plugins[id].Manifest().Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				continue // missing deps reported at activation time
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	queue := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(sorted) < len(r.order) {
		seen := make(map[string]bool, len(sorted))
		for _, id := range sorted {
			seen[id] = true
		}
		for _, id := range r.order {
			if !seen[id] {
				unresolved = append(unresolved, id)
			}
		}
	}
	return sorted, unresolved
}

// validateArgs checks arguments against the tool's JSON parameter schema.
func validateArgs(args map[string]any, schema map[string]any) error {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil // unmarshalable schema: skip validation rather than block the call
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(argsJSON),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed to run: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var msg string
	for i, desc := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += desc.String()
	}
	return fmt.Errorf("%s", msg)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
