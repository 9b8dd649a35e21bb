package plugin

import (
	"context"
	"fmt"

	"github.com/lumipet/lumipet/internal/util"
)

// ToolFunc is a plain Go function exposed as a tool.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// CommandFunc is a plain Go function exposed as a slash command.
type CommandFunc func(ctx context.Context, args string) (string, error)

// FunctionPlugin is a generic adapter that turns plain Go functions into a
// plugin, for built-in capabilities and tests. Construct it, add tools and
// commands, then register it like any other plugin.
//
// A FunctionPlugin has no internal mutable state after construction and is
// safe for concurrent use.
type FunctionPlugin struct {
	manifest Manifest
	tools    []ToolDefinition
	toolFns  map[string]ToolFunc
	commands []CommandSpec
	cmdFns   map[string]CommandFunc
}

// NewFunctionPlugin creates an auto-activating plugin with the given id.
func NewFunctionPlugin(id, name string, deps ...string) *FunctionPlugin {
	return &FunctionPlugin{
		manifest: Manifest{ID: id, Name: name, Dependencies: deps, AutoActivate: true},
		toolFns:  make(map[string]ToolFunc),
		cmdFns:   make(map[string]CommandFunc),
	}
}

// AddTool exposes fn as a tool with an explicit JSON parameter schema.
func (p *FunctionPlugin) AddTool(def ToolDefinition, fn ToolFunc) *FunctionPlugin {
	p.tools = append(p.tools, def)
	p.toolFns[def.Name] = fn
	if !p.manifest.Has(CapabilityTool) {
		p.manifest.Capabilities = append(p.manifest.Capabilities, CapabilityTool)
	}
	return p
}

// AddToolFromStruct derives the parameter schema from a struct's json and
// description tags.
func (p *FunctionPlugin) AddToolFromStruct(name, description string, argsType any, fn ToolFunc) *FunctionPlugin {
	return p.AddTool(ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  util.CreateSchema(argsType),
	}, fn)
}

// AddCommand exposes fn as a slash command.
func (p *FunctionPlugin) AddCommand(name, description string, fn CommandFunc) *FunctionPlugin {
	p.commands = append(p.commands, CommandSpec{Name: name, Description: description})
	p.cmdFns[name] = fn
	if !p.manifest.Has(CapabilityCommand) {
		p.manifest.Capabilities = append(p.manifest.Capabilities, CapabilityCommand)
	}
	return p
}

// Manifest implements Plugin.
func (p *FunctionPlugin) Manifest() Manifest { return p.manifest }

// Activate implements Plugin.
func (p *FunctionPlugin) Activate(*Context) error { return nil }

// Deactivate implements Plugin.
func (p *FunctionPlugin) Deactivate() error { return nil }

// Tools implements ToolProvider.
func (p *FunctionPlugin) Tools() []ToolDefinition { return p.tools }

// ExecuteTool implements ToolProvider.
func (p *FunctionPlugin) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	fn, ok := p.toolFns[name]
	if !ok {
		return nil, NewToolError(name, "tool not provided by this plugin", "UNKNOWN_TOOL")
	}
	return fn(ctx, args)
}

// Commands implements CommandProvider.
func (p *FunctionPlugin) Commands() []CommandSpec { return p.commands }

// ExecuteCommand implements CommandProvider.
func (p *FunctionPlugin) ExecuteCommand(ctx context.Context, name, args string) (string, error) {
	fn, ok := p.cmdFns[name]
	if !ok {
		return "", fmt.Errorf("command %q not provided by this plugin", name)
	}
	return fn(ctx, args)
}
