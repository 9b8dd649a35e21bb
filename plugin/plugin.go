// Package plugin implements the capability registry that supplies tools,
// slash commands and prompt/expression/memory hooks to the agent loop.
//
// Plugins are modeled as a tagged-variant registry: a manifest carries an
// explicit capability set and callers query by tag, so there is no type
// switching on concrete plugin types at the call surface.
package plugin

import (
	"context"
	"fmt"

	"github.com/lumipet/lumipet/core"
	"github.com/lumipet/lumipet/logging"
	"github.com/lumipet/lumipet/provider"
)

// Capability tags a facet a plugin implements. A plugin declares its tags in
// the manifest and must implement the matching interface for each.
type Capability string

// Known capabilities.
const (
	// CapabilityTool marks a plugin that contributes callable tools.
	CapabilityTool Capability = "tool"
	// CapabilityCommand marks a plugin that contributes slash commands.
	CapabilityCommand Capability = "command"
	// CapabilityPersonality marks a plugin that assembles the system prompt.
	CapabilityPersonality Capability = "personality"
	// CapabilityExpression marks a plugin that derives avatar actions from
	// assistant text.
	CapabilityExpression Capability = "expression"
	// CapabilityMemory marks a plugin that compresses conversation history.
	CapabilityMemory Capability = "memory"
)

// Manifest declares a plugin's identity, capabilities and dependencies.
type Manifest struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Version      string               `json:"version,omitempty"`
	Capabilities []Capability         `json:"capabilities"`
	Dependencies []string             `json:"dependencies,omitempty"`
	AutoActivate bool                 `json:"auto_activate"`
	ConfigFields []provider.FieldSpec `json:"config_fields,omitempty"`
}

// Has reports whether the manifest declares the capability.
func (m Manifest) Has(c Capability) bool {
	for _, cap := range m.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// Context is passed to plugins on activation, carrying their configuration
// section and a logger.
type Context struct {
	Logger   logging.Logger
	Settings map[string]any
}

// Plugin is the minimal lifecycle every plugin implements. Capability
// behavior lives in the optional interfaces below, selected via manifest tags.
type Plugin interface {
	Manifest() Manifest
	Activate(pctx *Context) error
	Deactivate() error
}

// ToolDefinition declaratively exposes one callable tool. Parameters is a
// JSON schema object. RequireConfirm tools trigger a confirmation event
// before the orchestrator invokes them.
type ToolDefinition struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Parameters     map[string]any `json:"parameters"`
	RequireConfirm bool           `json:"require_confirm,omitempty"`
}

// Schema converts the definition into the provider tool schema shape.
func (d ToolDefinition) Schema() provider.ToolSchema {
	return provider.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}

// ToolProvider is implemented by plugins declaring CapabilityTool.
type ToolProvider interface {
	Tools() []ToolDefinition
	ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// CommandSpec describes one slash command.
type CommandSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CommandProvider is implemented by plugins declaring CapabilityCommand.
type CommandProvider interface {
	Commands() []CommandSpec
	ExecuteCommand(ctx context.Context, name string, args string) (string, error)
}

// PersonalityProvider is implemented by plugins declaring
// CapabilityPersonality. The returned prompt replaces the default system
// prompt for a turn.
type PersonalityProvider interface {
	BuildSystemPrompt() (string, error)
}

// ExpressionProvider is implemented by plugins declaring
// CapabilityExpression. Failures degrade gracefully; the turn's text is
// delivered regardless.
type ExpressionProvider interface {
	GenerateExpression(text string, modelInfo string) ([]core.ExpressionAction, error)
}

// MemoryCompressor is implemented by plugins declaring CapabilityMemory.
type MemoryCompressor interface {
	Compress(history []core.ChatMessage) (string, error)
}

// ToolError is a typed tool execution failure with a machine-readable code.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// ToolResult is the uniform outcome of executing a tool by name.
type ToolResult struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Text returns the payload the tool-result history message should carry.
func (r ToolResult) Text() string {
	if r.Success {
		return r.Result
	}
	return "Error: " + r.Error
}
