// Package skill maps higher-level LLM-delegated macro-behaviors onto the
// same tool-calling surface the plugin registry provides. Skill tools are
// name-spaced with a reserved prefix so the agent loop can dispatch them
// without special-casing.
package skill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lumipet/lumipet/plugin"
)

// ToolPrefix is the reserved namespace prepended to every skill tool name.
const ToolPrefix = "skill_"

// Handler executes a skill invocation and returns the result text.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Definition describes one skill: free-text instructions the model sees plus
// an executable handler.
type Definition struct {
	Name         string         `yaml:"name" json:"name"`
	Category     string         `yaml:"category" json:"category,omitempty"`
	Instructions string         `yaml:"-" json:"instructions"`
	Parameters   map[string]any `yaml:"parameters" json:"parameters,omitempty"`
	Examples     []string       `yaml:"examples" json:"examples,omitempty"`
	Enabled      bool           `yaml:"enabled" json:"enabled"`
	Handler      Handler        `yaml:"-" json:"-"`
}

// Validate checks the definition is usable.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("skill missing name")
	}
	if d.Instructions == "" {
		return fmt.Errorf("skill %q missing instructions", d.Name)
	}
	return nil
}

// ToolName returns the namespaced tool name exposed to the model.
func (d *Definition) ToolName() string { return ToolPrefix + d.Name }

// IsSkillTool reports whether a tool name belongs to the skill namespace.
func IsSkillTool(name string) bool { return strings.HasPrefix(name, ToolPrefix) }

// Registry owns registered skills and exposes enabled ones as namespaced
// tool definitions. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Definition
}

// NewRegistry creates an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]*Definition)}
}

// Register adds a skill definition.
func (r *Registry) Register(d *Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[d.Name]; exists {
		return fmt.Errorf("skill %q already registered", d.Name)
	}
	r.skills[d.Name] = d
	return nil
}

// SetEnabled toggles a skill.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.skills[name]
	if !ok {
		return fmt.Errorf("skill %q not registered", name)
	}
	d.Enabled = enabled
	return nil
}

// List returns all registered skills sorted by name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.skills))
	for _, d := range r.skills {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tools returns the enabled skills as namespaced tool definitions, uniform
// with plugin tools so the agent loop builds one schema set.
func (r *Registry) Tools() []plugin.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]plugin.ToolDefinition, 0, len(r.skills))
	for _, d := range r.skills {
		if !d.Enabled {
			continue
		}
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, plugin.ToolDefinition{
			Name:        d.ToolName(),
			Description: describe(d),
			Parameters:  params,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs the skill behind a namespaced tool name.
func (r *Registry) Execute(ctx context.Context, toolName string, args map[string]any) (string, error) {
	name := strings.TrimPrefix(toolName, ToolPrefix)
	r.mu.RLock()
	d, ok := r.skills[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown skill: %s", name)
	}
	if !d.Enabled {
		return "", fmt.Errorf("skill %s is disabled", name)
	}
	if d.Handler == nil {
		return "", fmt.Errorf("skill %s has no handler", name)
	}
	return d.Handler(ctx, args)
}

func describe(d *Definition) string {
	desc := d.Instructions
	if len(d.Examples) > 0 {
		desc += "\nExamples: " + strings.Join(d.Examples, "; ")
	}
	return desc
}
