package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumipet/lumipet/core"
)

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo the input",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []any{"text"},
		},
	}
}

func TestRegistry_ActivationOrderHonorsDependencies(t *testing.T) {
	r := NewRegistry()
	// Register dependent first to prove ordering is topological, not
	// registration order.
	assert.NoError(t, r.Register(NewFunctionPlugin("child", "Child", "parent")))
	assert.NoError(t, r.Register(NewFunctionPlugin("parent", "Parent")))

	order := r.ActivateAll()
	assert.Equal(t, []string{"parent", "child"}, order)
	assert.Empty(t, r.Skipped())
}

func TestRegistry_MissingDependencySkipsWithReason(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Register(NewFunctionPlugin("orphan", "Orphan", "ghost")))

	order := r.ActivateAll()
	assert.Empty(t, order)

	skipped := r.Skipped()
	assert.Len(t, skipped, 1)
	assert.Equal(t, "orphan", skipped[0].ID)
	assert.Contains(t, skipped[0].Reason, "ghost")
}

func TestRegistry_DependencyCycleSkipsBoth(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Register(NewFunctionPlugin("a", "A", "b")))
	assert.NoError(t, r.Register(NewFunctionPlugin("b", "B", "a")))

	order := r.ActivateAll()
	assert.Empty(t, order)
	assert.Len(t, r.Skipped(), 2)
}

func TestRegistry_ExecuteTool(t *testing.T) {
	r := NewRegistry()
	p := NewFunctionPlugin("echo-plugin", "Echo").
		AddTool(echoTool(), func(ctx context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		})
	assert.NoError(t, r.Register(p))
	r.ActivateAll()

	res := r.ExecuteTool(context.Background(), "echo", `{"text":"hi"}`)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Result)
}

func TestRegistry_ExecuteToolUnknown(t *testing.T) {
	r := NewRegistry()
	res := r.ExecuteTool(context.Background(), "nope", "{}")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")
	assert.Contains(t, res.Text(), "Error:")
}

func TestRegistry_ExecuteToolSchemaViolation(t *testing.T) {
	r := NewRegistry()
	p := NewFunctionPlugin("echo-plugin", "Echo").
		AddTool(echoTool(), func(ctx context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		})
	assert.NoError(t, r.Register(p))
	r.ActivateAll()

	// Required "text" missing.
	res := r.ExecuteTool(context.Background(), "echo", `{}`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid arguments")
}

func TestRegistry_MalformedArgsFallBackToEmptyObject(t *testing.T) {
	r := NewRegistry()
	var got map[string]any
	p := NewFunctionPlugin("loose", "Loose").
		AddTool(ToolDefinition{Name: "loose_tool", Description: "No schema"},
			func(ctx context.Context, args map[string]any) (any, error) {
				got = args
				return "ok", nil
			})
	assert.NoError(t, r.Register(p))
	r.ActivateAll()

	res := r.ExecuteTool(context.Background(), "loose_tool", `{not json`)
	assert.True(t, res.Success)
	assert.Empty(t, got)
}

func TestRegistry_ToolPanicBecomesErrorResult(t *testing.T) {
	r := NewRegistry()
	p := NewFunctionPlugin("bomb", "Bomb").
		AddTool(ToolDefinition{Name: "explode", Description: "Panics"},
			func(ctx context.Context, args map[string]any) (any, error) {
				panic("kaboom")
			})
	assert.NoError(t, r.Register(p))
	r.ActivateAll()

	res := r.ExecuteTool(context.Background(), "explode", "{}")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "kaboom")
}

func TestRegistry_ExecuteToolFailureIsResultNotError(t *testing.T) {
	r := NewRegistry()
	p := NewFunctionPlugin("flaky", "Flaky").
		AddTool(ToolDefinition{Name: "fail", Description: "Fails"},
			func(ctx context.Context, args map[string]any) (any, error) {
				return nil, errors.New("backend down")
			})
	assert.NoError(t, r.Register(p))
	r.ActivateAll()

	res := r.ExecuteTool(context.Background(), "fail", "{}")
	assert.False(t, res.Success)
	assert.Equal(t, "Error: backend down", res.Text())
}

func TestRegistry_UnknownCommandIsStructuredResult(t *testing.T) {
	r := NewRegistry()
	out, err := r.ExecuteCommand(context.Background(), "missing", "")
	assert.NoError(t, err)
	assert.Equal(t, "Unknown command: /missing", out)
}

func TestRegistry_Commands(t *testing.T) {
	r := NewRegistry()
	p := NewFunctionPlugin("cmds", "Commands").
		AddCommand("roll", "Roll a die", func(ctx context.Context, args string) (string, error) {
			return "4", nil
		})
	assert.NoError(t, r.Register(p))
	r.ActivateAll()

	specs := r.Commands()
	assert.Len(t, specs, 1)
	assert.Equal(t, "roll", specs[0].Name)

	out, err := r.ExecuteCommand(context.Background(), "roll", "")
	assert.NoError(t, err)
	assert.Equal(t, "4", out)
}

func TestRegistry_DeactivateWithdrawsToolsAndCommands(t *testing.T) {
	r := NewRegistry()
	p := NewFunctionPlugin("full", "Full").
		AddTool(ToolDefinition{Name: "t", Description: "T"},
			func(ctx context.Context, args map[string]any) (any, error) { return "x", nil }).
		AddCommand("c", "C", func(ctx context.Context, args string) (string, error) { return "y", nil })
	assert.NoError(t, r.Register(p))
	r.ActivateAll()
	assert.Len(t, r.Tools(), 1)

	assert.NoError(t, r.Deactivate("full"))
	assert.Empty(t, r.Tools())
	assert.Empty(t, r.Commands())
}

// personalityPlugin exercises the capability-query surface.
type personalityPlugin struct {
	prompt string
	err    error
}

func (p *personalityPlugin) Manifest() Manifest {
	return Manifest{
		ID: "persona", Name: "Persona", AutoActivate: true,
		Capabilities: []Capability{CapabilityPersonality, CapabilityExpression},
	}
}
func (p *personalityPlugin) Activate(*Context) error { return nil }
func (p *personalityPlugin) Deactivate() error       { return nil }
func (p *personalityPlugin) BuildSystemPrompt() (string, error) {
	return p.prompt, p.err
}
func (p *personalityPlugin) GenerateExpression(text, modelInfo string) ([]core.ExpressionAction, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []core.ExpressionAction{{Type: "motion", Name: "wave"}}, nil
}

func TestRegistry_SystemPromptFromPersonalityPlugin(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Register(&personalityPlugin{prompt: "You are a cat."}))
	r.ActivateAll()

	prompt, ok := r.SystemPrompt()
	assert.True(t, ok)
	assert.Equal(t, "You are a cat.", prompt)

	actions := r.GenerateExpression("hello", "model-x")
	assert.Len(t, actions, 1)
	assert.Equal(t, "wave", actions[0].Name)
}

func TestRegistry_CapabilityFailuresDegradeGracefully(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Register(&personalityPlugin{err: errors.New("broken")}))
	r.ActivateAll()

	_, ok := r.SystemPrompt()
	assert.False(t, ok)
	assert.Nil(t, r.GenerateExpression("hello", ""))
	_, ok = r.Compress(nil)
	assert.False(t, ok)
}
