package openaicompat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumipet/lumipet/core"
	"github.com/lumipet/lumipet/provider"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(provider.InstanceConfig{Settings: provider.Settings{
		"model":   "gpt-4o-mini",
		"api_key": "k",
	}})
	assert.NoError(t, err)
	return c
}

func toolRequest(choice provider.ToolChoice) provider.Request {
	return provider.Request{
		Messages: []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}},
		Tools: []provider.ToolSchema{{
			Name:        "get_weather",
			Description: "Current weather",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
		ToolChoice: choice,
	}
}

func TestClient_BuildParamsMapsToolChoice(t *testing.T) {
	c := newTestClient(t)

	for choice, want := range map[provider.ToolChoice]string{
		provider.ToolChoiceAuto:     "auto",
		provider.ToolChoiceNone:     "none",
		provider.ToolChoiceRequired: "required",
	} {
		params, err := c.buildParams(toolRequest(choice))
		assert.NoError(t, err)
		assert.Equal(t, want, params.ToolChoice.OfAuto.Or(""))
	}
}

func TestClient_BuildParamsUnsetToolChoiceLeftToVendor(t *testing.T) {
	c := newTestClient(t)

	params, err := c.buildParams(toolRequest(""))
	assert.NoError(t, err)
	assert.False(t, params.ToolChoice.OfAuto.Valid())
}

func TestClient_BuildParamsRequiresMessages(t *testing.T) {
	c := newTestClient(t)

	_, err := c.buildParams(provider.Request{})
	assert.Error(t, err)
}
