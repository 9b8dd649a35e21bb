package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumipet/lumipet/core"
	"github.com/lumipet/lumipet/provider"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(provider.InstanceConfig{Settings: provider.Settings{"api_key": "k"}})
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

	params, err := c.buildParams(toolRequest(provider.ToolChoiceAuto))
	assert.NoError(t, err)
	assert.NotNil(t, params.ToolChoice.OfAuto)

	params, err = c.buildParams(toolRequest(provider.ToolChoiceNone))
	assert.NoError(t, err)
	assert.NotNil(t, params.ToolChoice.OfNone)

	// "required" is expressed as the Messages API's "any".
	params, err = c.buildParams(toolRequest(provider.ToolChoiceRequired))
	assert.NoError(t, err)
	assert.NotNil(t, params.ToolChoice.OfAny)
}

func TestClient_BuildParamsUnsetToolChoiceLeftToVendor(t *testing.T) {
	c := newTestClient(t)

	params, err := c.buildParams(toolRequest(""))
	assert.NoError(t, err)
	assert.Nil(t, params.ToolChoice.OfAuto)
	assert.Nil(t, params.ToolChoice.OfAny)
	assert.Nil(t, params.ToolChoice.OfNone)
}
