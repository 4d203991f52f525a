package anthropic

import (
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSDKMessage(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:           "msg_test_123",
		Model:        "claude-haiku-4-5-20251001",
		StopReason:   "tool_use",
		StopSequence: "STOP",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Clasificando"},
			{Type: "tool_use", Name: "clasificar", Input: json.RawMessage(`{"tema_principal":"salud"}`)},
		},
		Usage: sdk.Usage{
			InputTokens:  100,
			OutputTokens: 50,
		},
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_123", resp.ID)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, "STOP", resp.StopSequence)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "Clasificando", resp.Content[0].Text)
	assert.Equal(t, "clasificar", resp.Content[1].Name)
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(50), resp.Usage.OutputTokens)

	input, ok := resp.ToolInput("clasificar")
	require.True(t, ok)
	assert.JSONEq(t, `{"tema_principal":"salud"}`, string(input))

	_, ok = resp.ToolInput("otro")
	assert.False(t, ok)
}

func TestFromSDKMessage_EmptyContent(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{ID: "msg_empty", StopReason: "max_tokens"})
	require.NotNil(t, resp)
	assert.Empty(t, resp.Content)
	assert.Equal(t, "max_tokens", resp.StopReason)
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "Q"},
		{Role: "assistant", Content: "A"},
		{Role: "system", Content: "unknown goes to user"},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
	assert.Empty(t, toSDKMessages(nil))
}

func TestToSDKSystemBlocks(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{{Text: "Primero"}, {Text: "Segundo"}})
	require.Len(t, blocks, 2)
	assert.Equal(t, "Primero", blocks[0].Text)
	assert.Equal(t, "Segundo", blocks[1].Text)
}

func TestToSDKTools(t *testing.T) {
	tools := toSDKTools([]Tool{{
		Name:        "clasificar",
		Description: "Clasifica un titular",
		Properties:  map[string]any{"tema_principal": map[string]any{"type": "string"}},
		Required:    []string{"tema_principal"},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "clasificar", tools[0].OfTool.Name)
	assert.Equal(t, []string{"tema_principal"}, tools[0].OfTool.InputSchema.Required)
	assert.NotNil(t, tools[0].OfTool.InputSchema.Properties)
}

func TestNewClient_ReturnsNonNil(t *testing.T) {
	client := NewClient("test-api-key")
	require.NotNil(t, client)
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 6.0, u.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
	assert.Equal(t, 0.0, u.EstimateCost("unknown-model"))
	u.LogCost("claude-haiku-4-5-20251001", "classify")
}
