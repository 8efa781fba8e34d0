package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveModel(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"claude-sonnet-4-5", ProviderAnthropic},
		{"claude-opus-4-5", ProviderAnthropic},
		{"gpt-4o", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"gemini-2.0-flash", ProviderGoogle},
		{"llama3.3", ProviderOllama},
		{"llama-3.1-70b", ProviderOllama},
		{"mistral-large", "fallback"},
		{"", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveModel(tt.model, "fallback"))
		})
	}
}

func TestRegistryForModel(t *testing.T) {
	r := NewRegistry("mock")
	mock := NewMock()
	r.Register(mock)

	p, err := r.ForModel("unknown-model")
	require.NoError(t, err)
	assert.Equal(t, "mock", p.ID())

	_, err = r.ForModel("claude-sonnet-4-5")
	assert.Error(t, err, "anthropic not registered")

	anthropic := &Mock{ProviderID: ProviderAnthropic}
	r.Register(anthropic)
	p, err = r.ForModel("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, p.ID())
}

func TestMessageHelpers(t *testing.T) {
	msg := ChatMessage{
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			{Type: BlockText, Text: "let me check "},
			{Type: BlockToolUse, ToolUseID: "t1", ToolName: "Read", ToolInput: map[string]any{"file_path": "main.go"}},
			{Type: BlockText, Text: "the file"},
		},
	}
	assert.Equal(t, "let me check the file", msg.Text())
	uses := msg.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "t1", uses[0].ToolUseID)
}

func TestOpenAIMessageConversion(t *testing.T) {
	// Tool results must become dedicated tool-role wire messages.
	msg := ChatMessage{
		Role: RoleTool,
		Blocks: []ContentBlock{
			{Type: BlockToolResult, ToolUseID: "t1", Content: "contents of main.go"},
			{Type: BlockToolResult, ToolUseID: "t2", Content: "exit code 0"},
		},
	}
	wire := convertToOpenAIMessages(msg)
	require.Len(t, wire, 2)
	assert.Equal(t, "tool", wire[0].Role)
	assert.Equal(t, "t1", wire[0].ToolCallID)
	assert.Equal(t, "t2", wire[1].ToolCallID)
}

func TestGeminiContentConversion(t *testing.T) {
	msg := ChatMessage{
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			{Type: BlockText, Text: "running the build"},
			{Type: BlockToolUse, ToolUseID: "t1", ToolName: "runTerminalCmd", ToolInput: map[string]any{"command": "go build"}},
		},
	}
	content, ok := convertToGeminiContent(msg)
	require.True(t, ok)
	assert.Equal(t, "model", content.Role)
	require.Len(t, content.Parts, 2)
	fc, ok := content.Parts[1]["functionCall"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "runTerminalCmd", fc["name"])
}

func TestOpenAIStopReason(t *testing.T) {
	assert.Equal(t, StopToolUse, openAIStopReason("tool_calls"))
	assert.Equal(t, StopMaxTokens, openAIStopReason("length"))
	assert.Equal(t, StopEndTurn, openAIStopReason("stop"))
	assert.Equal(t, StopEndTurn, openAIStopReason(""))
}
