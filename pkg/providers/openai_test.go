package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/tools"
)

func openAIForServer(srv *httptest.Server) *OpenAI {
	return NewOpenAI(OpenAIConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL + "/v1",
		DefaultModel: "gpt-4o",
		MaxTokens:    512,
	})
}

func TestOpenAIChat_ToolCalls(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "reading it",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "read_file", "arguments": "{\"file_path\":\"a.go\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3}
		}`))
	}))
	defer srv.Close()

	p := openAIForServer(srv)
	resp, err := p.Chat(context.Background(), Request{
		SystemPrompt: "You write code.",
		Messages:     []ChatMessage{TextMessage(RoleUser, "read a.go")},
		Tools: []tools.ProviderTool{{
			Name:        "read_file",
			Description: "Read a file",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)

	// Wire request carries system prompt first, then the user turn.
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[1].Role)
	assert.Equal(t, 512, got.MaxCompletionTokens)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "read_file", got.Tools[0].Function.Name)

	assert.Equal(t, StopToolUse, resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 7, OutputTokens: 3}, resp.Usage)
	require.Len(t, resp.Message.Blocks, 2)
	assert.Equal(t, "reading it", resp.Message.Blocks[0].Text)
	use := resp.Message.Blocks[1]
	assert.Equal(t, BlockToolUse, use.Type)
	assert.Equal(t, "call_1", use.ToolUseID)
	assert.Equal(t, "read_file", use.ToolName)
	assert.Equal(t, map[string]any{"file_path": "a.go"}, use.ToolInput)
}

func TestOpenAIChatStream_AccumulatesToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"work\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"ing\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_7\",\"type\":\"function\",\"function\":{\"name\":\"read_file\",\"arguments\":\"{\\\"file\"}}]}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"_path\\\":\\\"b.go\\\"}\"}}]}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
				"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":4}}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := openAIForServer(srv)
	var events []StreamEvent
	resp, err := p.ChatStream(context.Background(), Request{
		Messages: []ChatMessage{TextMessage(RoleUser, "read b.go")},
	}, func(ev StreamEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	assert.Equal(t, StopToolUse, resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 4}, resp.Usage)
	require.Len(t, resp.Message.Blocks, 2)
	assert.Equal(t, "working", resp.Message.Blocks[0].Text)
	use := resp.Message.Blocks[1]
	assert.Equal(t, "call_7", use.ToolUseID)
	assert.Equal(t, map[string]any{"file_path": "b.go"}, use.ToolInput)

	var types []StreamEventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, StreamTextDelta)
	assert.Contains(t, types, StreamToolUseStart)
	assert.Contains(t, types, StreamToolUseInputDelta)
	assert.Contains(t, types, StreamToolUseEnd)
	assert.Equal(t, StreamMessageEnd, types[len(types)-1])
}

func TestConvertToOpenAIMessages_ToolRoundTrip(t *testing.T) {
	assistant := ChatMessage{
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			{Type: BlockText, Text: "let me check"},
			{Type: BlockToolUse, ToolUseID: "call_1", ToolName: "read_file", ToolInput: map[string]any{"file_path": "a.go"}},
		},
	}
	result := ChatMessage{
		Role: RoleTool,
		Blocks: []ContentBlock{
			{Type: BlockToolResult, ToolUseID: "call_1", Content: "package main"},
		},
	}

	wire := convertToOpenAIMessages(assistant)
	require.Len(t, wire, 1)
	assert.Equal(t, openai.ChatMessageRoleAssistant, wire[0].Role)
	require.Len(t, wire[0].ToolCalls, 1)
	assert.Equal(t, "call_1", wire[0].ToolCalls[0].ID)
	assert.JSONEq(t, `{"file_path":"a.go"}`, wire[0].ToolCalls[0].Function.Arguments)

	wire = convertToOpenAIMessages(result)
	require.Len(t, wire, 1)
	assert.Equal(t, openai.ChatMessageRoleTool, wire[0].Role)
	assert.Equal(t, "call_1", wire[0].ToolCallID)
	assert.Equal(t, "package main", wire[0].Content)
}
