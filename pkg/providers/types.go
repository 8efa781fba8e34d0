// Package providers contains the narrow AI-provider contract the core
// consumes and the concrete adapters behind it. The Anthropic adapter
// rides the official SDK; OpenAI, Gemini and Ollama speak their plain
// HTTP wire formats.
package providers

import (
	"context"
	"time"

	"github.com/forge-ide/loom/pkg/tools"
)

// Role of a chat message on the provider wire.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// RoleTool carries tool results back to the model. Adapters fold it
	// into whatever the wire format wants (user-role tool_result blocks
	// for Anthropic, tool messages for OpenAI/Ollama, functionResponse
	// parts for Gemini).
	RoleTool Role = "tool"
)

// BlockType discriminates content blocks within a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one piece of message content. Exactly one of the
// type-specific field groups is populated, per Type.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolUse
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`

	// BlockToolResult (ToolUseID names the tool_use it answers)
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// ChatMessage is one provider-neutral conversation entry.
type ChatMessage struct {
	Role      Role           `json:"role"`
	Blocks    []ContentBlock `json:"blocks"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// TextMessage builds a single-text-block message.
func TextMessage(role Role, text string) ChatMessage {
	return ChatMessage{
		Role:      role,
		Blocks:    []ContentBlock{{Type: BlockText, Text: text}},
		Timestamp: time.Now().UTC(),
	}
}

// Text concatenates the text blocks of the message.
func (m ChatMessage) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the message, in order.
func (m ChatMessage) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// StopReason is why the model stopped emitting output.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
	StopError     StopReason = "error"
)

// Usage is the token accounting reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is one chat turn handed to a provider.
type Request struct {
	Model        string
	Messages     []ChatMessage
	SystemPrompt string
	Tools        []tools.ProviderTool
	MaxTokens    int
	Temperature  *float64
	WorkingDir   string
}

// Response is the provider's final answer for one turn.
type Response struct {
	Message    ChatMessage
	StopReason StopReason
	Usage      Usage
}

// StreamEventType enumerates streaming callbacks.
type StreamEventType string

const (
	StreamTextDelta         StreamEventType = "text_delta"
	StreamToolUseStart      StreamEventType = "tool_use_start"
	StreamToolUseInputDelta StreamEventType = "tool_use_input_delta"
	StreamToolUseEnd        StreamEventType = "tool_use_end"
	StreamMessageEnd        StreamEventType = "message_end"
)

// StreamEvent is one incremental streaming callback. Text carries the
// delta for text_delta and the partial JSON for tool_use_input_delta;
// ToolUse is set on tool_use_start and tool_use_end.
type StreamEvent struct {
	Type    StreamEventType
	Text    string
	ToolUse *ContentBlock
}

// OnEvent receives streaming callbacks. Called from the provider's
// stream-reading goroutine; implementations must not block for long.
type OnEvent func(StreamEvent)

// Capabilities describes what a provider connection can do.
type Capabilities struct {
	ToolUse          bool `json:"tool_use"`
	Streaming        bool `json:"streaming"`
	Vision           bool `json:"vision"`
	SystemMessages   bool `json:"system_messages"`
	MaxContextTokens int  `json:"max_context_tokens"`
	MaxOutputTokens  int  `json:"max_output_tokens"`
}

// Provider is the narrow contract the core consumes. Implementations are
// safe for concurrent use; Cancel aborts the in-flight request, if any.
type Provider interface {
	ID() string
	Chat(ctx context.Context, req Request) (*Response, error)
	ChatStream(ctx context.Context, req Request, onEvent OnEvent) (*Response, error)
	Cancel()
	Capabilities() Capabilities
	IsAvailable(ctx context.Context) bool
	AvailableModels(ctx context.Context) ([]string, error)
}

// SessionResumer is implemented by providers that expose a provider-side
// session id for resuming their own context across calls.
type SessionResumer interface {
	SessionID() string
	SetSessionID(id string)
}
