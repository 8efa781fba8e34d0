package models

import "time"

// MessageRole is the author role of a chat-visible message.
type MessageRole string

const (
	MessageRoleUser   MessageRole = "user"
	MessageRoleAgent  MessageRole = "agent"
	MessageRoleSystem MessageRole = "system"
)

// Message is a chat-visible record used for UI display. Streaming messages
// start with empty content and IsComplete=false; the writer must set
// IsComplete=true or the message is considered orphaned.
type Message struct {
	ID              string      `json:"id"`
	ExecutionID     string      `json:"execution_id"`
	Role            MessageRole `json:"role"`
	AgentID         string      `json:"agent_id,omitempty"`
	Content         string      `json:"content"`
	NodeExecutionID string      `json:"node_execution_id,omitempty"`
	IsComplete      bool        `json:"is_complete"`
	// Iteration markers for per-iteration agent messaging.
	IsToolUseIteration bool      `json:"is_tool_use_iteration,omitempty"`
	IsFinalIteration   bool      `json:"is_final_iteration,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ContextItemType classifies prompt-building records.
type ContextItemType string

const (
	ContextItemUserInput   ContextItemType = "user_input"
	ContextItemAgentOutput ContextItemType = "agent_output"
	ContextItemSystem      ContextItemType = "system"
	ContextItemToolCall    ContextItemType = "tool_call"
	ContextItemToolResult  ContextItemType = "tool_result"
	ContextItemFeedback    ContextItemType = "feedback"
	ContextItemCompaction  ContextItemType = "compaction"
)

// ContextItem is a prompt-building record. Invariant: CompactedIntoID set
// implies IsActive=false; the compacting summary item is itself active.
type ContextItem struct {
	ID              string          `json:"id"`
	ExecutionID     string          `json:"execution_id"`
	ItemType        ContextItemType `json:"item_type"`
	Content         string          `json:"content"`
	AgentID         string          `json:"agent_id,omitempty"`
	FeedbackSource  string          `json:"feedback_source,omitempty"`
	FeedbackRating  string          `json:"feedback_rating,omitempty"`
	IterationNumber int             `json:"iteration_number"`
	IsActive        bool            `json:"is_active"`
	CompactedIntoID string          `json:"compacted_into_id,omitempty"`
	Tokens          int             `json:"tokens,omitempty"`
	IsComplete      bool            `json:"is_complete"`
	CreatedAt       time.Time       `json:"created_at"`
}
