package events

import "github.com/forge-ide/loom/pkg/models"

// ActivityPayload is the payload for workflow/activity events. One event type
// covers execution and node lifecycle transitions; Activity discriminates.
type ActivityPayload struct {
	Type        string `json:"type"` // always EventTypeActivity
	ExecutionID string `json:"execution_id"`
	Activity    string `json:"activity"`            // execution_created, status_changed, node_started, ...
	NodeID      string `json:"node_id,omitempty"`   // set for node_* activities
	Detail      string `json:"detail,omitempty"`    // status value, error message, or handoff target
	Iteration   int    `json:"iteration,omitempty"` // current iteration for node activities
	Timestamp   string `json:"timestamp"`           // RFC3339Nano
}

// MessageStartedPayload is the payload for workflow/message/started events.
// Published when an agent node opens a new (empty) streaming message.
type MessageStartedPayload struct {
	Type        string `json:"type"` // always EventTypeMessageStarted
	ExecutionID string `json:"execution_id"`
	MessageID   string `json:"message_id"`
	AgentID     string `json:"agent_id,omitempty"`
	NodeID      string `json:"node_id,omitempty"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// MessageDeltaPayload is the payload for workflow/message/delta transient
// events. Published for each streamed text chunk.
type MessageDeltaPayload struct {
	Type        string `json:"type"` // always EventTypeMessageDelta
	ExecutionID string `json:"execution_id"`
	MessageID   string `json:"message_id"`
	Delta       string `json:"delta"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// MessageCompletedPayload is the payload for workflow/message/completed
// events. Published when a streaming message reaches its final content,
// either at a tool-use boundary or at the end of the agent call.
type MessageCompletedPayload struct {
	Type               string `json:"type"` // always EventTypeMessageCompleted
	ExecutionID        string `json:"execution_id"`
	MessageID          string `json:"message_id"`
	Content            string `json:"content"`
	IsToolUseIteration bool   `json:"is_tool_use_iteration,omitempty"`
	IsFinalIteration   bool   `json:"is_final_iteration,omitempty"`
	Timestamp          string `json:"timestamp"` // RFC3339Nano
}

// MessageErrorPayload is the payload for workflow/message/error events.
type MessageErrorPayload struct {
	Type        string `json:"type"` // always EventTypeMessageError
	ExecutionID string `json:"execution_id"`
	MessageID   string `json:"message_id,omitempty"`
	Error       string `json:"error"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// MessageToolUsePayload is the payload for workflow/message/tool_use events.
// Published at each tool-use iteration boundary so UIs can render the call.
type MessageToolUsePayload struct {
	Type        string         `json:"type"` // always EventTypeMessageToolUse
	ExecutionID string         `json:"execution_id"`
	MessageID   string         `json:"message_id"`
	ToolName    string         `json:"tool_name"`
	ToolInput   map[string]any `json:"tool_input,omitempty"`
	Timestamp   string         `json:"timestamp"` // RFC3339Nano
}

// AwaitingInputPayload is the payload for workflow/awaiting_input events.
// Published when a checkpoint or await_input node pauses the execution.
type AwaitingInputPayload struct {
	Type         string   `json:"type"` // always EventTypeAwaitingInput
	ExecutionID  string   `json:"execution_id"`
	NodeID       string   `json:"node_id"`
	CheckpointID string   `json:"checkpoint_id,omitempty"` // set for checkpoint nodes
	Prompt       string   `json:"prompt,omitempty"`
	Options      []string `json:"options,omitempty"`
	Timestamp    string   `json:"timestamp"` // RFC3339Nano
}

// SplitStartedPayload is the payload for workflow/split/started events.
type SplitStartedPayload struct {
	Type        string   `json:"type"` // always EventTypeSplitStarted
	ExecutionID string   `json:"execution_id"`
	NodeID      string   `json:"node_id"`
	Branches    []string `json:"branches,omitempty"` // downstream step IDs
	Timestamp   string   `json:"timestamp"`          // RFC3339Nano
}

// MergeCompletedPayload is the payload for workflow/merge/completed events.
type MergeCompletedPayload struct {
	Type        string `json:"type"` // always EventTypeMergeCompleted
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	Strategy    string `json:"strategy"` // wait_all or wait_any
	Timestamp   string `json:"timestamp"`
}

// OutputPayload is the payload for workflow/output events. Published when an
// output node records the final execution output.
type OutputPayload struct {
	Type        string `json:"type"` // always EventTypeOutput
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	Output      string `json:"output"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// PanelStartedPayload is the payload for workflow/review_panel/started events.
type PanelStartedPayload struct {
	Type        string   `json:"type"` // always EventTypePanelStarted
	ExecutionID string   `json:"execution_id"`
	PanelID     string   `json:"panel_id"`
	NodeID      string   `json:"node_id"`
	Reviewers   []string `json:"reviewers"`
	Timestamp   string   `json:"timestamp"` // RFC3339Nano
}

// PanelVotePayload is the payload for workflow/review_panel/vote events.
// Published once per reviewer as votes are recorded.
type PanelVotePayload struct {
	Type        string          `json:"type"` // always EventTypePanelVote
	ExecutionID string          `json:"execution_id"`
	PanelID     string          `json:"panel_id"`
	Reviewer    string          `json:"reviewer_id"`
	Vote        models.VoteType `json:"vote"`
	Timestamp   string          `json:"timestamp"` // RFC3339Nano
}

// PanelCompletedPayload is the payload for workflow/review_panel/completed events.
type PanelCompletedPayload struct {
	Type        string               `json:"type"` // always EventTypePanelCompleted
	ExecutionID string               `json:"execution_id"`
	PanelID     string               `json:"panel_id"`
	Outcome     models.ReviewOutcome `json:"outcome"`
	Summary     string               `json:"summary,omitempty"`
	Timestamp   string               `json:"timestamp"` // RFC3339Nano
}

// SessionEventPayload is the payload for chat session lifecycle events
// (session_created, message_added, session_updated, session_deleted).
type SessionEventPayload struct {
	Type      string `json:"type"` // one of the session event types
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	MessageID string `json:"message_id,omitempty"` // set for message_added
	State     string `json:"state,omitempty"`      // set for session_updated
	Timestamp string `json:"timestamp"`            // RFC3339Nano
}

// StreamEventPayload is the payload for stream_event transient events, the raw
// provider stream forwarded to chat UIs.
type StreamEventPayload struct {
	Type      string `json:"type"` // always EventTypeStreamEvent
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"` // text_delta, tool_use_start, tool_use_end, message_end
	Delta     string `json:"delta,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// PermissionRequestedPayload is the payload for permission/requested events.
// Published to the global channel; an approval UI resolves the request via
// the permissions API.
type PermissionRequestedPayload struct {
	Type      string         `json:"type"` // always EventTypePermissionRequested
	RequestID string         `json:"request_id"`
	ToolName  string         `json:"tool_name"`
	Input     map[string]any `json:"input,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp string         `json:"timestamp"` // RFC3339Nano
}

// PermissionResolvedPayload is the payload for permission/resolved events.
type PermissionResolvedPayload struct {
	Type      string `json:"type"` // always EventTypePermissionResolved
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}
