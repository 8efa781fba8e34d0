// Package events provides real-time event delivery to WebSocket clients
// through an in-process bus.
//
// ════════════════════════════════════════════════════════════════
// Message Event Lifecycle Patterns
// ════════════════════════════════════════════════════════════════
//
// Agent message events follow one of two lifecycle patterns. Clients
// differentiate them by which event types arrive.
//
// Pattern 1 — STREAMING:
//
//	workflow/message/started   {message_id, content: ""}
//	workflow/message/delta     {delta: "..."}  (repeated, not persisted)
//	workflow/message/tool_use  (iteration boundary: message completed with
//	                            is_tool_use_iteration, next message started)
//	workflow/message/completed {content: "full text", is_final_iteration}
//
//	The message row is created empty while the model is still producing
//	output. Deltas arrive as transient events (lost on reconnect, but the
//	final content is delivered by the completed event). Clients concatenate
//	deltas locally for a live typing effect.
//
// Pattern 2 — FIRE-AND-FORGET:
//
//	workflow/activity, workflow/awaiting_input, workflow/output, and the
//	split/merge/review_panel events are published once with their final
//	payload. There is no subsequent completion event.
//
// Every persistent event carries a db_event_id injected at publish time;
// clients hand it back in a catchup request after reconnecting.
package events

// Workflow execution event types (stored in DB + dispatched).
const (
	EventTypeActivity         = "workflow/activity"
	EventTypeMessageStarted   = "workflow/message/started"
	EventTypeMessageCompleted = "workflow/message/completed"
	EventTypeMessageError     = "workflow/message/error"
	EventTypeMessageToolUse   = "workflow/message/tool_use"
	EventTypeAwaitingInput    = "workflow/awaiting_input"
	EventTypeSplitStarted     = "workflow/split/started"
	EventTypeMergeCompleted   = "workflow/merge/completed"
	EventTypeOutput           = "workflow/output"
	EventTypePanelStarted     = "workflow/review_panel/started"
	EventTypePanelVote        = "workflow/review_panel/vote"
	EventTypePanelCompleted   = "workflow/review_panel/completed"
)

// Activity kinds carried by ActivityPayload.Activity.
const (
	ActivityExecutionCreated = "execution_created"
	ActivityStatusChanged    = "status_changed"
	ActivityNodeStarted      = "node_started"
	ActivityNodeCompleted    = "node_completed"
	ActivityNodeFailed       = "node_failed"
	ActivityHandoff          = "handoff"
)

// Chat session event types (stored in DB + dispatched).
const (
	EventTypeSessionCreated = "session_created"
	EventTypeMessageAdded   = "message_added"
	EventTypeSessionUpdated = "session_updated"
	EventTypeSessionDeleted = "session_deleted"
)

// Permission event types, published to the global channel so any connected
// approval UI can resolve them.
const (
	EventTypePermissionRequested = "permission/requested"
	EventTypePermissionResolved  = "permission/resolved"
)

// Transient event types (dispatched only, no DB persistence).
const (
	// Model output deltas — high-frequency, ephemeral.
	EventTypeMessageDelta = "workflow/message/delta"
	// Raw provider stream events forwarded to chat UIs.
	EventTypeStreamEvent = "stream_event"
)

// GlobalChannel carries cross-execution events: execution list updates and
// permission requests.
const GlobalChannel = "global"

// ExecutionChannel returns the channel name for one execution's events.
// Format: "execution:{execution_id}"
func ExecutionChannel(executionID string) string {
	return "execution:" + executionID
}

// SessionChannel returns the channel name for one chat session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "execution:abc-123")
	LastEventID *int64 `json:"last_event_id,omitempty"` // For catchup
}
