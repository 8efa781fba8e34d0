package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/models"
)

// Publisher publishes events for WebSocket delivery. Persistent events are
// stored in the events table then dispatched on the bus; transient events
// (streaming deltas) are dispatched only.
//
// Each public method accepts a specific typed payload struct — see
// payloads.go. Internally, payloads are marshaled to JSON and routed to the
// appropriate channel via persistAndDispatch or dispatchOnly.
type Publisher struct {
	db  *database.Client
	bus *Bus
}

// NewPublisher creates a new Publisher.
func NewPublisher(db *database.Client, bus *Bus) *Publisher {
	return &Publisher{db: db, bus: bus}
}

// --- Workflow execution events ---

// PublishActivity publishes a workflow/activity event for an execution-level
// transition. Errors are logged, not returned: event delivery is best-effort
// and must never fail the operation that triggered it.
func (p *Publisher) PublishActivity(ctx context.Context, executionID, activity, detail string) {
	p.publishActivity(ctx, ActivityPayload{
		Type:        EventTypeActivity,
		ExecutionID: executionID,
		Activity:    activity,
		Detail:      detail,
		Timestamp:   timestamp(),
	})
}

// PublishNodeActivity publishes a workflow/activity event for a node-level
// transition.
func (p *Publisher) PublishNodeActivity(ctx context.Context, executionID, nodeID, activity, detail string, iteration int) {
	p.publishActivity(ctx, ActivityPayload{
		Type:        EventTypeActivity,
		ExecutionID: executionID,
		Activity:    activity,
		NodeID:      nodeID,
		Detail:      detail,
		Iteration:   iteration,
		Timestamp:   timestamp(),
	})
}

func (p *Publisher) publishActivity(ctx context.Context, payload ActivityPayload) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal ActivityPayload", "error", err)
		return
	}
	p.persistAndDispatch(ctx, payload.ExecutionID, ExecutionChannel(payload.ExecutionID), payloadJSON)
	// Transient copy on the global channel for execution list pages.
	p.bus.Publish(GlobalChannel, payloadJSON)
}

// PublishMessageStarted publishes a workflow/message/started event.
func (p *Publisher) PublishMessageStarted(ctx context.Context, executionID string, payload MessageStartedPayload) {
	payload.Type = EventTypeMessageStarted
	payload.ExecutionID = executionID
	payload.Timestamp = timestamp()
	p.marshalPersistDispatch(ctx, executionID, payload, "MessageStartedPayload")
}

// PublishMessageDelta dispatches a workflow/message/delta transient event
// (no DB persistence). High-frequency; lost on disconnect.
func (p *Publisher) PublishMessageDelta(executionID, messageID, delta string) {
	payload := MessageDeltaPayload{
		Type:        EventTypeMessageDelta,
		ExecutionID: executionID,
		MessageID:   messageID,
		Delta:       delta,
		Timestamp:   timestamp(),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal MessageDeltaPayload", "error", err)
		return
	}
	p.bus.Publish(ExecutionChannel(executionID), payloadJSON)
}

// PublishMessageCompleted publishes a workflow/message/completed event.
func (p *Publisher) PublishMessageCompleted(ctx context.Context, executionID string, payload MessageCompletedPayload) {
	payload.Type = EventTypeMessageCompleted
	payload.ExecutionID = executionID
	payload.Timestamp = timestamp()
	p.marshalPersistDispatch(ctx, executionID, payload, "MessageCompletedPayload")
}

// PublishMessageError publishes a workflow/message/error event.
func (p *Publisher) PublishMessageError(ctx context.Context, executionID, messageID, errMsg string) {
	payload := MessageErrorPayload{
		Type:        EventTypeMessageError,
		ExecutionID: executionID,
		MessageID:   messageID,
		Error:       errMsg,
		Timestamp:   timestamp(),
	}
	p.marshalPersistDispatch(ctx, executionID, payload, "MessageErrorPayload")
}

// PublishMessageToolUse publishes a workflow/message/tool_use event at a
// tool-use iteration boundary.
func (p *Publisher) PublishMessageToolUse(ctx context.Context, executionID string, payload MessageToolUsePayload) {
	payload.Type = EventTypeMessageToolUse
	payload.ExecutionID = executionID
	payload.Timestamp = timestamp()
	p.marshalPersistDispatch(ctx, executionID, payload, "MessageToolUsePayload")
}

// PublishAwaitingInput publishes a workflow/awaiting_input event.
func (p *Publisher) PublishAwaitingInput(ctx context.Context, executionID string, payload AwaitingInputPayload) {
	payload.Type = EventTypeAwaitingInput
	payload.ExecutionID = executionID
	payload.Timestamp = timestamp()
	p.marshalPersistDispatch(ctx, executionID, payload, "AwaitingInputPayload")
}

// PublishSplitStarted publishes a workflow/split/started event.
func (p *Publisher) PublishSplitStarted(ctx context.Context, executionID, nodeID string, branches []string) {
	payload := SplitStartedPayload{
		Type:        EventTypeSplitStarted,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Branches:    branches,
		Timestamp:   timestamp(),
	}
	p.marshalPersistDispatch(ctx, executionID, payload, "SplitStartedPayload")
}

// PublishMergeCompleted publishes a workflow/merge/completed event.
func (p *Publisher) PublishMergeCompleted(ctx context.Context, executionID, nodeID string, strategy models.MergeStrategy) {
	payload := MergeCompletedPayload{
		Type:        EventTypeMergeCompleted,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Strategy:    string(strategy),
		Timestamp:   timestamp(),
	}
	p.marshalPersistDispatch(ctx, executionID, payload, "MergeCompletedPayload")
}

// PublishOutput publishes a workflow/output event.
func (p *Publisher) PublishOutput(ctx context.Context, executionID, nodeID, output string) {
	payload := OutputPayload{
		Type:        EventTypeOutput,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Output:      output,
		Timestamp:   timestamp(),
	}
	p.marshalPersistDispatch(ctx, executionID, payload, "OutputPayload")
}

// PublishPanelStarted publishes a workflow/review_panel/started event.
func (p *Publisher) PublishPanelStarted(ctx context.Context, executionID string, payload PanelStartedPayload) {
	payload.Type = EventTypePanelStarted
	payload.ExecutionID = executionID
	payload.Timestamp = timestamp()
	p.marshalPersistDispatch(ctx, executionID, payload, "PanelStartedPayload")
}

// PublishPanelVote publishes a workflow/review_panel/vote event.
func (p *Publisher) PublishPanelVote(ctx context.Context, executionID, panelID, reviewer string, vote models.VoteType) {
	payload := PanelVotePayload{
		Type:        EventTypePanelVote,
		ExecutionID: executionID,
		PanelID:     panelID,
		Reviewer:    reviewer,
		Vote:        vote,
		Timestamp:   timestamp(),
	}
	p.marshalPersistDispatch(ctx, executionID, payload, "PanelVotePayload")
}

// PublishPanelCompleted publishes a workflow/review_panel/completed event.
func (p *Publisher) PublishPanelCompleted(ctx context.Context, executionID, panelID string, outcome models.ReviewOutcome, summary string) {
	payload := PanelCompletedPayload{
		Type:        EventTypePanelCompleted,
		ExecutionID: executionID,
		PanelID:     panelID,
		Outcome:     outcome,
		Summary:     summary,
		Timestamp:   timestamp(),
	}
	p.marshalPersistDispatch(ctx, executionID, payload, "PanelCompletedPayload")
}

// --- Chat session events ---

// PublishSessionEvent publishes a persistent chat session lifecycle event to
// the session channel, with a transient copy on the global channel for
// session list pages.
func (p *Publisher) PublishSessionEvent(ctx context.Context, eventType string, payload SessionEventPayload) {
	payload.Type = eventType
	payload.Timestamp = timestamp()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal SessionEventPayload", "error", err)
		return
	}
	p.persistAndDispatch(ctx, "", SessionChannel(payload.SessionID), payloadJSON)
	p.bus.Publish(GlobalChannel, payloadJSON)
}

// PublishStreamEvent dispatches a stream_event transient event (no DB
// persistence) to the session channel.
func (p *Publisher) PublishStreamEvent(sessionID string, payload StreamEventPayload) {
	payload.Type = EventTypeStreamEvent
	payload.SessionID = sessionID
	payload.Timestamp = timestamp()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal StreamEventPayload", "error", err)
		return
	}
	p.bus.Publish(SessionChannel(sessionID), payloadJSON)
}

// --- Permission events ---

// PublishPermissionRequested publishes a permission/requested event to the
// global channel.
func (p *Publisher) PublishPermissionRequested(ctx context.Context, payload PermissionRequestedPayload) {
	payload.Type = EventTypePermissionRequested
	payload.Timestamp = timestamp()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal PermissionRequestedPayload", "error", err)
		return
	}
	p.persistAndDispatch(ctx, "", GlobalChannel, payloadJSON)
}

// PublishPermissionResolved publishes a permission/resolved event to the
// global channel.
func (p *Publisher) PublishPermissionResolved(ctx context.Context, requestID string, approved bool) {
	payload := PermissionResolvedPayload{
		Type:      EventTypePermissionResolved,
		RequestID: requestID,
		Approved:  approved,
		Timestamp: timestamp(),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal PermissionResolvedPayload", "error", err)
		return
	}
	p.persistAndDispatch(ctx, "", GlobalChannel, payloadJSON)
}

// --- Internal core methods ---

// marshalPersistDispatch marshals a typed payload and routes it to the
// execution channel with persistence.
func (p *Publisher) marshalPersistDispatch(ctx context.Context, executionID string, payload any, name string) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal event payload", "payload", name, "error", err)
		return
	}
	p.persistAndDispatch(ctx, executionID, ExecutionChannel(executionID), payloadJSON)
}

// persistAndDispatch persists a pre-marshaled event to the events table, then
// dispatches it on the bus with db_event_id injected for catchup tracking.
// Dispatch still happens (without an ID) if persistence fails, so live
// clients keep receiving events during transient DB trouble.
func (p *Publisher) persistAndDispatch(ctx context.Context, executionID, channel string, payloadJSON []byte) {
	eventID, err := p.db.InsertEvent(ctx, executionID, channel, string(payloadJSON))
	if err != nil {
		slog.Warn("Failed to persist event", "channel", channel, "error", err)
		p.bus.Publish(channel, payloadJSON)
		return
	}

	enriched, err := injectDBEventID(payloadJSON, eventID)
	if err != nil {
		slog.Warn("Failed to enrich event payload", "channel", channel, "error", err)
		p.bus.Publish(channel, payloadJSON)
		return
	}
	p.bus.Publish(channel, enriched)
}

// injectDBEventID adds db_event_id to the JSON payload so clients can track
// their catchup position.
func injectDBEventID(payloadJSON []byte, dbEventID int64) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID
	return json.Marshal(m)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
