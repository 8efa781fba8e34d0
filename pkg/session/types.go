// Package session manages AI chat sessions: one per (chat, agent) pair,
// each owning a provider connection, cumulative message history and the
// send-and-stream loop that interleaves tool-use iterations with text
// deltas.
package session

import (
	"sync"
	"time"

	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/providers"
	"github.com/forge-ide/loom/pkg/tools"
)

// State of a session's streaming loop.
type State string

const (
	StateIdle               State = "idle"
	StateStreaming          State = "streaming"
	StateWaitingForTool     State = "waiting_for_tool"
	StateAwaitingPermission State = "awaiting_permission"
	StateCancelled          State = "cancelled"
)

// Session is one (chat, agent) conversation. History holds the wire-level
// transcript including tool_use/tool_result blocks; the invariant "every
// tool_use is followed by its tool_result before the next provider call"
// is restored by orphan repair at the top of every loop iteration.
type Session struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chat_id"`
	AgentID      string    `json:"agent_id"`
	ProviderID   string    `json:"provider_id"`
	CLISessionID string    `json:"cli_session_id,omitempty"`
	WorkingDir   string    `json:"working_dir,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	mu      sync.Mutex
	state   State
	history []providers.ChatMessage
	usage   providers.Usage
	// Other agents available for delegation when the session runs inside
	// a multi-agent workflow. Drives the delegation preamble.
	workflowAgents []*models.Agent
}

// State returns the current loop state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the wire transcript.
func (s *Session) History() []providers.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]providers.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

// Usage returns cumulative token usage.
func (s *Session) Usage() providers.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
}

// compareAndSetState transitions from one state to another atomically.
func (s *Session) compareAndSetState(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	s.UpdatedAt = time.Now().UTC()
	return true
}

func (s *Session) appendHistory(msg providers.ChatMessage) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Session) addUsage(u providers.Usage) {
	s.mu.Lock()
	s.usage.InputTokens += u.InputTokens
	s.usage.OutputTokens += u.OutputTokens
	s.mu.Unlock()
}

// LoopEventType enumerates send-and-stream loop callbacks.
type LoopEventType string

const (
	EventIterationStart    LoopEventType = "iteration_start"
	EventIterationComplete LoopEventType = "iteration_complete"
	EventToolUseStarted    LoopEventType = "tool_use_started"
	EventToolUseResult     LoopEventType = "tool_use_result"
	EventToolUseRequest    LoopEventType = "tool_use_request"
	EventLoopComplete      LoopEventType = "loop_complete"
	EventMessageDelta      LoopEventType = "message_delta"
	EventMessageEnd        LoopEventType = "message_end"
	EventError             LoopEventType = "error"
)

// LoopEvent is one callback from the send-and-stream loop. Fields are
// populated per Type.
type LoopEvent struct {
	Type LoopEventType

	// iteration_start / iteration_complete
	Iteration                int
	PreviousIterationContent string
	HasToolUse               bool

	// message_delta
	Delta string

	// tool_use_*
	ToolUse       *providers.ContentBlock
	Result        *tools.ToolResult
	RequestID     string
	AutoApproved  bool
	ApprovalScope models.ApprovalScope

	// error
	Err error
}

// OnLoopEvent receives loop callbacks. nil is allowed.
type OnLoopEvent func(LoopEvent)

// SendResult is the outcome of one SendMessage call.
type SendResult struct {
	// FinalText is the text of the last assistant message.
	FinalText string
	// Iterations is the number of provider calls performed.
	Iterations int
	// Cancelled reports that the loop stopped because of CancelMessage.
	Cancelled bool
	Usage     providers.Usage
}

// cancelledToolResultContent is appended for orphaned tool_use blocks.
const cancelledToolResultContent = "Operation cancelled by user"

// deniedToolResultContent is appended when a human denies a permission
// request.
const deniedToolResultContent = "User denied permission"
