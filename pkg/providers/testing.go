package providers

import (
	"context"
	"fmt"
	"sync"
)

// MockTurn scripts one provider turn for the mock.
type MockTurn struct {
	Text     string
	ToolUses []ContentBlock
	Stop     StopReason
	Err      error
	Usage    Usage
}

// Mock is a scripted Provider for tests. Turns are consumed in order;
// when the script runs out it keeps answering with the last turn (or a
// plain "ok" when no turns were scripted).
type Mock struct {
	ProviderID string
	sessionID  string

	mu        sync.Mutex
	turns     []MockTurn
	callCount int
	requests  []Request
	cancelled bool
}

// NewMock creates a mock provider with the given scripted turns.
func NewMock(turns ...MockTurn) *Mock {
	return &Mock{ProviderID: "mock", turns: turns}
}

func (m *Mock) ID() string {
	if m.ProviderID == "" {
		return "mock"
	}
	return m.ProviderID
}

func (m *Mock) Capabilities() Capabilities {
	return Capabilities{ToolUse: true, Streaming: true, SystemMessages: true, MaxContextTokens: 200000, MaxOutputTokens: 16384}
}

func (m *Mock) IsAvailable(ctx context.Context) bool { return true }

func (m *Mock) AvailableModels(ctx context.Context) ([]string, error) {
	return []string{"mock-model"}, nil
}

func (m *Mock) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = true
}

// Cancelled reports whether Cancel was called.
func (m *Mock) Cancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// CallCount reports how many turns were served.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Requests returns the requests seen so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *Mock) nextTurn(req Request) (MockTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := m.callCount
	m.callCount++
	if len(m.turns) == 0 {
		return MockTurn{Text: "ok", Stop: StopEndTurn}, nil
	}
	if idx >= len(m.turns) {
		idx = len(m.turns) - 1
	}
	turn := m.turns[idx]
	if turn.Err != nil {
		return MockTurn{}, turn.Err
	}
	return turn, nil
}

func (m *Mock) buildResponse(turn MockTurn) *Response {
	msg := ChatMessage{Role: RoleAssistant}
	if turn.Text != "" {
		msg.Blocks = append(msg.Blocks, ContentBlock{Type: BlockText, Text: turn.Text})
	}
	msg.Blocks = append(msg.Blocks, turn.ToolUses...)
	stop := turn.Stop
	if stop == "" {
		if len(turn.ToolUses) > 0 {
			stop = StopToolUse
		} else {
			stop = StopEndTurn
		}
	}
	return &Response{Message: msg, StopReason: stop, Usage: turn.Usage}
}

func (m *Mock) Chat(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mock chat: %w", err)
	}
	turn, err := m.nextTurn(req)
	if err != nil {
		return nil, err
	}
	return m.buildResponse(turn), nil
}

func (m *Mock) ChatStream(ctx context.Context, req Request, onEvent OnEvent) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mock chat stream: %w", err)
	}
	turn, err := m.nextTurn(req)
	if err != nil {
		return nil, err
	}
	if onEvent != nil {
		if turn.Text != "" {
			onEvent(StreamEvent{Type: StreamTextDelta, Text: turn.Text})
		}
		for i := range turn.ToolUses {
			block := turn.ToolUses[i]
			onEvent(StreamEvent{Type: StreamToolUseStart, ToolUse: &block})
			onEvent(StreamEvent{Type: StreamToolUseEnd, ToolUse: &block})
		}
		onEvent(StreamEvent{Type: StreamMessageEnd})
	}
	return m.buildResponse(turn), nil
}

// SessionID implements SessionResumer.
func (m *Mock) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// SetSessionID implements SessionResumer.
func (m *Mock) SetSessionID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = id
}
