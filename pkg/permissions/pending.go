package permissions

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
)

// PendingRequest is a tool invocation waiting for a human decision.
type PendingRequest struct {
	ID          string         `json:"id"`
	ToolName    string         `json:"tool_name"`
	Input       map[string]any `json:"input,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Resolution is the decision delivered to the goroutine waiting on a
// pending request.
type Resolution struct {
	Approved  bool
	Scope     models.ApprovalScope
	Message   string
	DecidedAt time.Time
}

// pendingRequest pairs a request with its one-shot result channel.
type pendingRequest struct {
	request *PendingRequest
	done    chan Resolution
	timer   *time.Timer
}

// Request registers a pending approval request and returns a one-shot
// channel carrying the decision. The request resolves as denied when
// nobody decides before the configured timeout. Callers should also watch
// their own context while waiting.
func (s *Service) Request(toolName string, input map[string]any, sessionID, agentID, executionID string) (*PendingRequest, <-chan Resolution, error) {
	now := time.Now().UTC()
	req := &PendingRequest{
		ID:          uuid.New().String(),
		ToolName:    toolName,
		Input:       input,
		SessionID:   sessionID,
		AgentID:     agentID,
		ExecutionID: executionID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.requestTimeout),
	}
	pr := &pendingRequest{
		request: req,
		done:    make(chan Resolution, 1),
	}

	s.pendingMu.Lock()
	if len(s.pending) >= s.maxPending {
		s.pendingMu.Unlock()
		return nil, nil, ErrMaxPendingExceeded
	}
	s.pending[req.ID] = pr
	s.pendingMu.Unlock()

	pr.timer = time.AfterFunc(s.requestTimeout, func() {
		s.resolveTimeout(req.ID)
	})

	slog.Info("Approval request created",
		"request_id", req.ID, "tool", toolName, "session_id", sessionID, "agent_id", agentID)

	if s.publisher != nil {
		s.publisher.PublishPermissionRequested(context.Background(), events.PermissionRequestedPayload{
			RequestID: req.ID,
			ToolName:  toolName,
			Input:     input,
			SessionID: sessionID,
			AgentID:   agentID,
		})
	}

	return req, pr.done, nil
}

// Approve resolves a pending request positively. Scope session or folder
// additionally records a grant so the next check passes without asking;
// scope once leaves no record.
func (s *Service) Approve(requestID string, scope models.ApprovalScope, folderPath string) error {
	if scope == models.ScopeFolder && folderPath == "" {
		return ErrFolderPathRequired
	}

	pr, ok := s.takePending(requestID)
	if !ok {
		return ErrRequestNotFound
	}

	switch scope {
	case models.ScopeSession:
		s.AddSession(pr.request.SessionID, pr.request.ToolName, nil)
	case models.ScopeFolder:
		if _, err := s.AddFolder(folderPath, pr.request.ToolName, nil); err != nil {
			slog.Warn("Failed to record folder grant for approval",
				"request_id", requestID, "error", err)
		}
	}

	slog.Info("Approval request approved",
		"request_id", requestID, "tool", pr.request.ToolName, "scope", scope)
	if s.publisher != nil {
		s.publisher.PublishPermissionResolved(context.Background(), requestID, true)
	}

	s.deliver(pr, Resolution{Approved: true, Scope: scope, DecidedAt: time.Now().UTC()})
	return nil
}

// Deny resolves a pending request negatively.
func (s *Service) Deny(requestID string) error {
	pr, ok := s.takePending(requestID)
	if !ok {
		return ErrRequestNotFound
	}

	slog.Info("Approval request denied", "request_id", requestID, "tool", pr.request.ToolName)
	if s.publisher != nil {
		s.publisher.PublishPermissionResolved(context.Background(), requestID, false)
	}

	s.deliver(pr, Resolution{Approved: false, Message: "denied by user", DecidedAt: time.Now().UTC()})
	return nil
}

// resolveTimeout denies a request nobody decided in time.
func (s *Service) resolveTimeout(requestID string) {
	pr, ok := s.takePending(requestID)
	if !ok {
		return
	}

	slog.Warn("Approval request timed out", "request_id", requestID, "tool", pr.request.ToolName)
	if s.publisher != nil {
		s.publisher.PublishPermissionResolved(context.Background(), requestID, false)
	}

	s.deliver(pr, Resolution{Approved: false, Message: "approval request timed out", DecidedAt: time.Now().UTC()})
}

// GetPendingRequest returns a pending request by ID.
func (s *Service) GetPendingRequest(requestID string) (*PendingRequest, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if pr, ok := s.pending[requestID]; ok {
		return pr.request, true
	}
	return nil, false
}

// PendingRequests returns the open requests, oldest first.
func (s *Service) PendingRequests() []*PendingRequest {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	out := make([]*PendingRequest, 0, len(s.pending))
	for _, pr := range s.pending {
		out = append(out, pr.request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close denies every open request. Called on shutdown so no session loop
// is left waiting.
func (s *Service) Close() {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[string]*pendingRequest)
	s.pendingMu.Unlock()

	for _, pr := range pending {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		select {
		case pr.done <- Resolution{Approved: false, Message: "shutting down", DecidedAt: time.Now().UTC()}:
		default:
		}
	}
}

// takePending removes a request from the pending set and stops its timer.
func (s *Service) takePending(requestID string) (*pendingRequest, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	pr, ok := s.pending[requestID]
	if !ok {
		return nil, false
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	delete(s.pending, requestID)
	return pr, true
}

// deliver sends a resolution without ever blocking. The channel is
// buffered; a second send after resolution is dropped.
func (s *Service) deliver(pr *pendingRequest, res Resolution) {
	select {
	case pr.done <- res:
	default:
	}
}
