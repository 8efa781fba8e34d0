package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/models"
)

// ToolCallService records tool invocations for auditing and UI display
type ToolCallService struct {
	db *database.Client
}

// NewToolCallService creates a new ToolCallService
func NewToolCallService(db *database.Client) *ToolCallService {
	return &ToolCallService{db: db}
}

// Record stores a running tool call and returns its ID.
func (s *ToolCallService) Record(httpCtx context.Context, tc *models.ToolCallRecord) (*models.ToolCallRecord, error) {
	if tc.ToolName == "" {
		return nil, NewValidationError("tool_name", "required")
	}
	if tc.Caller.Type == "" {
		tc.Caller.Type = models.CallerAgent
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tc.ID = uuid.New().String()
	tc.Status = models.ToolCallRunning
	tc.StartedAt = time.Now().UTC()
	if err := s.db.CreateToolCall(ctx, tc); err != nil {
		return nil, fmt.Errorf("failed to record tool call: %w", err)
	}
	return tc, nil
}

// Complete finalizes a tool call with its outcome.
func (s *ToolCallService) Complete(httpCtx context.Context, id string, status models.ToolCallStatus, output, errMsg string, started time.Time) error {
	if id == "" {
		return NewValidationError("id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	durationMs := time.Since(started).Milliseconds()
	if err := s.db.CompleteToolCall(ctx, id, status, output, errMsg, durationMs); err != nil {
		return fmt.Errorf("failed to complete tool call: %w", err)
	}
	return nil
}

// ListForExecution returns the tool calls of an execution, oldest first.
func (s *ToolCallService) ListForExecution(ctx context.Context, executionID string) ([]*models.ToolCallRecord, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	calls, err := s.db.ListToolCalls(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool calls: %w", err)
	}
	return calls, nil
}

// ListForSession returns the tool calls made within a chat session.
func (s *ToolCallService) ListForSession(ctx context.Context, sessionID string) ([]*models.ToolCallRecord, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	calls, err := s.db.ListSessionToolCalls(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session tool calls: %w", err)
	}
	return calls, nil
}
