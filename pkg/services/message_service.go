package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
)

// MessageService manages chat-visible execution messages, including the
// streaming lifecycle used by agent nodes.
type MessageService struct {
	db        *database.Client
	publisher *events.Publisher
}

// NewMessageService creates a new MessageService
func NewMessageService(db *database.Client, publisher *events.Publisher) *MessageService {
	return &MessageService{db: db, publisher: publisher}
}

// AddMessage stores a complete message (user or system content that does not
// stream).
func (s *MessageService) AddMessage(httpCtx context.Context, executionID string, role models.MessageRole, agentID, content string) (*models.Message, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	if content == "" {
		return nil, NewValidationError("content", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := &models.Message{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Role:        role,
		AgentID:     agentID,
		Content:     content,
		IsComplete:  true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	return msg, nil
}

// StartStreamingMessage creates an empty incomplete message for a streaming
// agent response and announces it.
func (s *MessageService) StartStreamingMessage(httpCtx context.Context, executionID, agentID, nodeExecutionID string) (*models.Message, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := &models.Message{
		ID:              uuid.New().String(),
		ExecutionID:     executionID,
		Role:            models.MessageRoleAgent,
		AgentID:         agentID,
		NodeExecutionID: nodeExecutionID,
		IsComplete:      false,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to start streaming message: %w", err)
	}

	s.publisher.PublishMessageStarted(ctx, executionID, events.MessageStartedPayload{
		MessageID: msg.ID,
		AgentID:   agentID,
	})
	return msg, nil
}

// AppendStreamContent persists the accumulated content of a streaming
// message and dispatches the delta to live subscribers.
func (s *MessageService) AppendStreamContent(httpCtx context.Context, msg *models.Message, fullContent, delta string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg.Content = fullContent
	if err := s.db.UpdateMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to update streaming message: %w", err)
	}
	s.publisher.PublishMessageDelta(msg.ExecutionID, msg.ID, delta)
	return nil
}

// CompleteMessage marks a streaming message complete with its final content
// and iteration flags.
func (s *MessageService) CompleteMessage(httpCtx context.Context, msg *models.Message, content string, toolUseIteration, finalIteration bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg.Content = content
	msg.IsComplete = true
	msg.IsToolUseIteration = toolUseIteration
	msg.IsFinalIteration = finalIteration
	if err := s.db.UpdateMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to complete message: %w", err)
	}

	s.publisher.PublishMessageCompleted(ctx, msg.ExecutionID, events.MessageCompletedPayload{
		MessageID:          msg.ID,
		Content:            content,
		IsToolUseIteration: toolUseIteration,
		IsFinalIteration:   finalIteration,
	})
	return nil
}

// GetMessage retrieves one message by ID.
func (s *MessageService) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	msg, err := s.db.GetMessage(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the execution transcript in creation order.
func (s *MessageService) ListMessages(ctx context.Context, executionID string) ([]*models.Message, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	msgs, err := s.db.ListMessages(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}
