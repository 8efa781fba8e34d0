package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/models"
)

// FeedbackService manages the queue of reviewer and user feedback waiting to
// be addressed by later iterations.
type FeedbackService struct {
	db *database.Client
}

// NewFeedbackService creates a new FeedbackService
func NewFeedbackService(db *database.Client) *FeedbackService {
	return &FeedbackService{db: db}
}

// Queue adds a feedback item referencing a context item.
func (s *FeedbackService) Queue(httpCtx context.Context, executionID, contextItemID string, priority int, trigger models.SurfaceTrigger) (*models.FeedbackQueueItem, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	if contextItemID == "" {
		return nil, NewValidationError("context_item_id", "required")
	}
	if trigger == "" {
		trigger = models.SurfaceIterationEnd
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	item := &models.FeedbackQueueItem{
		ID:             uuid.New().String(),
		ExecutionID:    executionID,
		ContextItemID:  contextItemID,
		Status:         models.FeedbackQueued,
		Priority:       priority,
		SurfaceTrigger: trigger,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.CreateFeedbackItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to queue feedback: %w", err)
	}
	return item, nil
}

// Pending returns queued feedback for an execution, highest priority first.
func (s *FeedbackService) Pending(ctx context.Context, executionID string) ([]*models.FeedbackQueueItem, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	items, err := s.db.ListFeedbackItems(ctx, executionID, models.FeedbackQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending feedback: %w", err)
	}
	return items, nil
}

// List returns all feedback items for an execution regardless of status.
func (s *FeedbackService) List(ctx context.Context, executionID string) ([]*models.FeedbackQueueItem, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	items, err := s.db.ListFeedbackItems(ctx, executionID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return items, nil
}

// SetStatus transitions a feedback item (addressed, dismissed, pending_review).
func (s *FeedbackService) SetStatus(httpCtx context.Context, id string, status models.FeedbackStatus) error {
	if id == "" {
		return NewValidationError("id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.UpdateFeedbackStatus(ctx, id, status); err != nil {
		return fmt.Errorf("failed to update feedback status: %w", err)
	}
	return nil
}
