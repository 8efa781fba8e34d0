package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/models"
)

// ContextService manages prompt-building context items and compaction
// records.
type ContextService struct {
	db *database.Client
}

// NewContextService creates a new ContextService
func NewContextService(db *database.Client) *ContextService {
	return &ContextService{db: db}
}

// AddItem appends an active context item for prompt building. Tokens is an
// advisory estimate (ceil of content length / 4).
func (s *ContextService) AddItem(httpCtx context.Context, executionID string, itemType models.ContextItemType, agentID, content string, iteration int) (*models.ContextItem, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	item := &models.ContextItem{
		ID:              uuid.New().String(),
		ExecutionID:     executionID,
		ItemType:        itemType,
		Content:         content,
		AgentID:         agentID,
		IterationNumber: iteration,
		IsActive:        true,
		IsComplete:      true,
		Tokens:          estimateTokens(content),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.CreateContextItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to add context item: %w", err)
	}
	return item, nil
}

// AddFeedbackItem appends a feedback context item with its source and rating.
func (s *ContextService) AddFeedbackItem(httpCtx context.Context, executionID, agentID, content, source, rating string, iteration int) (*models.ContextItem, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	item := &models.ContextItem{
		ID:              uuid.New().String(),
		ExecutionID:     executionID,
		ItemType:        models.ContextItemFeedback,
		Content:         content,
		AgentID:         agentID,
		FeedbackSource:  source,
		FeedbackRating:  rating,
		IterationNumber: iteration,
		IsActive:        true,
		IsComplete:      true,
		Tokens:          estimateTokens(content),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.CreateContextItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to add feedback context item: %w", err)
	}
	return item, nil
}

// ListActive returns the active context items in creation order; this is the
// working set the context window builder consumes.
func (s *ContextService) ListActive(ctx context.Context, executionID string) ([]*models.ContextItem, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	items, err := s.db.ListContextItems(ctx, executionID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list active context items: %w", err)
	}
	return items, nil
}

// ListAll returns every context item including compacted ones.
func (s *ContextService) ListAll(ctx context.Context, executionID string) ([]*models.ContextItem, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	items, err := s.db.ListContextItems(ctx, executionID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list context items: %w", err)
	}
	return items, nil
}

// Compact replaces a set of context items with one active summary item. The
// sources are deactivated with compacted_into_id pointing at the summary, in
// one transaction, preserving the compaction invariant.
func (s *ContextService) Compact(httpCtx context.Context, executionID, summary string, sourceIDs []string, iteration int) (*models.ContextItem, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	if len(sourceIDs) == 0 {
		return nil, NewValidationError("source_ids", "at least one source item required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	item := &models.ContextItem{
		ID:              uuid.New().String(),
		ExecutionID:     executionID,
		ItemType:        models.ContextItemCompaction,
		Content:         summary,
		IterationNumber: iteration,
		IsActive:        true,
		IsComplete:      true,
		Tokens:          estimateTokens(summary),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.CreateContextItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create compaction item: %w", err)
	}
	if err := s.db.DeactivateContextItems(ctx, sourceIDs, item.ID); err != nil {
		return nil, fmt.Errorf("failed to deactivate compacted items: %w", err)
	}
	return item, nil
}

// estimateTokens is the advisory character-based token estimate used across
// the core: ceil(len/4).
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}
