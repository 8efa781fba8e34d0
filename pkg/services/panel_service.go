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

// PanelService persists review panel runs and their votes
type PanelService struct {
	db        *database.Client
	publisher *events.Publisher
}

// NewPanelService creates a new PanelService
func NewPanelService(db *database.Client, publisher *events.Publisher) *PanelService {
	return &PanelService{db: db, publisher: publisher}
}

// CreatePanel stores a running panel record and announces it.
func (s *PanelService) CreatePanel(httpCtx context.Context, executionID, nodeExecutionID string, config *models.ReviewPanelConfig) (*models.ReviewPanel, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	if config == nil || len(config.Reviewers) == 0 {
		return nil, NewValidationError("config", "at least one reviewer required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	panel := &models.ReviewPanel{
		ID:              uuid.New().String(),
		ExecutionID:     executionID,
		NodeExecutionID: nodeExecutionID,
		Config:          config,
		Status:          models.PanelStatusRunning,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.CreateReviewPanel(ctx, panel); err != nil {
		return nil, fmt.Errorf("failed to create review panel: %w", err)
	}

	reviewers := make([]string, 0, len(config.Reviewers))
	for _, r := range config.Reviewers {
		reviewers = append(reviewers, r.AgentID)
	}
	s.publisher.PublishPanelStarted(ctx, executionID, events.PanelStartedPayload{
		PanelID:   panel.ID,
		Reviewers: reviewers,
	})
	return panel, nil
}

// AddVote records a reviewer's vote, replacing any earlier vote from the
// same reviewer on the same panel.
func (s *PanelService) AddVote(httpCtx context.Context, panel *models.ReviewPanel, vote *models.ReviewVote) error {
	if vote.Reviewer == "" {
		return NewValidationError("reviewer_id", "required")
	}
	if vote.Vote == "" {
		return NewValidationError("vote", "required")
	}
	if vote.Weight <= 0 {
		vote.Weight = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	vote.ID = uuid.New().String()
	vote.PanelID = panel.ID
	vote.CreatedAt = time.Now().UTC()
	if err := s.db.UpsertReviewVote(ctx, vote); err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}

	s.publisher.PublishPanelVote(ctx, panel.ExecutionID, panel.ID, vote.Reviewer, vote.Vote)
	return nil
}

// CompletePanel finalizes a panel with its aggregated outcome and summary.
func (s *PanelService) CompletePanel(httpCtx context.Context, panel *models.ReviewPanel, outcome models.ReviewOutcome, summary string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	panel.Status = models.PanelStatusCompleted
	panel.Outcome = outcome
	panel.Summary = summary
	panel.CompletedAt = &now
	if err := s.db.UpdateReviewPanel(ctx, panel); err != nil {
		return fmt.Errorf("failed to complete review panel: %w", err)
	}

	s.publisher.PublishPanelCompleted(ctx, panel.ExecutionID, panel.ID, outcome, summary)
	return nil
}

// GetPanel retrieves a panel record by ID.
func (s *PanelService) GetPanel(ctx context.Context, id string) (*models.ReviewPanel, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	panel, err := s.db.GetReviewPanel(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review panel: %w", err)
	}
	return panel, nil
}

// ListVotes returns the votes of a panel in arrival order.
func (s *PanelService) ListVotes(ctx context.Context, panelID string) ([]*models.ReviewVote, error) {
	if panelID == "" {
		return nil, NewValidationError("panel_id", "required")
	}
	votes, err := s.db.ListReviewVotes(ctx, panelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	return votes, nil
}
