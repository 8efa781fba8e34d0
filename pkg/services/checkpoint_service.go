package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/models"
)

// CheckpointService manages pending human decisions
type CheckpointService struct {
	db *database.Client
}

// NewCheckpointService creates a new CheckpointService
func NewCheckpointService(db *database.Client) *CheckpointService {
	return &CheckpointService{db: db}
}

// CreateCheckpoint records a pending decision that blocks its execution in
// awaiting_input until decided.
func (s *CheckpointService) CreateCheckpoint(httpCtx context.Context, executionID, nodeExecutionID, checkpointType, prompt string, options []string) (*models.Checkpoint, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	if prompt == "" {
		return nil, NewValidationError("prompt_message", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cp := &models.Checkpoint{
		ID:              uuid.New().String(),
		ExecutionID:     executionID,
		NodeExecutionID: nodeExecutionID,
		CheckpointType:  checkpointType,
		PromptMessage:   prompt,
		Options:         options,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.CreateCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return cp, nil
}

// GetPendingCheckpoint returns the newest undecided checkpoint of an
// execution, or ErrNotFound.
func (s *CheckpointService) GetPendingCheckpoint(ctx context.Context, executionID string) (*models.Checkpoint, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	cp, err := s.db.GetPendingCheckpoint(ctx, executionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending checkpoint: %w", err)
	}
	return cp, nil
}

// Decide resolves a pending checkpoint. Deciding an already-decided
// checkpoint returns ErrConcurrentModification.
func (s *CheckpointService) Decide(httpCtx context.Context, checkpointID, decision, feedback string) (*models.Checkpoint, error) {
	if checkpointID == "" {
		return nil, NewValidationError("checkpoint_id", "required")
	}
	if decision == "" {
		return nil, NewValidationError("decision", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cp, err := s.db.GetCheckpoint(ctx, checkpointID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if !cp.Pending() {
		return nil, ErrConcurrentModification
	}
	if len(cp.Options) > 0 && !containsOption(cp.Options, decision) {
		return nil, NewValidationError("decision", fmt.Sprintf("must be one of %v", cp.Options))
	}

	if err := s.db.DecideCheckpoint(ctx, checkpointID, decision, feedback); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Lost the race: another decision landed between read and write.
			return nil, ErrConcurrentModification
		}
		return nil, fmt.Errorf("failed to decide checkpoint: %w", err)
	}

	now := time.Now().UTC()
	cp.Decision = decision
	cp.Feedback = feedback
	cp.DecidedAt = &now
	return cp, nil
}

func containsOption(options []string, decision string) bool {
	for _, o := range options {
		if o == decision {
			return true
		}
	}
	return false
}
