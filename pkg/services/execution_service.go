package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
)

// ExecutionService manages workflow execution lifecycle records
type ExecutionService struct {
	db        *database.Client
	publisher *events.Publisher
}

// NewExecutionService creates a new ExecutionService
func NewExecutionService(db *database.Client, publisher *events.Publisher) *ExecutionService {
	return &ExecutionService{db: db, publisher: publisher}
}

// CreateExecution creates a pending execution for a workflow. The queue
// claims it and begins stepping.
func (s *ExecutionService) CreateExecution(httpCtx context.Context, req models.CreateExecutionRequest) (*models.Execution, error) {
	if req.WorkflowID == "" {
		return nil, NewValidationError("workflow_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wf, err := s.db.GetWorkflow(ctx, req.WorkflowID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	exec := &models.Execution{
		ID:             uuid.New().String(),
		WorkflowID:     wf.ID,
		Status:         models.ExecutionStatusPending,
		IterationCount: 0,
		MaxIterations:  wf.MaxIterations,
		InitialInput:   req.InitialInput,
		WorkingDir:     req.WorkingDir,
		CreatedAt:      time.Now().UTC(),
	}
	if exec.MaxIterations <= 0 {
		exec.MaxIterations = models.DefaultMaxIterations
	}
	if err := s.db.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	slog.Info("Execution created", "execution_id", exec.ID, "workflow_id", wf.ID)
	s.publisher.PublishActivity(ctx, exec.ID, events.ActivityExecutionCreated, "")
	return exec, nil
}

// GetExecution retrieves an execution by ID
func (s *ExecutionService) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	exec, err := s.db.GetExecution(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// ListExecutions returns a filtered, paginated execution list
func (s *ExecutionService) ListExecutions(ctx context.Context, f models.ExecutionFilters) (*models.ExecutionListResponse, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	executions, total, err := s.db.ListExecutions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return &models.ExecutionListResponse{
		Executions: executions,
		TotalCount: total,
		Limit:      f.Limit,
		Offset:     f.Offset,
	}, nil
}

// UpdateStatus transitions an execution and stamps terminal timestamps.
func (s *ExecutionService) UpdateStatus(httpCtx context.Context, id string, status models.ExecutionStatus, errorMessage string) (*models.Execution, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exec, err := s.db.GetExecution(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	exec.Status = status
	exec.ErrorMessage = errorMessage
	now := time.Now().UTC()
	if status.IsTerminal() && exec.CompletedAt == nil {
		exec.CompletedAt = &now
	}
	if err := s.db.UpdateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to update execution: %w", err)
	}

	s.publisher.PublishActivity(ctx, exec.ID, events.ActivityStatusChanged, string(status))
	return exec, nil
}

// Save persists scheduler-side mutations (current node, iteration count,
// final output, heartbeat timestamps) without a status transition event.
func (s *ExecutionService) Save(httpCtx context.Context, exec *models.Execution) error {
	if exec == nil || exec.ID == "" {
		return NewValidationError("id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// DeleteExecution removes an execution and, via cascade, its node
// executions, messages, checkpoints, feedback, panels, and tool calls.
func (s *ExecutionService) DeleteExecution(httpCtx context.Context, id string) error {
	if id == "" {
		return NewValidationError("id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exec, err := s.db.GetExecution(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get execution: %w", err)
	}
	if exec.Status == models.ExecutionStatusRunning {
		return NewValidationError("status", "cannot delete a running execution")
	}

	if err := s.db.DeleteExecution(ctx, id); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	if _, err := s.db.DeleteEventsForExecution(ctx, id); err != nil {
		slog.Warn("Failed to clean up execution events", "execution_id", id, "error", err)
	}
	slog.Info("Execution deleted", "execution_id", id)
	return nil
}
