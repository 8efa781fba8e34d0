// Package services contains business logic service layer implementations.
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

// WorkflowService manages workflow definitions
type WorkflowService struct {
	db *database.Client
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(db *database.Client) *WorkflowService {
	return &WorkflowService{db: db}
}

// CreateWorkflow validates and stores a workflow definition
func (s *WorkflowService) CreateWorkflow(httpCtx context.Context, req models.CreateWorkflowRequest) (*models.Workflow, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if len(req.Steps) == 0 {
		return nil, NewValidationError("steps", "at least one step required")
	}
	if err := validateSteps(req.Steps); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = models.DefaultMaxIterations
	}

	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:                  uuid.New().String(),
		Name:                req.Name,
		Description:         req.Description,
		Steps:               req.Steps,
		MaxIterations:       maxIterations,
		DefaultAgentID:      req.DefaultAgentID,
		DefaultAllowedTools: req.DefaultAllowedTools,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.db.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	return wf, nil
}

// GetWorkflow retrieves a workflow by ID
func (s *WorkflowService) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	wf, err := s.db.GetWorkflow(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflows returns all stored workflow definitions
func (s *WorkflowService) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	wfs, err := s.db.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return wfs, nil
}

// UpdateWorkflow replaces the definition of an existing workflow
func (s *WorkflowService) UpdateWorkflow(httpCtx context.Context, id string, req models.CreateWorkflowRequest) (*models.Workflow, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if len(req.Steps) == 0 {
		return nil, NewValidationError("steps", "at least one step required")
	}
	if err := validateSteps(req.Steps); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wf, err := s.db.GetWorkflow(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	wf.Name = req.Name
	wf.Description = req.Description
	wf.Steps = req.Steps
	if req.MaxIterations > 0 {
		wf.MaxIterations = req.MaxIterations
	}
	wf.DefaultAgentID = req.DefaultAgentID
	wf.DefaultAllowedTools = req.DefaultAllowedTools
	wf.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	return wf, nil
}

// DeleteWorkflow removes a workflow definition
func (s *WorkflowService) DeleteWorkflow(httpCtx context.Context, id string) error {
	if id == "" {
		return NewValidationError("id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.db.DeleteWorkflow(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

// validateSteps checks structural integrity of a step graph: unique IDs,
// known node types, and edge references that resolve to defined steps.
func validateSteps(steps []models.WorkflowStep) error {
	ids := make(map[string]bool, len(steps))
	for i, step := range steps {
		if step.ID == "" {
			return NewValidationError("steps", fmt.Sprintf("step %d: id required", i))
		}
		if ids[step.ID] {
			return NewValidationError("steps", fmt.Sprintf("duplicate step id %q", step.ID))
		}
		ids[step.ID] = true
		if !models.KnownNodeTypes[step.Type] {
			return NewValidationError("steps", fmt.Sprintf("step %q: unknown type %q", step.ID, step.Type))
		}
	}
	for _, step := range steps {
		for _, dep := range step.Depends {
			if !ids[dep] {
				return NewValidationError("steps", fmt.Sprintf("step %q: depends on undefined step %q", step.ID, dep))
			}
		}
		if step.Branches != nil {
			if step.Branches.True != "" && !ids[step.Branches.True] {
				return NewValidationError("steps", fmt.Sprintf("step %q: true branch references undefined step %q", step.ID, step.Branches.True))
			}
			if step.Branches.False != "" && !ids[step.Branches.False] {
				return NewValidationError("steps", fmt.Sprintf("step %q: false branch references undefined step %q", step.ID, step.Branches.False))
			}
		}
	}
	return nil
}
