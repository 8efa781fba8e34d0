package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/models"
)

// AgentService is the registry of agent definitions. System agents are
// seeded at startup and immutable: update and delete silently no-op on them.
type AgentService struct {
	db *database.Client
}

// NewAgentService creates a new AgentService
func NewAgentService(db *database.Client) *AgentService {
	return &AgentService{db: db}
}

// systemAgents are the built-in definitions seeded on startup. IDs are
// stable so workflows can reference them by name.
var systemAgents = []models.Agent{
	{
		ID:           "assistant",
		Name:         "Assistant",
		Role:         "general",
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "You are a helpful software development assistant working inside the user's IDE.",
	},
	{
		ID:           "coder",
		Name:         "Coder",
		Role:         "implementation",
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "You are an expert programmer. Implement the requested changes precisely, using the available tools to read and modify files.",
	},
	{
		ID:           "code-reviewer",
		Name:         "Code Reviewer",
		Role:         "review",
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "You are a meticulous code reviewer. Examine changes for correctness, safety, and maintainability, and report concrete issues.",
	},
	{
		ID:           "architect",
		Name:         "Architect",
		Role:         "design",
		Model:        "claude-opus-4-1",
		SystemPrompt: "You are a software architect. Produce clear designs and plans before any implementation begins.",
	},
}

// EnsureSystemAgents seeds the built-in agents that do not yet exist.
// Existing rows are left untouched so operators can adjust models via
// direct DB edits without fighting the seeder.
func (s *AgentService) EnsureSystemAgents(httpCtx context.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, def := range systemAgents {
		_, err := s.db.GetAgent(ctx, def.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("failed to check system agent %s: %w", def.ID, err)
		}

		now := time.Now().UTC()
		agent := def
		agent.IsSystem = true
		agent.IsActive = true
		agent.CreatedAt = now
		agent.UpdatedAt = now
		if err := s.db.CreateAgent(ctx, &agent); err != nil {
			return fmt.Errorf("failed to seed system agent %s: %w", def.ID, err)
		}
		slog.Info("Seeded system agent", "agent_id", agent.ID)
	}
	return nil
}

// GetAgent retrieves an agent by ID
func (s *AgentService) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	agent, err := s.db.GetAgent(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all registered agents, system agents first
func (s *AgentService) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	agents, err := s.db.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}

// CreateAgent registers a custom agent
func (s *AgentService) CreateAgent(httpCtx context.Context, req models.CreateAgentRequest) (*models.Agent, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if req.Model == "" {
		return nil, NewValidationError("model", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	agent := &models.Agent{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Role:         req.Role,
		Provider:     req.Provider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Tools:        req.Tools,
		DeniedTools:  req.DeniedTools,
		PersonaID:    req.PersonaID,
		Agency:       req.Agency,
		IsSystem:     false,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return agent, nil
}

// UpdateAgent applies the non-nil fields of req to a custom agent. Updates
// to system agents silently no-op and return the unchanged agent.
func (s *AgentService) UpdateAgent(httpCtx context.Context, id string, req models.UpdateAgentRequest) (*models.Agent, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agent, err := s.db.GetAgent(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent.IsSystem {
		return agent, nil
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Role != nil {
		agent.Role = *req.Role
	}
	if req.Provider != nil {
		agent.Provider = *req.Provider
	}
	if req.Model != nil {
		agent.Model = *req.Model
	}
	if req.SystemPrompt != nil {
		agent.SystemPrompt = *req.SystemPrompt
	}
	if req.Tools != nil {
		agent.Tools = *req.Tools
	}
	if req.DeniedTools != nil {
		agent.DeniedTools = *req.DeniedTools
	}
	if req.IsActive != nil {
		agent.IsActive = *req.IsActive
	}
	agent.UpdatedAt = time.Now().UTC()

	if err := s.db.UpdateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	return agent, nil
}

// DeleteAgent removes a custom agent. Deletes of system agents silently
// no-op.
func (s *AgentService) DeleteAgent(httpCtx context.Context, id string) error {
	if id == "" {
		return NewValidationError("id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agent, err := s.db.GetAgent(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}
	if agent.IsSystem {
		return ErrImmutable
	}

	if err := s.db.DeleteAgent(ctx, id); err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return nil
}

// DuplicateAgent returns a mutable copy of an agent under a new name. The
// copy is never a system agent, whatever the source was.
func (s *AgentService) DuplicateAgent(httpCtx context.Context, id, newName string) (*models.Agent, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	if newName == "" {
		return nil, NewValidationError("name", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src, err := s.db.GetAgent(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	now := time.Now().UTC()
	dup := *src
	dup.ID = uuid.New().String()
	dup.Name = newName
	dup.IsSystem = false
	dup.IsActive = true
	dup.CreatedAt = now
	dup.UpdatedAt = now
	if err := s.db.CreateAgent(ctx, &dup); err != nil {
		return nil, fmt.Errorf("failed to duplicate agent: %w", err)
	}
	return &dup, nil
}
