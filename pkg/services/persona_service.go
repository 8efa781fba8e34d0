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

// PersonaService manages reusable personality fragments referenced by
// agents via PersonaID.
type PersonaService struct {
	db *database.Client
}

// NewPersonaService creates a new PersonaService
func NewPersonaService(db *database.Client) *PersonaService {
	return &PersonaService{db: db}
}

// CreatePersona registers a persona
func (s *PersonaService) CreatePersona(httpCtx context.Context, req models.CreatePersonaRequest) (*models.Persona, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if req.Prompt == "" {
		return nil, NewValidationError("prompt", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	persona := &models.Persona{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Prompt:      req.Prompt,
		Traits:      req.Traits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.CreatePersona(ctx, persona); err != nil {
		return nil, fmt.Errorf("failed to create persona: %w", err)
	}
	return persona, nil
}

// GetPersona retrieves a persona by ID
func (s *PersonaService) GetPersona(ctx context.Context, id string) (*models.Persona, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	persona, err := s.db.GetPersona(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}
	return persona, nil
}

// ListPersonas returns all personas ordered by name
func (s *PersonaService) ListPersonas(ctx context.Context) ([]*models.Persona, error) {
	personas, err := s.db.ListPersonas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	return personas, nil
}

// UpdatePersona replaces the mutable fields of a persona
func (s *PersonaService) UpdatePersona(httpCtx context.Context, id string, req models.CreatePersonaRequest) (*models.Persona, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if req.Prompt == "" {
		return nil, NewValidationError("prompt", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	persona, err := s.db.GetPersona(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}

	persona.Name = req.Name
	persona.Description = req.Description
	persona.Prompt = req.Prompt
	persona.Traits = req.Traits
	persona.UpdatedAt = time.Now().UTC()

	if err := s.db.UpdatePersona(ctx, persona); err != nil {
		return nil, fmt.Errorf("failed to update persona: %w", err)
	}
	return persona, nil
}

// DeletePersona removes a persona. Agents referencing it keep their
// PersonaID; prompt composition simply skips a missing persona.
func (s *PersonaService) DeletePersona(httpCtx context.Context, id string) error {
	if id == "" {
		return NewValidationError("id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.DeletePersona(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete persona: %w", err)
	}
	return nil
}
