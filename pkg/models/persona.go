package models

import "time"

// Persona is a reusable personality fragment composed into agent system
// prompts via Agent.PersonaID.
type Persona struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Prompt      string    `json:"prompt"`
	Traits      []string  `json:"traits,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreatePersonaRequest contains fields for registering a persona.
type CreatePersonaRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Prompt      string   `json:"prompt"`
	Traits      []string `json:"traits,omitempty"`
}
