package models

import "time"

// Agent is a named configuration invoked as a reasoning role in a workflow.
// System agents are immutable.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         string    `json:"role,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt"`
	Tools        []string  `json:"tools,omitempty"`
	DeniedTools  []string  `json:"denied_tools,omitempty"`
	PersonaID    string    `json:"persona_id,omitempty"`
	Agency       string    `json:"agency,omitempty"`
	IsSystem     bool      `json:"is_system"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateAgentRequest contains fields for registering a custom agent.
type CreateAgentRequest struct {
	Name         string   `json:"name"`
	Role         string   `json:"role,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt"`
	Tools        []string `json:"tools,omitempty"`
	DeniedTools  []string `json:"denied_tools,omitempty"`
	PersonaID    string   `json:"persona_id,omitempty"`
	Agency       string   `json:"agency,omitempty"`
}

// UpdateAgentRequest contains optional fields for updating a custom agent.
// Nil fields are left unchanged.
type UpdateAgentRequest struct {
	Name         *string   `json:"name,omitempty"`
	Role         *string   `json:"role,omitempty"`
	Provider     *string   `json:"provider,omitempty"`
	Model        *string   `json:"model,omitempty"`
	SystemPrompt *string   `json:"system_prompt,omitempty"`
	Tools        *[]string `json:"tools,omitempty"`
	DeniedTools  *[]string `json:"denied_tools,omitempty"`
	IsActive     *bool     `json:"is_active,omitempty"`
}
