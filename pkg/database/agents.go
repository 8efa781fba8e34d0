package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forge-ide/loom/pkg/models"
)

const agentColumns = `id, name, role, provider, model, system_prompt, tools, denied_tools,
	persona_id, agency, is_system, is_active, created_at, updated_at`

// CreateAgent inserts an agent definition. Used both for system agent
// seeding and user-defined agents.
func (c *Client) CreateAgent(ctx context.Context, a *models.Agent) error {
	toolsJSON, err := json.Marshal(emptyIfNil(a.Tools))
	if err != nil {
		return fmt.Errorf("failed to marshal agent tools: %w", err)
	}
	deniedJSON, err := json.Marshal(emptyIfNil(a.DeniedTools))
	if err != nil {
		return fmt.Errorf("failed to marshal agent denied tools: %w", err)
	}
	query := c.rebind(`
		INSERT INTO agents (` + agentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = c.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Role, a.Provider, a.Model, a.SystemPrompt, toolsJSON, deniedJSON,
		a.PersonaID, a.Agency, a.IsSystem, a.IsActive, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (c *Client) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	query := c.rebind(`SELECT ` + agentColumns + ` FROM agents WHERE id = ?`)
	return scanAgent(c.db.QueryRowContext(ctx, query, id))
}

// ListAgents returns all agents, system agents first, then by name.
func (c *Client) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	query := c.rebind(`SELECT ` + agentColumns + ` FROM agents ORDER BY is_system DESC, name ASC`)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent persists the mutable fields of an agent.
func (c *Client) UpdateAgent(ctx context.Context, a *models.Agent) error {
	toolsJSON, err := json.Marshal(emptyIfNil(a.Tools))
	if err != nil {
		return fmt.Errorf("failed to marshal agent tools: %w", err)
	}
	deniedJSON, err := json.Marshal(emptyIfNil(a.DeniedTools))
	if err != nil {
		return fmt.Errorf("failed to marshal agent denied tools: %w", err)
	}
	query := c.rebind(`
		UPDATE agents
		SET name = ?, role = ?, provider = ?, model = ?, system_prompt = ?, tools = ?,
		    denied_tools = ?, is_active = ?, updated_at = ?
		WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query,
		a.Name, a.Role, a.Provider, a.Model, a.SystemPrompt, toolsJSON,
		deniedJSON, a.IsActive, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent removes an agent definition.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, c.rebind(`DELETE FROM agents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAgent(row scanner) (*models.Agent, error) {
	var (
		a          models.Agent
		toolsJSON  []byte
		deniedJSON []byte
	)
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Provider, &a.Model, &a.SystemPrompt,
		&toolsJSON, &deniedJSON, &a.PersonaID, &a.Agency, &a.IsSystem, &a.IsActive,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	if err := unmarshalStrings(toolsJSON, &a.Tools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent tools: %w", err)
	}
	if err := unmarshalStrings(deniedJSON, &a.DeniedTools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent denied tools: %w", err)
	}
	return &a, nil
}
