package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forge-ide/loom/pkg/models"
)

const personaColumns = `id, name, description, prompt, traits, created_at, updated_at`

// CreatePersona inserts a persona definition.
func (c *Client) CreatePersona(ctx context.Context, p *models.Persona) error {
	traitsJSON, err := json.Marshal(emptyIfNil(p.Traits))
	if err != nil {
		return fmt.Errorf("failed to marshal persona traits: %w", err)
	}
	query := c.rebind(`
		INSERT INTO personas (` + personaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = c.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Description, p.Prompt, traitsJSON, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create persona: %w", err)
	}
	return nil
}

// GetPersona retrieves a persona by ID.
func (c *Client) GetPersona(ctx context.Context, id string) (*models.Persona, error) {
	query := c.rebind(`SELECT ` + personaColumns + ` FROM personas WHERE id = ?`)
	return scanPersona(c.db.QueryRowContext(ctx, query, id))
}

// ListPersonas returns all personas by name.
func (c *Client) ListPersonas(ctx context.Context) ([]*models.Persona, error) {
	query := c.rebind(`SELECT ` + personaColumns + ` FROM personas ORDER BY name ASC`)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query personas: %w", err)
	}
	defer rows.Close()

	var personas []*models.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

// UpdatePersona persists the mutable fields of a persona.
func (c *Client) UpdatePersona(ctx context.Context, p *models.Persona) error {
	traitsJSON, err := json.Marshal(emptyIfNil(p.Traits))
	if err != nil {
		return fmt.Errorf("failed to marshal persona traits: %w", err)
	}
	query := c.rebind(`
		UPDATE personas
		SET name = ?, description = ?, prompt = ?, traits = ?, updated_at = ?
		WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query,
		p.Name, p.Description, p.Prompt, traitsJSON, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePersona removes a persona definition.
func (c *Client) DeletePersona(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, c.rebind(`DELETE FROM personas WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPersona(row scanner) (*models.Persona, error) {
	var (
		p          models.Persona
		traitsJSON []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Prompt, &traitsJSON,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan persona: %w", err)
	}
	if err := unmarshalStrings(traitsJSON, &p.Traits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal persona traits: %w", err)
	}
	return &p, nil
}
