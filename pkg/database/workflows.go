package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forge-ide/loom/pkg/models"
)

const workflowColumns = `id, name, description, steps, max_iterations, default_agent_id, default_allowed_tools, created_at, updated_at`

// CreateWorkflow inserts a workflow definition.
func (c *Client) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	toolsJSON, err := json.Marshal(emptyIfNil(w.DefaultAllowedTools))
	if err != nil {
		return fmt.Errorf("failed to marshal default allowed tools: %w", err)
	}

	query := c.rebind(`
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = c.db.ExecContext(ctx, query,
		w.ID, w.Name, w.Description, stepsJSON, w.MaxIterations,
		w.DefaultAgentID, toolsJSON, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	query := c.rebind(`SELECT ` + workflowColumns + ` FROM workflows WHERE id = ?`)
	w, err := scanWorkflow(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ListWorkflows returns all workflow definitions, newest first.
func (c *Client) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	query := c.rebind(`SELECT ` + workflowColumns + ` FROM workflows ORDER BY created_at DESC`)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// UpdateWorkflow replaces the stored definition of a workflow.
func (c *Client) UpdateWorkflow(ctx context.Context, w *models.Workflow) error {
	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	toolsJSON, err := json.Marshal(emptyIfNil(w.DefaultAllowedTools))
	if err != nil {
		return fmt.Errorf("failed to marshal default allowed tools: %w", err)
	}

	query := c.rebind(`
		UPDATE workflows
		SET name = ?, description = ?, steps = ?, max_iterations = ?,
		    default_agent_id = ?, default_allowed_tools = ?, updated_at = ?
		WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query,
		w.Name, w.Description, stepsJSON, w.MaxIterations,
		w.DefaultAgentID, toolsJSON, w.UpdatedAt, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWorkflow removes a workflow definition. Executions keep their
// workflow_id reference; they are not cascaded.
func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	query := c.rebind(`DELETE FROM workflows WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		w         models.Workflow
		stepsJSON []byte
		toolsJSON []byte
	)
	err := row.Scan(&w.ID, &w.Name, &w.Description, &stepsJSON, &w.MaxIterations,
		&w.DefaultAgentID, &toolsJSON, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}
	if err := json.Unmarshal(stepsJSON, &w.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow steps: %w", err)
	}
	if err := unmarshalStrings(toolsJSON, &w.DefaultAllowedTools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default allowed tools: %w", err)
	}
	return &w, nil
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func unmarshalStrings(data []byte, dest *[]string) error {
	if len(data) == 0 {
		*dest = nil
		return nil
	}
	return json.Unmarshal(data, dest)
}
