package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/forge-ide/loom/pkg/models"
)

const nodeExecutionColumns = `id, execution_id, node_id, node_type, status, iteration_number,
	input, output, error_message, started_at, completed_at, duration_ms, tokens_in, tokens_out`

// CreateNodeExecution inserts a node execution row.
func (c *Client) CreateNodeExecution(ctx context.Context, n *models.NodeExecution) error {
	query := c.rebind(`
		INSERT INTO node_executions (` + nodeExecutionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query,
		n.ID, n.ExecutionID, n.NodeID, n.NodeType, n.Status, n.IterationNumber,
		n.Input, n.Output, n.ErrorMessage, nullTime(n.StartedAt), nullTime(n.CompletedAt),
		n.DurationMs, n.TokensIn, n.TokensOut)
	if err != nil {
		return fmt.Errorf("failed to create node execution: %w", err)
	}
	return nil
}

// GetNodeExecution retrieves a node execution by ID.
func (c *Client) GetNodeExecution(ctx context.Context, id string) (*models.NodeExecution, error) {
	query := c.rebind(`SELECT ` + nodeExecutionColumns + ` FROM node_executions WHERE id = ?`)
	return scanNodeExecution(c.db.QueryRowContext(ctx, query, id))
}

// UpdateNodeExecution persists the mutable fields of a node execution.
func (c *Client) UpdateNodeExecution(ctx context.Context, n *models.NodeExecution) error {
	query := c.rebind(`
		UPDATE node_executions
		SET status = ?, input = ?, output = ?, error_message = ?, started_at = ?,
		    completed_at = ?, duration_ms = ?, tokens_in = ?, tokens_out = ?
		WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query,
		n.Status, n.Input, n.Output, n.ErrorMessage, nullTime(n.StartedAt),
		nullTime(n.CompletedAt), n.DurationMs, n.TokensIn, n.TokensOut, n.ID)
	if err != nil {
		return fmt.Errorf("failed to update node execution: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListNodeExecutions returns all node executions of an execution ordered by
// (iteration_number, started_at).
func (c *Client) ListNodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	query := c.rebind(`
		SELECT ` + nodeExecutionColumns + ` FROM node_executions
		WHERE execution_id = ?
		ORDER BY iteration_number ASC, started_at ASC`)
	rows, err := c.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}
	defer rows.Close()

	var nodes []*models.NodeExecution
	for rows.Next() {
		n, err := scanNodeExecution(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// CompletedNodeIDs returns the set of node IDs completed in the given
// iteration of an execution.
func (c *Client) CompletedNodeIDs(ctx context.Context, executionID string, iteration int) (map[string]bool, error) {
	query := c.rebind(`
		SELECT node_id FROM node_executions
		WHERE execution_id = ? AND iteration_number = ? AND status = ?`)
	rows, err := c.db.QueryContext(ctx, query, executionID, iteration, models.NodeStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed nodes: %w", err)
	}
	defer rows.Close()

	completed := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan node id: %w", err)
		}
		completed[id] = true
	}
	return completed, rows.Err()
}

// GetCompletedNodeOutput returns the output of the completed attempt of a
// node in the given iteration, or ErrNotFound.
func (c *Client) GetCompletedNodeOutput(ctx context.Context, executionID, nodeID string, iteration int) (string, error) {
	query := c.rebind(`
		SELECT output FROM node_executions
		WHERE execution_id = ? AND node_id = ? AND iteration_number = ? AND status = ?
		ORDER BY completed_at DESC LIMIT 1`)
	var output string
	err := c.db.QueryRowContext(ctx, query, executionID, nodeID, iteration, models.NodeStatusCompleted).Scan(&output)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query node output: %w", err)
	}
	return output, nil
}

func scanNodeExecution(row scanner) (*models.NodeExecution, error) {
	var (
		n                      models.NodeExecution
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(&n.ID, &n.ExecutionID, &n.NodeID, &n.NodeType, &n.Status,
		&n.IterationNumber, &n.Input, &n.Output, &n.ErrorMessage,
		&startedAt, &completedAt, &n.DurationMs, &n.TokensIn, &n.TokensOut)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan node execution: %w", err)
	}
	n.StartedAt = timePtr(startedAt)
	n.CompletedAt = timePtr(completedAt)
	return &n, nil
}
