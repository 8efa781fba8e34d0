package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/forge-ide/loom/pkg/models"
)

// The messages table holds both chat-visible messages (kind='message') and
// prompt-building context items (kind='context').
const (
	kindMessage = "message"
	kindContext = "context"
)

// CreateMessage inserts a chat-visible message.
func (c *Client) CreateMessage(ctx context.Context, m *models.Message) error {
	query := c.rebind(`
		INSERT INTO messages (id, execution_id, kind, role, agent_id, content, node_execution_id,
			is_complete, is_tool_use_iteration, is_final_iteration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query,
		m.ID, m.ExecutionID, kindMessage, m.Role, m.AgentID, m.Content, m.NodeExecutionID,
		m.IsComplete, m.IsToolUseIteration, m.IsFinalIteration, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// UpdateMessage persists content and completion flags of a message.
func (c *Client) UpdateMessage(ctx context.Context, m *models.Message) error {
	query := c.rebind(`
		UPDATE messages
		SET content = ?, is_complete = ?, is_tool_use_iteration = ?, is_final_iteration = ?
		WHERE id = ? AND kind = ?`)
	res, err := c.db.ExecContext(ctx, query,
		m.Content, m.IsComplete, m.IsToolUseIteration, m.IsFinalIteration, m.ID, kindMessage)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (c *Client) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	query := c.rebind(`
		SELECT id, execution_id, role, agent_id, content, node_execution_id,
			is_complete, is_tool_use_iteration, is_final_iteration, created_at
		FROM messages WHERE id = ? AND kind = ?`)
	var m models.Message
	err := c.db.QueryRowContext(ctx, query, id, kindMessage).Scan(
		&m.ID, &m.ExecutionID, &m.Role, &m.AgentID, &m.Content, &m.NodeExecutionID,
		&m.IsComplete, &m.IsToolUseIteration, &m.IsFinalIteration, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

// ListMessages returns the canonical transcript of an execution, ordered by
// created_at ascending.
func (c *Client) ListMessages(ctx context.Context, executionID string) ([]*models.Message, error) {
	query := c.rebind(`
		SELECT id, execution_id, role, agent_id, content, node_execution_id,
			is_complete, is_tool_use_iteration, is_final_iteration, created_at
		FROM messages
		WHERE execution_id = ? AND kind = ?
		ORDER BY created_at ASC`)
	rows, err := c.db.QueryContext(ctx, query, executionID, kindMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ExecutionID, &m.Role, &m.AgentID, &m.Content,
			&m.NodeExecutionID, &m.IsComplete, &m.IsToolUseIteration,
			&m.IsFinalIteration, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// CreateContextItem inserts a prompt-building context item.
func (c *Client) CreateContextItem(ctx context.Context, item *models.ContextItem) error {
	query := c.rebind(`
		INSERT INTO messages (id, execution_id, kind, item_type, agent_id, content,
			feedback_source, feedback_rating, iteration_number, is_active,
			compacted_into_id, tokens, is_complete, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query,
		item.ID, item.ExecutionID, kindContext, item.ItemType, item.AgentID, item.Content,
		item.FeedbackSource, item.FeedbackRating, item.IterationNumber, item.IsActive,
		item.CompactedIntoID, item.Tokens, item.IsComplete, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create context item: %w", err)
	}
	return nil
}

// ListContextItems returns context items for an execution, oldest first.
// Set activeOnly to restrict to items still in the working set.
func (c *Client) ListContextItems(ctx context.Context, executionID string, activeOnly bool) ([]*models.ContextItem, error) {
	query := `
		SELECT id, execution_id, item_type, agent_id, content, feedback_source,
			feedback_rating, iteration_number, is_active, compacted_into_id,
			tokens, is_complete, created_at
		FROM messages
		WHERE execution_id = ? AND kind = ?`
	args := []any{executionID, kindContext}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query context items: %w", err)
	}
	defer rows.Close()

	var items []*models.ContextItem
	for rows.Next() {
		var it models.ContextItem
		if err := rows.Scan(&it.ID, &it.ExecutionID, &it.ItemType, &it.AgentID, &it.Content,
			&it.FeedbackSource, &it.FeedbackRating, &it.IterationNumber, &it.IsActive,
			&it.CompactedIntoID, &it.Tokens, &it.IsComplete, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan context item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// DeactivateContextItems marks the given items inactive and records the
// compaction item that replaced them. One transaction per call.
func (c *Client) DeactivateContextItems(ctx context.Context, ids []string, compactedIntoID string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		query := c.rebind(`
			UPDATE messages SET is_active = ?, compacted_into_id = ?
			WHERE id = ? AND kind = ?`)
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, query, false, compactedIntoID, id, kindContext); err != nil {
				return fmt.Errorf("failed to deactivate context item %s: %w", id, err)
			}
		}
		return nil
	})
}

// UpdateContextItem persists content, token count, and completion state.
func (c *Client) UpdateContextItem(ctx context.Context, item *models.ContextItem) error {
	query := c.rebind(`
		UPDATE messages
		SET content = ?, tokens = ?, is_active = ?, is_complete = ?, compacted_into_id = ?
		WHERE id = ? AND kind = ?`)
	res, err := c.db.ExecContext(ctx, query,
		item.Content, item.Tokens, item.IsActive, item.IsComplete, item.CompactedIntoID,
		item.ID, kindContext)
	if err != nil {
		return fmt.Errorf("failed to update context item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
