package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forge-ide/loom/pkg/models"
)

// CreateCheckpoint inserts a pending human decision.
func (c *Client) CreateCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	optionsJSON, err := json.Marshal(emptyIfNil(cp.Options))
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint options: %w", err)
	}
	query := c.rebind(`
		INSERT INTO checkpoints (id, execution_id, node_execution_id, checkpoint_type,
			prompt_message, options, decision, feedback, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = c.db.ExecContext(ctx, query,
		cp.ID, cp.ExecutionID, cp.NodeExecutionID, cp.CheckpointType,
		cp.PromptMessage, optionsJSON, cp.Decision, cp.Feedback, cp.CreatedAt, nullTime(cp.DecidedAt))
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint by ID.
func (c *Client) GetCheckpoint(ctx context.Context, id string) (*models.Checkpoint, error) {
	query := c.rebind(`
		SELECT id, execution_id, node_execution_id, checkpoint_type, prompt_message,
			options, decision, feedback, created_at, decided_at
		FROM checkpoints WHERE id = ?`)
	return scanCheckpoint(c.db.QueryRowContext(ctx, query, id))
}

// GetPendingCheckpoint returns the newest undecided checkpoint of an execution.
func (c *Client) GetPendingCheckpoint(ctx context.Context, executionID string) (*models.Checkpoint, error) {
	query := c.rebind(`
		SELECT id, execution_id, node_execution_id, checkpoint_type, prompt_message,
			options, decision, feedback, created_at, decided_at
		FROM checkpoints
		WHERE execution_id = ? AND decision = ''
		ORDER BY created_at DESC LIMIT 1`)
	return scanCheckpoint(c.db.QueryRowContext(ctx, query, executionID))
}

// DecideCheckpoint records the human decision on a checkpoint.
func (c *Client) DecideCheckpoint(ctx context.Context, id, decision, feedback string) error {
	query := c.rebind(`
		UPDATE checkpoints SET decision = ?, feedback = ?, decided_at = CURRENT_TIMESTAMP
		WHERE id = ? AND decision = ''`)
	res, err := c.db.ExecContext(ctx, query, decision, feedback, id)
	if err != nil {
		return fmt.Errorf("failed to decide checkpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCheckpoint(row scanner) (*models.Checkpoint, error) {
	var (
		cp          models.Checkpoint
		optionsJSON []byte
		decidedAt   sql.NullTime
	)
	err := row.Scan(&cp.ID, &cp.ExecutionID, &cp.NodeExecutionID, &cp.CheckpointType,
		&cp.PromptMessage, &optionsJSON, &cp.Decision, &cp.Feedback, &cp.CreatedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	if err := unmarshalStrings(optionsJSON, &cp.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint options: %w", err)
	}
	cp.DecidedAt = timePtr(decidedAt)
	return &cp, nil
}

// CreateFeedbackItem inserts a feedback queue item.
func (c *Client) CreateFeedbackItem(ctx context.Context, f *models.FeedbackQueueItem) error {
	query := c.rebind(`
		INSERT INTO feedback_queue (id, execution_id, context_item_id, status, priority,
			surface_trigger, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query,
		f.ID, f.ExecutionID, f.ContextItemID, f.Status, f.Priority,
		f.SurfaceTrigger, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create feedback item: %w", err)
	}
	return nil
}

// ListFeedbackItems returns feedback items of an execution, optionally
// filtered by status, highest priority first.
func (c *Client) ListFeedbackItems(ctx context.Context, executionID string, status models.FeedbackStatus) ([]*models.FeedbackQueueItem, error) {
	query := `
		SELECT id, execution_id, context_item_id, status, priority, surface_trigger,
			created_at, updated_at
		FROM feedback_queue WHERE execution_id = ?`
	args := []any{executionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback items: %w", err)
	}
	defer rows.Close()

	var items []*models.FeedbackQueueItem
	for rows.Next() {
		var f models.FeedbackQueueItem
		if err := rows.Scan(&f.ID, &f.ExecutionID, &f.ContextItemID, &f.Status,
			&f.Priority, &f.SurfaceTrigger, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback item: %w", err)
		}
		items = append(items, &f)
	}
	return items, rows.Err()
}

// UpdateFeedbackStatus transitions a feedback item.
func (c *Client) UpdateFeedbackStatus(ctx context.Context, id string, status models.FeedbackStatus) error {
	query := c.rebind(`
		UPDATE feedback_queue SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update feedback status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
