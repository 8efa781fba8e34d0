package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forge-ide/loom/pkg/models"
)

// CreateReviewPanel inserts a panel run record.
func (c *Client) CreateReviewPanel(ctx context.Context, p *models.ReviewPanel) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal panel config: %w", err)
	}
	query := c.rebind(`
		INSERT INTO review_panels (id, execution_id, node_execution_id, config, status,
			outcome, summary, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = c.db.ExecContext(ctx, query,
		p.ID, p.ExecutionID, p.NodeExecutionID, configJSON, p.Status,
		p.Outcome, p.Summary, p.CreatedAt, nullTime(p.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to create review panel: %w", err)
	}
	return nil
}

// GetReviewPanel retrieves a panel by ID.
func (c *Client) GetReviewPanel(ctx context.Context, id string) (*models.ReviewPanel, error) {
	query := c.rebind(`
		SELECT id, execution_id, node_execution_id, config, status, outcome, summary,
			created_at, completed_at
		FROM review_panels WHERE id = ?`)
	var (
		p           models.ReviewPanel
		configJSON  []byte
		completedAt sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.ExecutionID, &p.NodeExecutionID, &configJSON, &p.Status,
		&p.Outcome, &p.Summary, &p.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review panel: %w", err)
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &p.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal panel config: %w", err)
		}
	}
	p.CompletedAt = timePtr(completedAt)
	return &p, nil
}

// UpdateReviewPanel persists status, outcome, and summary of a panel.
func (c *Client) UpdateReviewPanel(ctx context.Context, p *models.ReviewPanel) error {
	query := c.rebind(`
		UPDATE review_panels SET status = ?, outcome = ?, summary = ?, completed_at = ?
		WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query,
		p.Status, p.Outcome, p.Summary, nullTime(p.CompletedAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update review panel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertReviewVote records a vote, replacing any earlier vote by the same
// reviewer on the same panel.
func (c *Client) UpsertReviewVote(ctx context.Context, v *models.ReviewVote) error {
	issuesJSON, err := json.Marshal(v.Issues)
	if err != nil {
		return fmt.Errorf("failed to marshal vote issues: %w", err)
	}
	if v.Issues == nil {
		issuesJSON = []byte("[]")
	}
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		del := c.rebind(`DELETE FROM review_votes WHERE panel_id = ? AND reviewer_id = ?`)
		if _, err := tx.ExecContext(ctx, del, v.PanelID, v.Reviewer); err != nil {
			return fmt.Errorf("failed to replace prior vote: %w", err)
		}
		ins := c.rebind(`
			INSERT INTO review_votes (id, panel_id, reviewer_id, vote, feedback, issues, weight, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, ins,
			v.ID, v.PanelID, v.Reviewer, v.Vote, v.Feedback, issuesJSON, v.Weight, v.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert vote: %w", err)
		}
		return nil
	})
}

// ListReviewVotes returns all votes of a panel in arrival order.
func (c *Client) ListReviewVotes(ctx context.Context, panelID string) ([]*models.ReviewVote, error) {
	query := c.rebind(`
		SELECT id, panel_id, reviewer_id, vote, feedback, issues, weight, created_at
		FROM review_votes WHERE panel_id = ? ORDER BY created_at ASC`)
	rows, err := c.db.QueryContext(ctx, query, panelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review votes: %w", err)
	}
	defer rows.Close()

	var votes []*models.ReviewVote
	for rows.Next() {
		var (
			v          models.ReviewVote
			issuesJSON []byte
		)
		if err := rows.Scan(&v.ID, &v.PanelID, &v.Reviewer, &v.Vote, &v.Feedback,
			&issuesJSON, &v.Weight, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review vote: %w", err)
		}
		if len(issuesJSON) > 0 {
			if err := json.Unmarshal(issuesJSON, &v.Issues); err != nil {
				return nil, fmt.Errorf("failed to unmarshal vote issues: %w", err)
			}
		}
		votes = append(votes, &v)
	}
	return votes, rows.Err()
}
