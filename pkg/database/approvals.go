package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/forge-ide/loom/pkg/models"
)

// SaveApproval inserts a persistent permission grant. Session-scoped and
// once-scoped approvals are transient and never reach this table; the
// permission service filters them out.
func (c *Client) SaveApproval(ctx context.Context, a *models.Approval) error {
	query := c.rebind(`
		INSERT INTO permissions (id, tool_name, scope, session_id, folder_path, granted_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query,
		a.ID, a.ToolName, a.Scope, a.SessionID, a.FolderPath, a.GrantedAt, nullTime(a.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to save approval: %w", err)
	}
	return nil
}

// ListApprovals returns all persisted permission grants.
func (c *Client) ListApprovals(ctx context.Context) ([]*models.Approval, error) {
	query := c.rebind(`
		SELECT id, tool_name, scope, session_id, folder_path, granted_at, expires_at
		FROM permissions ORDER BY granted_at ASC`)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*models.Approval
	for rows.Next() {
		var a models.Approval
		var expiresAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.ToolName, &a.Scope, &a.SessionID, &a.FolderPath,
			&a.GrantedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		a.ExpiresAt = timePtr(expiresAt)
		approvals = append(approvals, &a)
	}
	return approvals, rows.Err()
}

// DeleteApproval removes a persisted grant matching tool and scope fields.
func (c *Client) DeleteApproval(ctx context.Context, toolName string, scope models.ApprovalScope, folderPath string) error {
	query := `DELETE FROM permissions WHERE tool_name = ? AND scope = ?`
	args := []any{toolName, scope}
	if folderPath != "" {
		query += ` AND folder_path = ?`
		args = append(args, folderPath)
	}
	if _, err := c.db.ExecContext(ctx, c.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete approval: %w", err)
	}
	return nil
}

// DeleteApprovals wipes every persisted grant.
func (c *Client) DeleteApprovals(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM permissions`); err != nil {
		return fmt.Errorf("failed to delete approvals: %w", err)
	}
	return nil
}

// DeleteExpiredApprovals removes grants whose expiry has passed.
func (c *Client) DeleteExpiredApprovals(ctx context.Context) error {
	query := c.rebind(`DELETE FROM permissions WHERE expires_at IS NOT NULL AND expires_at < CURRENT_TIMESTAMP`)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to delete expired approvals: %w", err)
	}
	return nil
}
