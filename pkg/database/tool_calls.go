package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forge-ide/loom/pkg/models"
)

const toolCallColumns = `id, execution_id, node_execution_id, session_id, tool_name, ecp_method,
	input, output, error_message, status, caller_type, caller_agent_id,
	started_at, completed_at, duration_ms`

// CreateToolCall records a tool invocation in its initial running state.
// ExecutionID may be empty for chat-session calls; it is stored as NULL so
// the cascade FK stays satisfied.
func (c *Client) CreateToolCall(ctx context.Context, tc *models.ToolCallRecord) error {
	inputJSON, err := json.Marshal(tc.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal tool input: %w", err)
	}
	query := c.rebind(`
		INSERT INTO tool_calls (` + toolCallColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = c.db.ExecContext(ctx, query,
		tc.ID, nullString(tc.ExecutionID), tc.NodeExecutionID, tc.SessionID,
		tc.ToolName, tc.ECPMethod, inputJSON, tc.Output, tc.ErrorMessage,
		tc.Status, tc.Caller.Type, tc.Caller.AgentID,
		tc.StartedAt, nullTime(tc.CompletedAt), tc.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to create tool call: %w", err)
	}
	return nil
}

// CompleteToolCall finalizes a tool call with its outcome.
func (c *Client) CompleteToolCall(ctx context.Context, id string, status models.ToolCallStatus, output, errMsg string, durationMs int64) error {
	now := time.Now().UTC()
	query := c.rebind(`
		UPDATE tool_calls
		SET status = ?, output = ?, error_message = ?, duration_ms = ?, completed_at = ?
		WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query, status, output, errMsg, durationMs, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete tool call: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListToolCalls returns tool calls for an execution, oldest first.
func (c *Client) ListToolCalls(ctx context.Context, executionID string) ([]*models.ToolCallRecord, error) {
	query := c.rebind(`
		SELECT ` + toolCallColumns + `
		FROM tool_calls WHERE execution_id = ? ORDER BY started_at ASC`)
	return c.queryToolCalls(ctx, query, executionID)
}

// ListSessionToolCalls returns tool calls made within a chat session.
func (c *Client) ListSessionToolCalls(ctx context.Context, sessionID string) ([]*models.ToolCallRecord, error) {
	query := c.rebind(`
		SELECT ` + toolCallColumns + `
		FROM tool_calls WHERE session_id = ? ORDER BY started_at ASC`)
	return c.queryToolCalls(ctx, query, sessionID)
}

func (c *Client) queryToolCalls(ctx context.Context, query string, arg any) ([]*models.ToolCallRecord, error) {
	rows, err := c.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	defer rows.Close()

	var calls []*models.ToolCallRecord
	for rows.Next() {
		tc, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, tc)
	}
	return calls, rows.Err()
}

func scanToolCall(row scanner) (*models.ToolCallRecord, error) {
	var (
		tc          models.ToolCallRecord
		executionID sql.NullString
		inputJSON   []byte
		completedAt sql.NullTime
	)
	err := row.Scan(&tc.ID, &executionID, &tc.NodeExecutionID, &tc.SessionID,
		&tc.ToolName, &tc.ECPMethod, &inputJSON, &tc.Output, &tc.ErrorMessage,
		&tc.Status, &tc.Caller.Type, &tc.Caller.AgentID,
		&tc.StartedAt, &completedAt, &tc.DurationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tool call: %w", err)
	}
	tc.ExecutionID = executionID.String
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &tc.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool input: %w", err)
		}
	}
	tc.CompletedAt = timePtr(completedAt)
	return &tc, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
