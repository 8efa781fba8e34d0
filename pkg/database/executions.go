package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/forge-ide/loom/pkg/models"
)

const executionColumns = `id, workflow_id, status, current_node_id, iteration_count, max_iterations,
	initial_input, final_output, error_message, working_dir, pod_id,
	created_at, started_at, completed_at, last_interaction_at`

// CreateExecution inserts a new execution row.
func (c *Client) CreateExecution(ctx context.Context, e *models.Execution) error {
	query := c.rebind(`
		INSERT INTO executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query,
		e.ID, e.WorkflowID, e.Status, e.CurrentNodeID, e.IterationCount, e.MaxIterations,
		e.InitialInput, e.FinalOutput, e.ErrorMessage, e.WorkingDir, e.PodID,
		e.CreatedAt, nullTime(e.StartedAt), nullTime(e.CompletedAt), nullTime(e.LastInteractionAt))
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (c *Client) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	query := c.rebind(`SELECT ` + executionColumns + ` FROM executions WHERE id = ?`)
	return scanExecution(c.db.QueryRowContext(ctx, query, id))
}

// ListExecutions returns executions matching the filters, newest first.
func (c *Client) ListExecutions(ctx context.Context, f models.ExecutionFilters) ([]*models.Execution, int, error) {
	where := ` WHERE 1=1`
	var args []any
	if f.WorkflowID != "" {
		where += ` AND workflow_id = ?`
		args = append(args, f.WorkflowID)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}

	var total int
	if err := c.db.QueryRowContext(ctx, c.rebind(`SELECT COUNT(*) FROM executions`+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	query := `SELECT ` + executionColumns + ` FROM executions` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		executions = append(executions, e)
	}
	return executions, total, rows.Err()
}

// UpdateExecution persists the mutable fields of an execution.
func (c *Client) UpdateExecution(ctx context.Context, e *models.Execution) error {
	query := c.rebind(`
		UPDATE executions
		SET status = ?, current_node_id = ?, iteration_count = ?, final_output = ?,
		    error_message = ?, pod_id = ?, started_at = ?, completed_at = ?, last_interaction_at = ?
		WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query,
		e.Status, e.CurrentNodeID, e.IterationCount, e.FinalOutput,
		e.ErrorMessage, e.PodID, nullTime(e.StartedAt), nullTime(e.CompletedAt),
		nullTime(e.LastInteractionAt), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExecution removes an execution and, via foreign keys, every
// descendant record (node executions, messages, context items, checkpoints,
// feedback, tool calls, review panels, events).
func (c *Client) DeleteExecution(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, c.rebind(`DELETE FROM executions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountExecutionsByStatus returns the number of executions in the given status.
func (c *Client) CountExecutionsByStatus(ctx context.Context, status models.ExecutionStatus) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		c.rebind(`SELECT COUNT(*) FROM executions WHERE status = ?`), status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return n, nil
}

// ClaimNextPendingExecution atomically claims the oldest pending execution
// for the given pod, transitioning it to running. Returns ErrNotFound when
// the queue is empty. On Postgres the claim uses FOR UPDATE SKIP LOCKED so
// concurrent replicas never double-claim; on SQLite the single writer
// connection serializes claims.
func (c *Client) ClaimNextPendingExecution(ctx context.Context, podID string) (*models.Execution, error) {
	var claimed *models.Execution
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + executionColumns + ` FROM executions WHERE status = ? ORDER BY created_at ASC LIMIT 1`
		if c.backend == BackendPostgres {
			query += ` FOR UPDATE SKIP LOCKED`
		}
		e, err := scanExecution(tx.QueryRowContext(ctx, c.rebind(query), models.ExecutionStatusPending))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, c.rebind(`
			UPDATE executions
			SET status = ?, pod_id = ?, started_at = ?, last_interaction_at = ?
			WHERE id = ?`),
			models.ExecutionStatusRunning, podID, now, now, e.ID)
		if err != nil {
			return fmt.Errorf("failed to claim execution: %w", err)
		}

		e.Status = models.ExecutionStatusRunning
		e.PodID = podID
		e.StartedAt = &now
		e.LastInteractionAt = &now
		claimed = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// TouchExecution updates last_interaction_at for orphan detection.
func (c *Client) TouchExecution(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx,
		c.rebind(`UPDATE executions SET last_interaction_at = ? WHERE id = ?`),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch execution: %w", err)
	}
	return nil
}

// FindStaleRunningExecutions returns running executions whose heartbeat is
// older than the threshold.
func (c *Client) FindStaleRunningExecutions(ctx context.Context, olderThan time.Time) ([]*models.Execution, error) {
	query := c.rebind(`
		SELECT ` + executionColumns + ` FROM executions
		WHERE status = ? AND last_interaction_at IS NOT NULL AND last_interaction_at < ?`)
	rows, err := c.db.QueryContext(ctx, query, models.ExecutionStatusRunning, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// FindRunningExecutions returns running executions claimed by any pod,
// used at startup to fail work left over from a dead process.
func (c *Client) FindRunningExecutions(ctx context.Context) ([]*models.Execution, error) {
	query := c.rebind(`SELECT ` + executionColumns + ` FROM executions WHERE status = ?`)
	rows, err := c.db.QueryContext(ctx, query, models.ExecutionStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to query running executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// DeleteTerminalExecutionsBefore removes terminal executions whose
// completed_at is older than the cutoff. Child rows (nodes, messages,
// context items, checkpoints, events) go with them via cascade.
func (c *Client) DeleteTerminalExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, c.rebind(`
		DELETE FROM executions
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`),
		models.ExecutionStatusCompleted, models.ExecutionStatusFailed, models.ExecutionStatusCancelled,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old executions: %w", err)
	}
	return res.RowsAffected()
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		e                             models.Execution
		startedAt, completedAt, touch sql.NullTime
	)
	err := row.Scan(&e.ID, &e.WorkflowID, &e.Status, &e.CurrentNodeID, &e.IterationCount,
		&e.MaxIterations, &e.InitialInput, &e.FinalOutput, &e.ErrorMessage,
		&e.WorkingDir, &e.PodID, &e.CreatedAt, &startedAt, &completedAt, &touch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}
	e.StartedAt = timePtr(startedAt)
	e.CompletedAt = timePtr(completedAt)
	e.LastInteractionAt = timePtr(touch)
	return &e, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
