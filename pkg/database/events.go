package database

import (
	"context"
	"fmt"
	"time"

	"github.com/forge-ide/loom/pkg/models"
)

// InsertEvent persists an event row and returns its assigned ID. Events are
// the durable backlog behind websocket catchup.
func (c *Client) InsertEvent(ctx context.Context, executionID, channel, payload string) (int64, error) {
	now := time.Now().UTC()
	query := c.rebind(`
		INSERT INTO events (execution_id, channel, payload, created_at)
		VALUES (?, ?, ?, ?) RETURNING id`)
	var id int64
	if err := c.db.QueryRowContext(ctx, query, executionID, channel, payload, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

// ListEventsSince returns up to limit events on a channel with IDs greater
// than afterID, oldest first. Used by subscribers to catch up after a
// reconnect.
func (c *Client) ListEventsSince(ctx context.Context, channel string, afterID int64, limit int) ([]models.Event, error) {
	query := c.rebind(`
		SELECT id, execution_id, channel, payload, created_at
		FROM events WHERE channel = ? AND id > ? ORDER BY id ASC LIMIT ?`)
	rows, err := c.db.QueryContext(ctx, query, channel, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Channel, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteEventsForExecution clears the backlog of a finished execution.
func (c *Client) DeleteEventsForExecution(ctx context.Context, executionID string) (int64, error) {
	query := c.rebind(`DELETE FROM events WHERE execution_id = ?`)
	res, err := c.db.ExecContext(ctx, query, executionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete execution events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteEventsBefore prunes the event backlog. Returns the number of rows removed.
func (c *Client) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := c.rebind(`DELETE FROM events WHERE created_at < ?`)
	res, err := c.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
