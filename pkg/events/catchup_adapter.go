package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forge-ide/loom/pkg/database"
)

// CatchupAdapter wraps the database client to implement CatchupQuerier.
type CatchupAdapter struct {
	db *database.Client
}

// NewCatchupAdapter creates a CatchupQuerier from the database client.
func NewCatchupAdapter(db *database.Client) *CatchupAdapter {
	return &CatchupAdapter{db: db}
}

// GetCatchupEvents queries events since sinceID up to limit for the catchup
// mechanism.
func (a *CatchupAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error) {
	rows, err := a.db.ListEventsSince(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, 0, len(rows))
	for _, row := range rows {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stored event %d: %w", row.ID, err)
		}
		result = append(result, CatchupEvent{ID: row.ID, Payload: payload})
	}
	return result, nil
}
