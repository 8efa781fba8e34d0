package models

import "time"

// Event is a transient event row used for WebSocket catch-up. Rows are
// cleaned up shortly after their execution reaches a terminal state.
type Event struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Channel     string    `json:"channel"`
	Payload     string    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}
