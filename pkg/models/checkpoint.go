package models

import "time"

// Checkpoint is a pending human decision. A checkpoint with no decision
// blocks its execution in awaiting_input.
type Checkpoint struct {
	ID              string     `json:"id"`
	ExecutionID     string     `json:"execution_id"`
	NodeExecutionID string     `json:"node_execution_id"`
	CheckpointType  string     `json:"checkpoint_type"`
	PromptMessage   string     `json:"prompt_message"`
	Options         []string   `json:"options,omitempty"`
	Decision        string     `json:"decision,omitempty"`
	Feedback        string     `json:"feedback,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
}

// Pending reports whether the checkpoint still blocks its execution.
func (c *Checkpoint) Pending() bool {
	return c.Decision == ""
}

// FeedbackStatus is the lifecycle state of a queued feedback item.
type FeedbackStatus string

const (
	FeedbackQueued        FeedbackStatus = "queued"
	FeedbackPendingReview FeedbackStatus = "pending_review"
	FeedbackAddressed     FeedbackStatus = "addressed"
	FeedbackDismissed     FeedbackStatus = "dismissed"
)

// SurfaceTrigger tells the executor when a feedback item becomes visible.
type SurfaceTrigger string

const (
	SurfaceImmediate    SurfaceTrigger = "immediate"
	SurfaceIterationEnd SurfaceTrigger = "iteration_end"
	SurfaceTaskComplete SurfaceTrigger = "task_complete"
	SurfaceManual       SurfaceTrigger = "manual"
)

// FeedbackQueueItem is reviewer or user feedback waiting to be addressed.
type FeedbackQueueItem struct {
	ID             string         `json:"id"`
	ExecutionID    string         `json:"execution_id"`
	ContextItemID  string         `json:"context_item_id"`
	Status         FeedbackStatus `json:"status"`
	Priority       int            `json:"priority"`
	SurfaceTrigger SurfaceTrigger `json:"surface_trigger"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
