package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending       ExecutionStatus = "pending"
	ExecutionStatusRunning       ExecutionStatus = "running"
	ExecutionStatusPaused        ExecutionStatus = "paused"
	ExecutionStatusAwaitingInput ExecutionStatus = "awaiting_input"
	ExecutionStatusCompleted     ExecutionStatus = "completed"
	ExecutionStatusFailed        ExecutionStatus = "failed"
	ExecutionStatusCancelled     ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Execution is a runtime instance of a workflow.
type Execution struct {
	ID                string          `json:"id"`
	WorkflowID        string          `json:"workflow_id"`
	Status            ExecutionStatus `json:"status"`
	CurrentNodeID     string          `json:"current_node_id,omitempty"`
	IterationCount    int             `json:"iteration_count"`
	MaxIterations     int             `json:"max_iterations"`
	InitialInput      string          `json:"initial_input,omitempty"`
	FinalOutput       string          `json:"final_output,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	WorkingDir        string          `json:"working_dir,omitempty"`
	PodID             string          `json:"pod_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	LastInteractionAt *time.Time      `json:"last_interaction_at,omitempty"`
}

// NodeExecutionStatus is the lifecycle state of a single node attempt.
type NodeExecutionStatus string

const (
	NodeStatusPending   NodeExecutionStatus = "pending"
	NodeStatusRunning   NodeExecutionStatus = "running"
	NodeStatusCompleted NodeExecutionStatus = "completed"
	NodeStatusFailed    NodeExecutionStatus = "failed"
	NodeStatusSkipped   NodeExecutionStatus = "skipped"
)

// NodeExecution records one attempt to run a single step in a single iteration.
type NodeExecution struct {
	ID              string              `json:"id"`
	ExecutionID     string              `json:"execution_id"`
	NodeID          string              `json:"node_id"`
	NodeType        NodeType            `json:"node_type"`
	Status          NodeExecutionStatus `json:"status"`
	IterationNumber int                 `json:"iteration_number"`
	Input           string              `json:"input,omitempty"`
	Output          string              `json:"output,omitempty"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	DurationMs      int64               `json:"duration_ms,omitempty"`
	TokensIn        int                 `json:"tokens_in,omitempty"`
	TokensOut       int                 `json:"tokens_out,omitempty"`
}

// CreateExecutionRequest contains fields for starting a workflow execution.
type CreateExecutionRequest struct {
	WorkflowID   string `json:"workflow_id"`
	InitialInput string `json:"initial_input,omitempty"`
	WorkingDir   string `json:"working_dir,omitempty"`
}

// ExecutionFilters contains filtering options for listing executions.
type ExecutionFilters struct {
	WorkflowID string          `json:"workflow_id,omitempty"`
	Status     ExecutionStatus `json:"status,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// ExecutionListResponse contains a paginated execution list.
type ExecutionListResponse struct {
	Executions []*Execution `json:"executions"`
	TotalCount int          `json:"total_count"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
}
