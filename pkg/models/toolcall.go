package models

import "time"

// CallerType attributes a tool invocation to a human or an agent.
type CallerType string

const (
	CallerHuman CallerType = "human"
	CallerAgent CallerType = "agent"
)

// Caller identifies who asked for a tool invocation.
type Caller struct {
	Type    CallerType `json:"type"`
	AgentID string     `json:"agent_id,omitempty"`
}

// ToolCallStatus is the lifecycle state of a recorded tool call.
type ToolCallStatus string

const (
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
	ToolCallDenied    ToolCallStatus = "denied"
)

// ToolCallRecord is the persisted audit record of one tool invocation.
type ToolCallRecord struct {
	ID              string         `json:"id"`
	ExecutionID     string         `json:"execution_id,omitempty"`
	NodeExecutionID string         `json:"node_execution_id,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	ToolName        string         `json:"tool_name"`
	ECPMethod       string         `json:"ecp_method,omitempty"`
	Input           map[string]any `json:"input,omitempty"`
	Output          string         `json:"output,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Status          ToolCallStatus `json:"status"`
	Caller          Caller         `json:"caller"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	DurationMs      int64          `json:"duration_ms,omitempty"`
}
