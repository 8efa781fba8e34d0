package api

import (
	"time"

	"github.com/forge-ide/loom/pkg/models"
)

// maxChatContentLength bounds user message bodies.
const maxChatContentLength = 100_000

// ExecuteWorkflowRequest is the body for POST /workflows/:id/execute.
type ExecuteWorkflowRequest struct {
	InitialInput string `json:"initial_input,omitempty"`
	WorkingDir   string `json:"working_dir,omitempty"`
}

// ExecutionInputRequest is the body for POST /executions/:id/input.
type ExecutionInputRequest struct {
	Input string `json:"input"`
}

// CheckpointDecisionRequest is the body for POST /executions/:id/checkpoint.
type CheckpointDecisionRequest struct {
	CheckpointID string `json:"checkpoint_id"`
	Decision     string `json:"decision"`
	Feedback     string `json:"feedback,omitempty"`
}

// SendChatMessageRequest is the body for POST /chats/:chatId/agents/:agentId/messages.
type SendChatMessageRequest struct {
	Content      string `json:"content"`
	WorkingDir   string `json:"working_dir,omitempty"`
	CLISessionID string `json:"cli_session_id,omitempty"`
}

// DuplicateAgentRequest is the body for POST /agents/:id/duplicate.
type DuplicateAgentRequest struct {
	Name string `json:"name"`
}

// ApprovalRequest is the body for POST and DELETE /permissions.
type ApprovalRequest struct {
	ToolName   string               `json:"tool_name"`
	Scope      models.ApprovalScope `json:"scope"`
	SessionID  string               `json:"session_id,omitempty"`
	FolderPath string               `json:"folder_path,omitempty"`
	ExpiresAt  *time.Time           `json:"expires_at,omitempty"`
}

// ApproveRequestBody is the body for POST /permissions/requests/:id/approve.
type ApproveRequestBody struct {
	Scope      models.ApprovalScope `json:"scope,omitempty"`
	FolderPath string               `json:"folder_path,omitempty"`
}
