package api

import (
	"time"

	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/permissions"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	ExecutionID string `json:"execution_id"`
	Message     string `json:"message"`
}

// MessagesResponse wraps an execution's message transcript.
type MessagesResponse struct {
	Messages []*models.Message `json:"messages"`
}

// SendChatMessageResponse acknowledges an async chat send.
type SendChatMessageResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// SessionSummary is the list view of an AI session.
type SessionSummary struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	AgentID    string    `json:"agent_id"`
	ProviderID string    `json:"provider_id"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionsResponse wraps the session list.
type SessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// PermissionsResponse lists recorded grants and undecided requests.
type PermissionsResponse struct {
	Approvals []*models.Approval            `json:"approvals"`
	Pending   []*permissions.PendingRequest `json:"pending"`
}

// ImportResponse reports how many grants an import added.
type ImportResponse struct {
	Imported int `json:"imported"`
}

// HealthCheck is one component's health verdict.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body for GET /api/v1/health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
