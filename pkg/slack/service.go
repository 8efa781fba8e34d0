package slack

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// ExecutionStartedInput contains data for an execution start notification.
type ExecutionStartedInput struct {
	ExecutionID  string
	WorkflowName string
}

// ExecutionCompletedInput contains data for a terminal execution
// notification.
type ExecutionCompletedInput struct {
	ExecutionID  string
	WorkflowName string
	Status       string // completed, failed, cancelled
	FinalOutput  string
	ErrorMessage string
	ThreadTS     string // Cached from start notification
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyExecutionStarted sends a "workflow started" notification and
// returns the message timestamp so the terminal notification can thread
// under it. Fail-open: errors are logged, never returned.
func (s *Service) NotifyExecutionStarted(ctx context.Context, input ExecutionStartedInput) string {
	if s == nil {
		return ""
	}

	blocks := BuildStartedMessage(input.ExecutionID, input.WorkflowName, s.dashboardURL)
	ts, err := s.client.PostMessage(ctx, blocks, "", 5*time.Second)
	if err != nil {
		s.logger.Error("Failed to send Slack start notification",
			"execution_id", input.ExecutionID,
			"error", err)
		return ""
	}
	return ts
}

// NotifyExecutionCompleted sends a terminal status notification, threaded
// under the start message when ThreadTS is set.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyExecutionCompleted(ctx context.Context, input ExecutionCompletedInput) {
	if s == nil {
		return
	}

	blocks := BuildTerminalMessage(input, s.dashboardURL)
	if _, err := s.client.PostMessage(ctx, blocks, input.ThreadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack notification",
			"execution_id", input.ExecutionID,
			"status", input.Status,
			"error", err)
	}
}
