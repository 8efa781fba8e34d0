package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
)

// NodeExecutionService manages per-node execution records
type NodeExecutionService struct {
	db        *database.Client
	publisher *events.Publisher
}

// NewNodeExecutionService creates a new NodeExecutionService
func NewNodeExecutionService(db *database.Client, publisher *events.Publisher) *NodeExecutionService {
	return &NodeExecutionService{db: db, publisher: publisher}
}

// StartNode creates a running node execution record for one step attempt.
func (s *NodeExecutionService) StartNode(httpCtx context.Context, executionID, nodeID string, nodeType models.NodeType, iteration int, input string) (*models.NodeExecution, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	if nodeID == "" {
		return nil, NewValidationError("node_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	node := &models.NodeExecution{
		ID:              uuid.New().String(),
		ExecutionID:     executionID,
		NodeID:          nodeID,
		NodeType:        nodeType,
		Status:          models.NodeStatusRunning,
		IterationNumber: iteration,
		Input:           input,
		StartedAt:       &now,
	}
	if err := s.db.CreateNodeExecution(ctx, node); err != nil {
		return nil, fmt.Errorf("failed to create node execution: %w", err)
	}

	s.publisher.PublishNodeActivity(ctx, executionID, nodeID, events.ActivityNodeStarted, string(nodeType), iteration)
	return node, nil
}

// CompleteNode finalizes a node execution with its output and token usage.
func (s *NodeExecutionService) CompleteNode(httpCtx context.Context, node *models.NodeExecution, output string, tokensIn, tokensOut int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	node.Status = models.NodeStatusCompleted
	node.Output = output
	node.TokensIn += tokensIn
	node.TokensOut += tokensOut
	node.CompletedAt = &now
	if node.StartedAt != nil {
		node.DurationMs = now.Sub(*node.StartedAt).Milliseconds()
	}
	if err := s.db.UpdateNodeExecution(ctx, node); err != nil {
		return fmt.Errorf("failed to complete node execution: %w", err)
	}

	s.publisher.PublishNodeActivity(ctx, node.ExecutionID, node.NodeID, events.ActivityNodeCompleted, "", node.IterationNumber)
	return nil
}

// FailNode finalizes a node execution with an error.
func (s *NodeExecutionService) FailNode(httpCtx context.Context, node *models.NodeExecution, errMsg string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	node.Status = models.NodeStatusFailed
	node.ErrorMessage = errMsg
	node.CompletedAt = &now
	if node.StartedAt != nil {
		node.DurationMs = now.Sub(*node.StartedAt).Milliseconds()
	}
	if err := s.db.UpdateNodeExecution(ctx, node); err != nil {
		return fmt.Errorf("failed to fail node execution: %w", err)
	}

	s.publisher.PublishNodeActivity(ctx, node.ExecutionID, node.NodeID, events.ActivityNodeFailed, errMsg, node.IterationNumber)
	return nil
}

// ListNodes returns all node executions of an execution ordered by
// (iteration, started_at).
func (s *NodeExecutionService) ListNodes(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	if executionID == "" {
		return nil, NewValidationError("execution_id", "required")
	}
	nodes, err := s.db.ListNodeExecutions(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}
	return nodes, nil
}

// CompletedNodeIDs returns the set of node IDs completed in the given
// iteration; the executor's readiness rule consumes it.
func (s *NodeExecutionService) CompletedNodeIDs(ctx context.Context, executionID string, iteration int) (map[string]bool, error) {
	completed, err := s.db.CompletedNodeIDs(ctx, executionID, iteration)
	if err != nil {
		return nil, fmt.Errorf("failed to get completed node ids: %w", err)
	}
	return completed, nil
}

// NodeOutput returns the recorded output of a completed node in an
// iteration, or ErrNotFound.
func (s *NodeExecutionService) NodeOutput(ctx context.Context, executionID, nodeID string, iteration int) (string, error) {
	out, err := s.db.GetCompletedNodeOutput(ctx, executionID, nodeID, iteration)
	if errors.Is(err, database.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get node output: %w", err)
	}
	return out, nil
}
