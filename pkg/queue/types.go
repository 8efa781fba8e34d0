// Package queue provides the execution queue: workers claim pending
// executions and drive them through the workflow executor one step at a
// time, with heartbeats and orphan recovery.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/forge-ide/loom/pkg/workflow"
)

// Sentinel errors for queue operations.
var (
	// ErrNoExecutionsAvailable indicates no pending executions are queued.
	ErrNoExecutionsAvailable = errors.New("no executions available")

	// ErrAtCapacity indicates the concurrent execution limit is reached.
	ErrAtCapacity = errors.New("at capacity")
)

// ExecutionDriver advances one execution a step at a time. Implemented by
// the workflow executor.
//
// The driver owns all execution state transitions except the timeout case:
// handler failures, completion, pauses and cancellation are persisted by
// the driver during stepping. The worker only handles claiming, heartbeat,
// the wall-clock timeout, notifications, and event cleanup.
type ExecutionDriver interface {
	Start(ctx context.Context, executionID string) error
	ExecuteStep(ctx context.Context, executionID string) (*workflow.StepResult, error)
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveExecutions int            `json:"active_executions"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                  string    `json:"id"`
	Status              string    `json:"status"` // "idle" or "working"
	CurrentExecutionID  string    `json:"current_execution_id,omitempty"`
	ExecutionsProcessed int       `json:"executions_processed"`
	LastActivity        time.Time `json:"last_activity"`
}
