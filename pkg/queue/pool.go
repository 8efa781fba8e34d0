package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/forge-ide/loom/pkg/config"
	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/services"
	loomslack "github.com/forge-ide/loom/pkg/slack"
)

// WorkerPool manages a pool of queue workers plus the orphan detection
// loop.
type WorkerPool struct {
	podID        string
	db           *database.Client
	config       config.QueueConfig
	driver       ExecutionDriver
	executions   *services.ExecutionService
	workflows    *services.WorkflowService
	slackService *loomslack.Service
	workers      []*Worker
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	// resumeWorker drives resumed executions. It never polls: the claim
	// query only matches pending rows, so an awaiting_input execution
	// flipped back to running is handed to it directly.
	resumeWorker *Worker
	runCtx       context.Context

	// Execution cancel registry: execution_id → cancel function.
	activeExecutions map[string]context.CancelFunc
	mu               sync.RWMutex
	started          bool

	// Orphan detection state
	orphans orphanState
}

// NewWorkerPool creates a new worker pool. slackService may be nil.
func NewWorkerPool(podID string, db *database.Client, cfg config.QueueConfig, driver ExecutionDriver, executions *services.ExecutionService, workflows *services.WorkflowService, slackService *loomslack.Service) *WorkerPool {
	p := &WorkerPool{
		podID:            podID,
		db:               db,
		config:           cfg,
		driver:           driver,
		executions:       executions,
		workflows:        workflows,
		slackService:     slackService,
		workers:          make([]*Worker, 0, cfg.WorkerCount),
		stopCh:           make(chan struct{}),
		activeExecutions: make(map[string]context.CancelFunc),
		runCtx:           context.Background(),
	}
	p.resumeWorker = NewWorker(fmt.Sprintf("%s-resume", podID), podID, db, cfg, driver, executions, workflows, p, slackService)
	return p
}

// Start spawns worker goroutines and the orphan detection background
// task. It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true
	p.runCtx = ctx

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.db, p.config, p.driver, p.executions, p.workflows, p, p.slackService)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current executions before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.getActiveExecutionIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active executions to complete",
			"count", len(active),
			"execution_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}
	p.resumeWorker.Stop()

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// RegisterExecution stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterExecution(executionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeExecutions[executionID] = cancel
}

// UnregisterExecution removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterExecution(executionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeExecutions, executionID)
}

// CancelExecution triggers context cancellation for an execution being
// driven by this process. Returns true if it was found and cancelled.
func (p *WorkerPool) CancelExecution(executionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeExecutions[executionID]; ok {
		cancel()
		return true
	}
	return false
}

// ResumeExecution hands a resumed execution back to the pool for driving.
// Resume paths flip awaiting_input/paused back to running at the database
// level, and the claim query only matches pending rows, so without this
// nothing would ever step the execution again. Non-running executions
// (e.g. a rejected checkpoint that cancelled instead) are skipped.
func (p *WorkerPool) ResumeExecution(ctx context.Context, executionID string) error {
	exec, err := p.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionStatusRunning {
		slog.Debug("Skipping resume for non-running execution",
			"execution_id", executionID, "status", exec.Status)
		return nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.resumeWorker.process(p.runCtx, exec, false); err != nil {
			slog.Error("Resumed execution processing failed",
				"execution_id", executionID, "error", err)
		}
	}()
	return nil
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.db.CountExecutionsByStatus(ctx, models.ExecutionStatusPending)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check",
			"pod_id", p.podID, "error", errQ)
	}

	activeExecutions, errA := p.db.CountExecutionsByStatus(ctx, models.ExecutionStatusRunning)
	if errA != nil {
		slog.Error("Failed to query active executions for health check",
			"pod_id", p.podID, "error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	// DB errors affect health status: unreachable storage means unhealthy.
	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && activeExecutions <= p.config.MaxConcurrentExecutions && dbHealthy

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else {
			dbError = fmt.Sprintf("active executions query failed: %v", errA)
		}
	}

	return &PoolHealth{
		IsHealthy:        isHealthy,
		DBReachable:      dbHealthy,
		DBError:          dbError,
		PodID:            p.podID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		ActiveExecutions: activeExecutions,
		MaxConcurrent:    p.config.MaxConcurrentExecutions,
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastOrphanScan:   lastOrphanScan,
		OrphansRecovered: orphansRecovered,
	}
}

// getActiveExecutionIDs returns IDs of executions being driven right now.
func (p *WorkerPool) getActiveExecutionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeExecutions))
	for id := range p.activeExecutions {
		ids = append(ids, id)
	}
	return ids
}
