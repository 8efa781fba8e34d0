package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/forge-ide/loom/pkg/config"
	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/services"
	loomslack "github.com/forge-ide/loom/pkg/slack"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// eventCleanupGrace is how long terminal events stay queryable so
// WebSocket clients can catch up before the rows are deleted.
const eventCleanupGrace = 60 * time.Second

// Worker is a single queue worker that polls for and drives executions.
type Worker struct {
	id           string
	podID        string
	db           *database.Client
	config       config.QueueConfig
	driver       ExecutionDriver
	executions   *services.ExecutionService
	workflows    *services.WorkflowService
	slackService *loomslack.Service
	pool         ExecutionRegistry
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	// Health tracking
	mu                  sync.RWMutex
	status              WorkerStatus
	currentExecutionID  string
	executionsProcessed int
	lastActivity        time.Time
}

// ExecutionRegistry is the subset of WorkerPool used by Worker for
// cancel-function registration.
type ExecutionRegistry interface {
	RegisterExecution(executionID string, cancel context.CancelFunc)
	UnregisterExecution(executionID string)
}

// NewWorker creates a new queue worker.
// slackService may be nil (notifications disabled).
func NewWorker(id, podID string, db *database.Client, cfg config.QueueConfig, driver ExecutionDriver, executions *services.ExecutionService, workflows *services.WorkflowService, pool ExecutionRegistry, slackService *loomslack.Service) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		db:           db,
		config:       cfg,
		driver:       driver,
		executions:   executions,
		workflows:    workflows,
		slackService: slackService,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                  w.id,
		Status:              string(w.status),
		CurrentExecutionID:  w.currentExecutionID,
		ExecutionsProcessed: w.executionsProcessed,
		LastActivity:        w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoExecutionsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing execution", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims an execution, and drives it until
// it pauses or terminates.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// 1. Check concurrency limit (best-effort; racy with concurrent
	//    workers but bounded by WorkerCount and mitigated by poll jitter).
	active, err := w.db.CountExecutionsByStatus(ctx, models.ExecutionStatusRunning)
	if err != nil {
		return fmt.Errorf("checking active executions: %w", err)
	}
	if active >= w.config.MaxConcurrentExecutions {
		return ErrAtCapacity
	}

	// 2. Claim next execution (transitions pending → running atomically).
	exec, err := w.db.ClaimNextPendingExecution(ctx, w.podID)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNoExecutionsAvailable
	}
	if err != nil {
		return fmt.Errorf("claiming execution: %w", err)
	}

	slog.Info("Execution claimed", "execution_id", exec.ID, "worker_id", w.id)
	return w.process(ctx, exec, true)
}

// process drives a claimed or resumed execution until it pauses or
// terminates. callStart is true for freshly claimed executions; resumed
// ones already ran the driver's Start hook on their first claim.
func (w *Worker) process(ctx context.Context, exec *models.Execution, callStart bool) error {
	log := slog.With("execution_id", exec.ID, "worker_id", w.id)

	workflowName := w.workflowName(ctx, exec.WorkflowID)
	var threadTS string
	if callStart {
		threadTS = w.notifySlackStart(ctx, exec.ID, workflowName)
	}

	w.setStatus(WorkerStatusWorking, exec.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	// 3. Execution context with wall-clock timeout.
	execCtx, cancelExec := context.WithTimeout(ctx, w.config.ExecutionTimeout)
	defer cancelExec()

	// 4. Register cancel function for API-triggered cancellation.
	w.pool.RegisterExecution(exec.ID, cancelExec)
	defer w.pool.UnregisterExecution(exec.ID)

	// 5. Heartbeat for orphan detection.
	heartbeatCtx, cancelHeartbeat := context.WithCancel(execCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, exec.ID)

	// 6. Drive the execution.
	status, driveErr := w.drive(execCtx, exec.ID, callStart)
	cancelHeartbeat()

	// 7. Wall-clock timeout is the one terminal transition the driver
	//    cannot make itself (its context is already dead). Use a fresh
	//    context for the write.
	if driveErr != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf("execution timed out after %v", w.config.ExecutionTimeout)
		if _, uerr := w.executions.UpdateStatus(context.Background(), exec.ID, models.ExecutionStatusFailed, msg); uerr != nil {
			log.Error("Failed to mark timed-out execution", "error", uerr)
		}
		status = models.ExecutionStatusFailed
		driveErr = nil
	}

	if driveErr != nil {
		// Shutdown mid-flight: leave the row running, startup orphan
		// cleanup or stale-heartbeat recovery picks it up.
		if errors.Is(execCtx.Err(), context.Canceled) {
			log.Warn("Execution released mid-flight", "error", driveErr)
			return nil
		}
		return driveErr
	}

	if status.IsTerminal() {
		w.notifySlackTerminal(context.Background(), exec.ID, workflowName, status, threadTS)
		w.scheduleEventCleanup(exec.ID)
	}

	w.mu.Lock()
	w.executionsProcessed++
	w.mu.Unlock()

	log.Info("Execution processing complete", "status", status)
	return nil
}

// drive steps the execution until it pauses or reaches a terminal state,
// and returns the status it landed in.
func (w *Worker) drive(ctx context.Context, executionID string, callStart bool) (models.ExecutionStatus, error) {
	if callStart {
		if err := w.driver.Start(ctx, executionID); err != nil {
			return "", fmt.Errorf("starting execution: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-w.stopCh:
			return "", context.Canceled
		default:
		}

		res, err := w.driver.ExecuteStep(ctx, executionID)
		if err != nil {
			// The driver persists failure states itself; surface the
			// status it left behind when it did.
			if exec, gerr := w.executions.GetExecution(context.Background(), executionID); gerr == nil && exec.Status.IsTerminal() {
				return exec.Status, nil
			}
			return "", err
		}
		if res.Done || res.Paused {
			exec, gerr := w.executions.GetExecution(context.Background(), executionID)
			if gerr != nil {
				return "", gerr
			}
			return exec.Status, nil
		}
	}
}

// runHeartbeat periodically updates last_interaction_at for orphan
// detection.
func (w *Worker) runHeartbeat(ctx context.Context, executionID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.db.TouchExecution(ctx, executionID); err != nil {
				slog.Warn("Heartbeat update failed", "execution_id", executionID, "error", err)
			}
		}
	}
}

// scheduleEventCleanup deletes the execution's transient event rows after
// a grace period, allowing WebSocket clients to receive final events.
func (w *Worker) scheduleEventCleanup(executionID string) {
	time.AfterFunc(eventCleanupGrace, func() {
		if _, err := w.db.DeleteEventsForExecution(context.Background(), executionID); err != nil {
			slog.Warn("Failed to cleanup execution events after grace period",
				"execution_id", executionID, "error", err)
		}
	})
}

func (w *Worker) workflowName(ctx context.Context, workflowID string) string {
	if w.workflows == nil {
		return ""
	}
	wf, err := w.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return ""
	}
	return wf.Name
}

// notifySlackStart posts the start notification and returns the thread ts
// for the terminal reply.
func (w *Worker) notifySlackStart(ctx context.Context, executionID, workflowName string) string {
	if w.slackService == nil {
		return ""
	}
	return w.slackService.NotifyExecutionStarted(ctx, loomslack.ExecutionStartedInput{
		ExecutionID:  executionID,
		WorkflowName: workflowName,
	})
}

// notifySlackTerminal posts the terminal status notification.
func (w *Worker) notifySlackTerminal(ctx context.Context, executionID, workflowName string, status models.ExecutionStatus, threadTS string) {
	if w.slackService == nil {
		return
	}

	var finalOutput, errMsg string
	if exec, err := w.executions.GetExecution(ctx, executionID); err == nil {
		finalOutput = exec.FinalOutput
		errMsg = exec.ErrorMessage
	}

	w.slackService.NotifyExecutionCompleted(ctx, loomslack.ExecutionCompletedInput{
		ExecutionID:  executionID,
		WorkflowName: workflowName,
		Status:       string(status),
		FinalOutput:  finalOutput,
		ErrorMessage: errMsg,
		ThreadTS:     threadTS,
	})
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, executionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentExecutionID = executionID
	w.lastActivity = time.Now()
}
