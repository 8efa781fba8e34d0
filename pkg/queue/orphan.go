package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/services"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for executions whose worker died.
// Operations are idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds running executions with stale heartbeats
// and marks them failed. Live executions heartbeat on HeartbeatInterval,
// well inside OrphanThreshold, so they are never swept.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().UTC().Add(-p.config.OrphanThreshold)

	orphans, err := p.db.FindStaleRunningExecutions(ctx, threshold)
	if err != nil {
		return fmt.Errorf("failed to query orphaned executions: %w", err)
	}

	if len(orphans) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastOrphanScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("Detected orphaned executions", "count", len(orphans))

	recovered := 0
	for _, exec := range orphans {
		if err := p.recoverOrphanedExecution(ctx, exec); err != nil {
			slog.Error("Failed to recover orphaned execution",
				"execution_id", exec.ID, "error", err)
			continue
		}
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	return nil
}

// recoverOrphanedExecution marks a single orphaned execution as failed.
func (p *WorkerPool) recoverOrphanedExecution(ctx context.Context, exec *models.Execution) error {
	lastHeartbeat := "unknown"
	if exec.LastInteractionAt != nil {
		lastHeartbeat = exec.LastInteractionAt.Format(time.RFC3339)
	}
	podID := exec.PodID
	if podID == "" {
		podID = "unknown"
	}

	msg := fmt.Sprintf("orphaned: no heartbeat from pod %s since %s", podID, lastHeartbeat)
	if _, err := p.executions.UpdateStatus(ctx, exec.ID, models.ExecutionStatusFailed, msg); err != nil {
		return fmt.Errorf("failed to mark execution failed: %w", err)
	}

	slog.Warn("Orphaned execution marked as failed",
		"execution_id", exec.ID, "old_pod_id", exec.PodID, "last_heartbeat", lastHeartbeat)
	return nil
}

// CleanupStartupOrphans fails executions left running by a previous
// process. Called once during startup, before the worker pool begins
// processing.
func CleanupStartupOrphans(ctx context.Context, db *database.Client, executions *services.ExecutionService) error {
	orphans, err := db.FindRunningExecutions(ctx)
	if err != nil {
		return fmt.Errorf("failed to query startup orphans: %w", err)
	}

	if len(orphans) == 0 {
		return nil
	}

	slog.Warn("Found startup orphans from previous run", "count", len(orphans))

	for _, exec := range orphans {
		msg := fmt.Sprintf("orphaned: process restarted while execution was running (pod %s)", exec.PodID)
		if _, err := executions.UpdateStatus(ctx, exec.ID, models.ExecutionStatusFailed, msg); err != nil {
			slog.Error("Failed to mark startup orphan",
				"execution_id", exec.ID, "error", err)
			continue
		}
		slog.Info("Startup orphan recovered", "execution_id", exec.ID)
	}

	return nil
}
