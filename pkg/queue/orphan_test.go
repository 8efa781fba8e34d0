package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/models"
)

func TestDetectAndRecoverOrphans(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)

	// Claim stamps the heartbeat; a tiny threshold plus a short sleep
	// makes it stale.
	claimed, err := e.db.ClaimNextPendingExecution(context.Background(), "dead-pod")
	require.NoError(t, err)
	require.Equal(t, exec.ID, claimed.ID)

	cfg := testQueueConfig()
	cfg.OrphanThreshold = time.Millisecond
	pool := NewWorkerPool("pod-1", e.db, cfg, &stubDriver{}, e.executions, e.workflows, nil)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pool.detectAndRecoverOrphans(context.Background()))

	got, err := e.executions.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "no heartbeat from pod dead-pod")

	pool.orphans.mu.Lock()
	assert.Equal(t, 1, pool.orphans.orphansRecovered)
	pool.orphans.mu.Unlock()
}

func TestDetectAndRecoverOrphans_FreshHeartbeatUntouched(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)
	_, err := e.db.ClaimNextPendingExecution(context.Background(), "live-pod")
	require.NoError(t, err)

	pool := NewWorkerPool("pod-1", e.db, testQueueConfig(), &stubDriver{}, e.executions, e.workflows, nil)
	require.NoError(t, pool.detectAndRecoverOrphans(context.Background()))

	got, err := e.executions.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)
}

func TestCleanupStartupOrphans(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)
	_, err := e.db.ClaimNextPendingExecution(context.Background(), "old-pod")
	require.NoError(t, err)

	// A pending execution from the same workflow stays untouched.
	pending := e.createPendingExecution(t)

	require.NoError(t, CleanupStartupOrphans(context.Background(), e.db, e.executions))

	got, err := e.executions.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "process restarted")

	stillPending, err := e.executions.GetExecution(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, stillPending.Status)
}
