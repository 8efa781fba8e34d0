package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/workflow"
)

func TestWorkerPool_StartAndDrain(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)

	driver := &stubDriver{steps: []func(ctx context.Context, executionID string) (*workflow.StepResult, error){
		func(_ context.Context, id string) (*workflow.StepResult, error) {
			_, err := e.executions.UpdateStatus(context.Background(), id, models.ExecutionStatusCompleted, "")
			return &workflow.StepResult{Done: true}, err
		},
	}}

	cfg := testQueueConfig()
	pool := NewWorkerPool("pod-1", e.db, cfg, driver, e.executions, e.workflows, nil)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool {
		got, err := e.executions.GetExecution(context.Background(), exec.ID)
		return err == nil && got.Status == models.ExecutionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorkerPool_StartIsIdempotent(t *testing.T) {
	e := newEnv(t)
	pool := NewWorkerPool("pod-1", e.db, testQueueConfig(), &stubDriver{}, e.executions, e.workflows, nil)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	workers := len(pool.workers)
	require.NoError(t, pool.Start(context.Background()))
	assert.Equal(t, workers, len(pool.workers))
}

func TestWorkerPool_CancelExecution(t *testing.T) {
	e := newEnv(t)
	pool := NewWorkerPool("pod-1", e.db, testQueueConfig(), &stubDriver{}, e.executions, e.workflows, nil)

	cancelled := false
	pool.RegisterExecution("exec-1", func() { cancelled = true })

	assert.True(t, pool.CancelExecution("exec-1"))
	assert.True(t, cancelled)
	assert.False(t, pool.CancelExecution("exec-unknown"))

	pool.UnregisterExecution("exec-1")
	assert.False(t, pool.CancelExecution("exec-1"))
}

func TestWorkerPool_ResumeExecution(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)
	_, err := e.executions.UpdateStatus(context.Background(), exec.ID, models.ExecutionStatusRunning, "")
	require.NoError(t, err)

	driver := &stubDriver{steps: []func(ctx context.Context, executionID string) (*workflow.StepResult, error){
		func(_ context.Context, id string) (*workflow.StepResult, error) {
			_, err := e.executions.UpdateStatus(context.Background(), id, models.ExecutionStatusCompleted, "")
			return &workflow.StepResult{Done: true}, err
		},
	}}

	pool := NewWorkerPool("pod-1", e.db, testQueueConfig(), driver, e.executions, e.workflows, nil)
	require.NoError(t, pool.ResumeExecution(context.Background(), exec.ID))

	require.Eventually(t, func() bool {
		got, err := e.executions.GetExecution(context.Background(), exec.ID)
		return err == nil && got.Status == models.ExecutionStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// A resumed execution already ran the driver's Start hook once.
	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Empty(t, driver.started)
}

func TestWorkerPool_ResumeExecution_SkipsNonRunning(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)

	driver := &stubDriver{}
	pool := NewWorkerPool("pod-1", e.db, testQueueConfig(), driver, e.executions, e.workflows, nil)
	require.NoError(t, pool.ResumeExecution(context.Background(), exec.ID))
	pool.wg.Wait()
	assert.Zero(t, driver.executed)
}

func TestWorkerPool_Health(t *testing.T) {
	e := newEnv(t)
	e.createPendingExecution(t)

	pool := NewWorkerPool("pod-1", e.db, testQueueConfig(), &stubDriver{}, e.executions, e.workflows, nil)
	// Not started: no workers yet, so the pool reports unhealthy.
	health := pool.Health()
	assert.False(t, health.IsHealthy)
	assert.True(t, health.DBReachable)
	assert.Equal(t, 1, health.QueueDepth)
	assert.Equal(t, 0, health.ActiveExecutions)
	assert.Equal(t, "pod-1", health.PodID)
}
