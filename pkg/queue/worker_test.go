package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/config"
	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/services"
	"github.com/forge-ide/loom/pkg/workflow"
	testdb "github.com/forge-ide/loom/test/database"
)

// stubDriver scripts ExecuteStep outcomes per call.
type stubDriver struct {
	mu       sync.Mutex
	started  []string
	steps    []func(ctx context.Context, executionID string) (*workflow.StepResult, error)
	stepIdx  int
	executed int
}

func (d *stubDriver) Start(_ context.Context, executionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = append(d.started, executionID)
	return nil
}

func (d *stubDriver) ExecuteStep(ctx context.Context, executionID string) (*workflow.StepResult, error) {
	d.mu.Lock()
	step := d.steps[d.stepIdx]
	if d.stepIdx < len(d.steps)-1 {
		d.stepIdx++
	}
	d.executed++
	d.mu.Unlock()
	return step(ctx, executionID)
}

type env struct {
	db         *database.Client
	executions *services.ExecutionService
	workflows  *services.WorkflowService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	client := testdb.NewTestClient(t)
	publisher := events.NewPublisher(client, events.NewBus())
	return &env{
		db:         client,
		executions: services.NewExecutionService(client, publisher),
		workflows:  services.NewWorkflowService(client),
	}
}

func (e *env) createPendingExecution(t *testing.T) *models.Execution {
	t.Helper()
	wf, err := e.workflows.CreateWorkflow(context.Background(), models.CreateWorkflowRequest{
		Name: "queue test",
		Steps: []models.WorkflowStep{
			{ID: "work", Type: models.NodeTypeAgent},
		},
	})
	require.NoError(t, err)
	exec, err := e.executions.CreateExecution(context.Background(), models.CreateExecutionRequest{
		WorkflowID:   wf.ID,
		InitialInput: "do the work",
	})
	require.NoError(t, err)
	return exec
}

// noopRegistry satisfies ExecutionRegistry for direct worker tests.
type noopRegistry struct{}

func (noopRegistry) RegisterExecution(string, context.CancelFunc)  {}
func (noopRegistry) UnregisterExecution(string)                    {}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		WorkerCount:             1,
		MaxConcurrentExecutions: 2,
		PollInterval:            10 * time.Millisecond,
		ExecutionTimeout:        5 * time.Second,
		HeartbeatInterval:       10 * time.Millisecond,
		OrphanDetectionInterval: time.Hour,
		OrphanThreshold:         time.Hour,
	}
}

func TestWorker_PollAndProcess_DrivesToCompletion(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)

	driver := &stubDriver{steps: []func(ctx context.Context, executionID string) (*workflow.StepResult, error){
		func(_ context.Context, id string) (*workflow.StepResult, error) {
			return &workflow.StepResult{NodeID: "work"}, nil
		},
		func(_ context.Context, id string) (*workflow.StepResult, error) {
			_, err := e.executions.UpdateStatus(context.Background(), id, models.ExecutionStatusCompleted, "")
			return &workflow.StepResult{Done: true}, err
		},
	}}

	w := NewWorker("w-0", "pod-1", e.db, testQueueConfig(), driver, e.executions, e.workflows, noopRegistry{}, nil)
	require.NoError(t, w.pollAndProcess(context.Background()))

	got, err := e.executions.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, []string{exec.ID}, driver.started)
	assert.Equal(t, "pod-1", got.PodID)
	require.NotNil(t, got.StartedAt)

	health := w.Health()
	assert.Equal(t, 1, health.ExecutionsProcessed)
	assert.Equal(t, string(WorkerStatusIdle), health.Status)
}

func TestWorker_PollAndProcess_EmptyQueue(t *testing.T) {
	e := newEnv(t)
	driver := &stubDriver{steps: []func(ctx context.Context, executionID string) (*workflow.StepResult, error){
		func(_ context.Context, _ string) (*workflow.StepResult, error) {
			return &workflow.StepResult{Done: true}, nil
		},
	}}

	w := NewWorker("w-0", "pod-1", e.db, testQueueConfig(), driver, e.executions, e.workflows, noopRegistry{}, nil)
	err := w.pollAndProcess(context.Background())
	assert.ErrorIs(t, err, ErrNoExecutionsAvailable)
	assert.Zero(t, driver.executed)
}

func TestWorker_PollAndProcess_AtCapacity(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)
	_, err := e.executions.UpdateStatus(context.Background(), exec.ID, models.ExecutionStatusRunning, "")
	require.NoError(t, err)

	cfg := testQueueConfig()
	cfg.MaxConcurrentExecutions = 1

	w := NewWorker("w-0", "pod-1", e.db, cfg, &stubDriver{}, e.executions, e.workflows, noopRegistry{}, nil)
	assert.ErrorIs(t, w.pollAndProcess(context.Background()), ErrAtCapacity)
}

func TestWorker_PollAndProcess_ReleasesPausedExecution(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)

	driver := &stubDriver{steps: []func(ctx context.Context, executionID string) (*workflow.StepResult, error){
		func(_ context.Context, id string) (*workflow.StepResult, error) {
			_, err := e.executions.UpdateStatus(context.Background(), id, models.ExecutionStatusAwaitingInput, "")
			return &workflow.StepResult{NodeID: "work", Paused: true}, err
		},
	}}

	w := NewWorker("w-0", "pod-1", e.db, testQueueConfig(), driver, e.executions, e.workflows, noopRegistry{}, nil)
	require.NoError(t, w.pollAndProcess(context.Background()))

	got, err := e.executions.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusAwaitingInput, got.Status)
	// Paused executions are released, not reclaimed, until resumed.
	assert.ErrorIs(t, w.pollAndProcess(context.Background()), ErrNoExecutionsAvailable)
}

func TestWorker_PollAndProcess_DriverFailureSurfacesTerminalState(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)

	driver := &stubDriver{steps: []func(ctx context.Context, executionID string) (*workflow.StepResult, error){
		func(_ context.Context, id string) (*workflow.StepResult, error) {
			_, err := e.executions.UpdateStatus(context.Background(), id, models.ExecutionStatusFailed, "agent exploded")
			require.NoError(t, err)
			return nil, assert.AnError
		},
	}}

	w := NewWorker("w-0", "pod-1", e.db, testQueueConfig(), driver, e.executions, e.workflows, noopRegistry{}, nil)
	require.NoError(t, w.pollAndProcess(context.Background()))

	got, err := e.executions.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, got.Status)
	assert.Equal(t, "agent exploded", got.ErrorMessage)
}

func TestWorker_PollAndProcess_Timeout(t *testing.T) {
	e := newEnv(t)
	exec := e.createPendingExecution(t)

	cfg := testQueueConfig()
	cfg.ExecutionTimeout = 20 * time.Millisecond

	driver := &stubDriver{steps: []func(ctx context.Context, executionID string) (*workflow.StepResult, error){
		func(ctx context.Context, _ string) (*workflow.StepResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}

	w := NewWorker("w-0", "pod-1", e.db, cfg, driver, e.executions, e.workflows, noopRegistry{}, nil)
	require.NoError(t, w.pollAndProcess(context.Background()))

	got, err := e.executions.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "timed out")
}

func TestWorker_PollInterval_Jitter(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollInterval = 100 * time.Millisecond
	cfg.PollIntervalJitter = 50 * time.Millisecond

	w := NewWorker("w-0", "pod-1", nil, cfg, nil, nil, nil, noopRegistry{}, nil)
	for i := 0; i < 50; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
