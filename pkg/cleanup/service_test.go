package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/config"
	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/services"
	testdb "github.com/forge-ide/loom/test/database"
)

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

func (e *env) createExecution(t *testing.T) *models.Execution {
	t.Helper()
	wf, err := e.workflows.CreateWorkflow(context.Background(), models.CreateWorkflowRequest{
		Name:  "retention test",
		Steps: []models.WorkflowStep{{ID: "work", Type: models.NodeTypeAgent}},
	})
	require.NoError(t, err)
	exec, err := e.executions.CreateExecution(context.Background(), models.CreateExecutionRequest{WorkflowID: wf.ID})
	require.NoError(t, err)
	return exec
}

func TestRunAll_DeletesOldTerminalExecutions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	old := e.createExecution(t)
	_, err := e.executions.UpdateStatus(ctx, old.ID, models.ExecutionStatusCompleted, "")
	require.NoError(t, err)

	// Backdate past the retention window.
	exec, err := e.executions.GetExecution(ctx, old.ID)
	require.NoError(t, err)
	ancient := time.Now().UTC().AddDate(-1, 0, 0)
	exec.CompletedAt = &ancient
	require.NoError(t, e.executions.Save(ctx, exec))

	recent := e.createExecution(t)
	_, err = e.executions.UpdateStatus(ctx, recent.ID, models.ExecutionStatusFailed, "boom")
	require.NoError(t, err)

	running := e.createExecution(t)

	svc := NewService(config.RetentionConfig{
		ExecutionRetentionDays: 30,
		EventTTL:               time.Hour,
		CleanupInterval:        time.Hour,
	}, e.db)
	svc.RunAll(ctx)

	_, err = e.executions.GetExecution(ctx, old.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = e.executions.GetExecution(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = e.executions.GetExecution(ctx, running.ID)
	assert.NoError(t, err)
}

func TestRunAll_SweepsExpiredEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	exec := e.createExecution(t)
	_, err := e.db.InsertEvent(ctx, exec.ID, "test:"+exec.ID, `{"type":"test"}`)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	svc := NewService(config.RetentionConfig{
		ExecutionRetentionDays: 30,
		EventTTL:               time.Nanosecond,
		CleanupInterval:        time.Hour,
	}, e.db)
	svc.RunAll(ctx)

	rows, err := e.db.ListEventsSince(ctx, "test:"+exec.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestService_StartStop(t *testing.T) {
	e := newEnv(t)

	svc := NewService(config.RetentionConfig{
		ExecutionRetentionDays: 30,
		EventTTL:               time.Hour,
		CleanupInterval:        time.Hour,
	}, e.db)
	svc.Start(context.Background())
	svc.Start(context.Background()) // idempotent
	svc.Stop()
}

func TestRunAll_ZeroConfigIsNoop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	exec := e.createExecution(t)
	_, err := e.db.InsertEvent(ctx, exec.ID, "test:"+exec.ID, `{"type":"test"}`)
	require.NoError(t, err)

	svc := NewService(config.RetentionConfig{}, e.db)
	svc.RunAll(ctx)

	rows, err := e.db.ListEventsSince(ctx, "test:"+exec.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
