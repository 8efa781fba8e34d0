package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/models"
)

// startAwaitingExecution drives a fresh execution up to its await_input
// node so resume endpoints have something to act on.
func (h *apiHarness) startAwaitingExecution(t *testing.T) *models.Execution {
	t.Helper()
	wf := h.createWorkflow(t)

	w := h.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/execute", ExecuteWorkflowRequest{InitialInput: "hi"})
	require.Equal(t, http.StatusAccepted, w.Code)
	exec := decodeBody[models.Execution](t, w)

	ctx := context.Background()
	require.NoError(t, h.executor.Start(ctx, exec.ID))
	for i := 0; i < 10; i++ {
		res, err := h.executor.ExecuteStep(ctx, exec.ID)
		require.NoError(t, err)
		if res.Done || res.Paused {
			break
		}
	}

	got, err := h.svc.Executions.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusAwaitingInput, got.Status)
	return got
}

func TestListExecutions(t *testing.T) {
	h := newAPIHarness(t)
	wf := h.createWorkflow(t)

	for i := 0; i < 3; i++ {
		w := h.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/execute", nil)
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	w := h.do(t, http.MethodGet, "/api/v1/executions?workflow_id="+wf.ID+"&status=pending&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[models.ExecutionListResponse](t, w)
	assert.Equal(t, 3, resp.TotalCount)
	assert.Len(t, resp.Executions, 2)

	w = h.do(t, http.MethodGet, "/api/v1/executions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetExecution_NotFound(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodGet, "/api/v1/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelExecution(t *testing.T) {
	h := newAPIHarness(t)
	wf := h.createWorkflow(t)
	w := h.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	exec := decodeBody[models.Execution](t, w)

	w = h.do(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := h.svc.Executions.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, got.Status)

	// A second cancel hits an already-terminal execution.
	w = h.do(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecutionInput(t *testing.T) {
	h := newAPIHarness(t)
	exec := h.startAwaitingExecution(t)

	w := h.do(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/input", ExecutionInputRequest{Input: "more detail"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	got, err := h.svc.Executions.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)
	assert.Equal(t, 1, got.IterationCount)
}

func TestExecutionInput_Validation(t *testing.T) {
	h := newAPIHarness(t)
	wf := h.createWorkflow(t)
	w := h.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/execute", nil)
	exec := decodeBody[models.Execution](t, w)

	w = h.do(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/input", ExecutionInputRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Pending executions are not awaiting input.
	w = h.do(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/input", ExecutionInputRequest{Input: "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPendingCheckpoint_NotFound(t *testing.T) {
	h := newAPIHarness(t)
	exec := h.startAwaitingExecution(t)

	// Awaiting input, but no checkpoint node ran.
	w := h.do(t, http.MethodGet, "/api/v1/executions/"+exec.ID+"/checkpoint", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckpointDecision(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodPost, "/api/v1/workflows", models.CreateWorkflowRequest{
		Name: "gated",
		Steps: []models.WorkflowStep{
			{ID: "gate", Type: models.NodeTypeCheckpoint, CheckpointPrompt: "Ship it?"},
			{ID: "out", Type: models.NodeTypeOutput, Depends: []string{"gate"}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	wf := decodeBody[models.Workflow](t, w)

	w = h.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	exec := decodeBody[models.Execution](t, w)

	ctx := context.Background()
	require.NoError(t, h.executor.Start(ctx, exec.ID))
	res, err := h.executor.ExecuteStep(ctx, exec.ID)
	require.NoError(t, err)
	require.True(t, res.Paused)

	w = h.do(t, http.MethodGet, "/api/v1/executions/"+exec.ID+"/checkpoint", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cp := decodeBody[models.Checkpoint](t, w)
	assert.Equal(t, "Ship it?", cp.PromptMessage)

	w = h.do(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/checkpoint", CheckpointDecisionRequest{
		CheckpointID: cp.ID,
		Decision:     "approve",
		Feedback:     "lgtm",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ExecutionStatusRunning, decodeBody[models.Execution](t, w).Status)

	w = h.do(t, http.MethodPost, "/api/v1/executions/"+exec.ID+"/checkpoint", CheckpointDecisionRequest{
		Decision: "approve",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecutionMessagesAndDelete(t *testing.T) {
	h := newAPIHarness(t)
	wf := h.createWorkflow(t)
	w := h.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/execute", nil)
	exec := decodeBody[models.Execution](t, w)

	_, err := h.svc.Messages.AddMessage(context.Background(), exec.ID, models.MessageRoleUser, "", "hello there")
	require.NoError(t, err)

	w = h.do(t, http.MethodGet, "/api/v1/executions/"+exec.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[MessagesResponse](t, w)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hello there", resp.Messages[0].Content)

	w = h.do(t, http.MethodDelete, "/api/v1/executions/"+exec.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/executions/"+exec.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
