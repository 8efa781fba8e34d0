package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/models"
)

func TestWorkflowCRUD(t *testing.T) {
	h := newAPIHarness(t)
	wf := h.createWorkflow(t)
	require.NotEmpty(t, wf.ID)

	w := h.do(t, http.MethodGet, "/api/v1/workflows/"+wf.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[models.Workflow](t, w)
	assert.Equal(t, "api test", got.Name)
	assert.Len(t, got.Steps, 2)

	w = h.do(t, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), wf.ID)

	w = h.do(t, http.MethodPut, "/api/v1/workflows/"+wf.ID, models.CreateWorkflowRequest{
		Name:  "renamed",
		Steps: []models.WorkflowStep{{ID: "only", Type: models.NodeTypeAgent}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "renamed", decodeBody[models.Workflow](t, w).Name)

	w = h.do(t, http.MethodDelete, "/api/v1/workflows/"+wf.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/workflows/"+wf.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateWorkflow_Invalid(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/workflows", models.CreateWorkflowRequest{
		Name: "no steps",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/workflows", map[string]any{"name": []int{1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteWorkflow(t *testing.T) {
	h := newAPIHarness(t)
	wf := h.createWorkflow(t)

	w := h.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/execute", ExecuteWorkflowRequest{
		InitialInput: "go",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	exec := decodeBody[models.Execution](t, w)
	assert.Equal(t, models.ExecutionStatusPending, exec.Status)
	assert.Equal(t, wf.ID, exec.WorkflowID)
	assert.Equal(t, "go", exec.InitialInput)
}

func TestExecuteWorkflow_MissingWorkflow(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodPost, "/api/v1/workflows/nope/execute", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
