package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/models"
)

func TestAgentCRUD(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/agents", models.CreateAgentRequest{
		Name:         "Docs Writer",
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "Write documentation.",
		Tools:        []string{"read_file"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	agent := decodeBody[models.Agent](t, w)
	require.NotEmpty(t, agent.ID)
	assert.False(t, agent.IsSystem)

	w = h.do(t, http.MethodGet, "/api/v1/agents/"+agent.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	newName := "Tech Writer"
	w = h.do(t, http.MethodPatch, "/api/v1/agents/"+agent.ID, models.UpdateAgentRequest{Name: &newName})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Tech Writer", decodeBody[models.Agent](t, w).Name)

	w = h.do(t, http.MethodDelete, "/api/v1/agents/"+agent.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/agents/"+agent.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAgents_IncludesSystemAgents(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"coder"`)
	assert.Contains(t, w.Body.String(), `"assistant"`)
}

func TestDeleteSystemAgent_Refused(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodDelete, "/api/v1/agents/coder", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDuplicateAgent(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/agents/coder/duplicate", DuplicateAgentRequest{Name: "My Coder"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	dup := decodeBody[models.Agent](t, w)
	assert.Equal(t, "My Coder", dup.Name)
	assert.False(t, dup.IsSystem)
	assert.NotEqual(t, "coder", dup.ID)

	// A duplicate without a name is rejected.
	w = h.do(t, http.MethodPost, "/api/v1/agents/coder/duplicate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
