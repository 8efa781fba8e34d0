package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/models"
)

func TestPersonaCRUD(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/personas", models.CreatePersonaRequest{
		Name:        "Terse",
		Description: "Short answers",
		Prompt:      "Answer in as few words as possible.",
		Traits:      []string{"terse", "direct"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	persona := decodeBody[models.Persona](t, w)
	require.NotEmpty(t, persona.ID)

	w = h.do(t, http.MethodGet, "/api/v1/personas/"+persona.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Terse", decodeBody[models.Persona](t, w).Name)

	w = h.do(t, http.MethodPut, "/api/v1/personas/"+persona.ID, models.CreatePersonaRequest{
		Name:   "Verbose",
		Prompt: "Explain everything in detail.",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Verbose", decodeBody[models.Persona](t, w).Name)

	w = h.do(t, http.MethodGet, "/api/v1/personas", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[struct {
		Personas []models.Persona `json:"personas"`
	}](t, w)
	require.Len(t, list.Personas, 1)

	w = h.do(t, http.MethodDelete, "/api/v1/personas/"+persona.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/personas/"+persona.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreatePersona_Validation(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/personas", models.CreatePersonaRequest{Name: "No prompt"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/personas", models.CreatePersonaRequest{Prompt: "No name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
