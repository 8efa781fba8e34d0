package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forge-ide/loom/pkg/models"
)

// listPersonasHandler handles GET /api/v1/personas.
func (s *Server) listPersonasHandler(c *gin.Context) {
	personas, err := s.svc.Personas.ListPersonas(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"personas": personas})
}

// getPersonaHandler handles GET /api/v1/personas/:id.
func (s *Server) getPersonaHandler(c *gin.Context) {
	persona, err := s.svc.Personas.GetPersona(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, persona)
}

// createPersonaHandler handles POST /api/v1/personas.
func (s *Server) createPersonaHandler(c *gin.Context) {
	var req models.CreatePersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	persona, err := s.svc.Personas.CreatePersona(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, persona)
}

// updatePersonaHandler handles PUT /api/v1/personas/:id. Full replace of
// the mutable fields.
func (s *Server) updatePersonaHandler(c *gin.Context) {
	var req models.CreatePersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	persona, err := s.svc.Personas.UpdatePersona(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, persona)
}

// deletePersonaHandler handles DELETE /api/v1/personas/:id. Agents that
// reference the persona keep working on their bare system prompt.
func (s *Server) deletePersonaHandler(c *gin.Context) {
	if err := s.svc.Personas.DeletePersona(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
