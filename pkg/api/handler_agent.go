package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forge-ide/loom/pkg/models"
)

// listAgentsHandler handles GET /api/v1/agents.
func (s *Server) listAgentsHandler(c *gin.Context) {
	agents, err := s.svc.Agents.ListAgents(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// getAgentHandler handles GET /api/v1/agents/:id.
func (s *Server) getAgentHandler(c *gin.Context) {
	agent, err := s.svc.Agents.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// createAgentHandler handles POST /api/v1/agents.
func (s *Server) createAgentHandler(c *gin.Context) {
	var req models.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	agent, err := s.svc.Agents.CreateAgent(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// updateAgentHandler handles PATCH /api/v1/agents/:id. Nil fields are
// left unchanged.
func (s *Server) updateAgentHandler(c *gin.Context) {
	var req models.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	agent, err := s.svc.Agents.UpdateAgent(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// deleteAgentHandler handles DELETE /api/v1/agents/:id. System agents
// are immutable and refuse deletion.
func (s *Server) deleteAgentHandler(c *gin.Context) {
	if err := s.svc.Agents.DeleteAgent(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// duplicateAgentHandler handles POST /api/v1/agents/:id/duplicate.
func (s *Server) duplicateAgentHandler(c *gin.Context) {
	var req DuplicateAgentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	agent, err := s.svc.Agents.DuplicateAgent(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}
