package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forge-ide/loom/pkg/models"
)

// createWorkflowHandler handles POST /api/v1/workflows.
func (s *Server) createWorkflowHandler(c *gin.Context) {
	var req models.CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	wf, err := s.svc.Workflows.CreateWorkflow(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

// listWorkflowsHandler handles GET /api/v1/workflows.
func (s *Server) listWorkflowsHandler(c *gin.Context) {
	workflows, err := s.svc.Workflows.ListWorkflows(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

// getWorkflowHandler handles GET /api/v1/workflows/:id.
func (s *Server) getWorkflowHandler(c *gin.Context) {
	wf, err := s.svc.Workflows.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// updateWorkflowHandler handles PUT /api/v1/workflows/:id.
func (s *Server) updateWorkflowHandler(c *gin.Context) {
	var req models.CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	wf, err := s.svc.Workflows.UpdateWorkflow(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// deleteWorkflowHandler handles DELETE /api/v1/workflows/:id.
func (s *Server) deleteWorkflowHandler(c *gin.Context) {
	if err := s.svc.Workflows.DeleteWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// executeWorkflowHandler handles POST /api/v1/workflows/:id/execute.
// Creates a pending execution; a queue worker claims and drives it.
func (s *Server) executeWorkflowHandler(c *gin.Context) {
	var req ExecuteWorkflowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	exec, err := s.svc.Executions.CreateExecution(c.Request.Context(), models.CreateExecutionRequest{
		WorkflowID:   c.Param("id"),
		InitialInput: req.InitialInput,
		WorkingDir:   req.WorkingDir,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, exec)
}
