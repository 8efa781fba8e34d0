package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/forge-ide/loom/pkg/models"
)

// listExecutionsHandler handles GET /api/v1/executions.
func (s *Server) listExecutionsHandler(c *gin.Context) {
	filters := models.ExecutionFilters{
		WorkflowID: c.Query("workflow_id"),
		Limit:      50,
	}

	if v := c.Query("status"); v != "" {
		status := models.ExecutionStatus(v)
		if !validExecutionStatus(status) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status: " + v})
			return
		}
		filters.Status = status
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			filters.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	result, err := s.svc.Executions.ListExecutions(c.Request.Context(), filters)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getExecutionHandler handles GET /api/v1/executions/:id.
func (s *Server) getExecutionHandler(c *gin.Context) {
	exec, err := s.svc.Executions.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// cancelExecutionHandler handles POST /api/v1/executions/:id/cancel.
// Marks the execution cancelled in storage and, when it is being driven
// on this pod, cancels its context so the in-flight node aborts.
func (s *Server) cancelExecutionHandler(c *gin.Context) {
	id := c.Param("id")

	cancelErr := s.executor.CancelExecution(c.Request.Context(), id)

	// Always try to kill the in-flight context, regardless of the DB
	// result: the row may already be terminal while a step still runs.
	inFlight := false
	if s.pool != nil {
		inFlight = s.pool.CancelExecution(id)
	}

	if cancelErr != nil && !inFlight {
		respondServiceError(c, cancelErr)
		return
	}
	c.JSON(http.StatusOK, CancelResponse{
		ExecutionID: id,
		Message:     "Execution cancellation requested",
	})
}

// executionInputHandler handles POST /api/v1/executions/:id/input.
// Feeds a user reply into an awaiting_input execution and hands it back
// to the pool for driving.
func (s *Server) executionInputHandler(c *gin.Context) {
	id := c.Param("id")

	var req ExecutionInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Input == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "input is required"})
		return
	}

	if err := s.executor.ResumeAfterInput(c.Request.Context(), id, req.Input); err != nil {
		respondServiceError(c, err)
		return
	}
	s.resumeViaPool(c, id)
	c.JSON(http.StatusAccepted, gin.H{"execution_id": id, "status": models.ExecutionStatusRunning})
}

// getPendingCheckpointHandler handles GET /api/v1/executions/:id/checkpoint.
func (s *Server) getPendingCheckpointHandler(c *gin.Context) {
	cp, err := s.svc.Checkpoints.GetPendingCheckpoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

// checkpointDecisionHandler handles POST /api/v1/executions/:id/checkpoint.
func (s *Server) checkpointDecisionHandler(c *gin.Context) {
	id := c.Param("id")

	var req CheckpointDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.CheckpointID == "" || req.Decision == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "checkpoint_id and decision are required"})
		return
	}

	if err := s.executor.ResumeAfterCheckpoint(c.Request.Context(), id, req.CheckpointID, req.Decision, req.Feedback); err != nil {
		respondServiceError(c, err)
		return
	}
	// A rejection cancels instead of resuming; ResumeExecution skips
	// anything that is not running.
	s.resumeViaPool(c, id)

	exec, err := s.svc.Executions.GetExecution(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// listExecutionMessagesHandler handles GET /api/v1/executions/:id/messages.
func (s *Server) listExecutionMessagesHandler(c *gin.Context) {
	msgs, err := s.svc.Messages.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{Messages: msgs})
}

// deleteExecutionHandler handles DELETE /api/v1/executions/:id.
func (s *Server) deleteExecutionHandler(c *gin.Context) {
	if err := s.svc.Executions.DeleteExecution(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// resumeViaPool hands a resumed execution back to the queue pool. Failure
// is logged inside the pool; the execution stays running and the stale
// heartbeat sweep eventually recovers it if nothing drives it.
func (s *Server) resumeViaPool(c *gin.Context, executionID string) {
	if s.pool == nil {
		return
	}
	_ = s.pool.ResumeExecution(c.Request.Context(), executionID)
}

func validExecutionStatus(status models.ExecutionStatus) bool {
	switch status {
	case models.ExecutionStatusPending, models.ExecutionStatusRunning,
		models.ExecutionStatusPaused, models.ExecutionStatusAwaitingInput,
		models.ExecutionStatusCompleted, models.ExecutionStatusFailed,
		models.ExecutionStatusCancelled:
		return true
	}
	return false
}
