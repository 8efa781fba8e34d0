package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forge-ide/loom/pkg/models"
	"github.com/forge-ide/loom/pkg/permissions"
)

// listPermissionsHandler handles GET /api/v1/permissions.
func (s *Server) listPermissionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, PermissionsResponse{
		Approvals: s.perms.List(),
		Pending:   s.perms.PendingRequests(),
	})
}

// addPermissionHandler handles POST /api/v1/permissions.
func (s *Server) addPermissionHandler(c *gin.Context) {
	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.ToolName == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "tool_name is required"})
		return
	}

	var (
		approval *models.Approval
		err      error
	)
	switch req.Scope {
	case models.ScopeSession:
		if req.SessionID == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "session_id is required for session scope"})
			return
		}
		approval = s.perms.AddSession(req.SessionID, req.ToolName, req.ExpiresAt)
	case models.ScopeFolder:
		if req.FolderPath == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "folder_path is required for folder scope"})
			return
		}
		approval, err = s.perms.AddFolder(req.FolderPath, req.ToolName, req.ExpiresAt)
	case models.ScopeGlobal:
		approval, err = s.perms.AddGlobal(req.ToolName)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "scope must be session, folder, or global"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, approval)
}

// removePermissionHandler handles DELETE /api/v1/permissions.
func (s *Server) removePermissionHandler(c *gin.Context) {
	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.ToolName == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "tool_name is required"})
		return
	}

	switch req.Scope {
	case models.ScopeSession:
		s.perms.RemoveSession(req.SessionID, req.ToolName)
	case models.ScopeFolder:
		s.perms.RemoveFolder(req.FolderPath, req.ToolName)
	case models.ScopeGlobal:
		s.perms.RemoveGlobal(req.ToolName)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "scope must be session, folder, or global"})
		return
	}
	c.Status(http.StatusNoContent)
}

// approveRequestHandler handles POST /api/v1/permissions/requests/:id/approve.
func (s *Server) approveRequestHandler(c *gin.Context) {
	var req ApproveRequestBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}
	if req.Scope == "" {
		req.Scope = models.ScopeOnce
	}

	if err := s.perms.Approve(c.Param("id"), req.Scope, req.FolderPath); err != nil {
		respondPermissionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": c.Param("id"), "approved": true})
}

// denyRequestHandler handles POST /api/v1/permissions/requests/:id/deny.
func (s *Server) denyRequestHandler(c *gin.Context) {
	if err := s.perms.Deny(c.Param("id")); err != nil {
		respondPermissionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": c.Param("id"), "approved": false})
}

// exportPermissionsHandler handles GET /api/v1/permissions/export.
func (s *Server) exportPermissionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.perms.Export())
}

// importPermissionsHandler handles POST /api/v1/permissions/import.
func (s *Server) importPermissionsHandler(c *gin.Context) {
	var snapshot permissions.ExportedApprovals
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ImportResponse{Imported: s.perms.Import(snapshot)})
}

func respondPermissionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, permissions.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "pending request not found"})
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
}
