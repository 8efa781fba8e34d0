// Package api exposes the HTTP and WebSocket surface: workflow and agent
// CRUD, execution control, chat sessions, permission management, and the
// event stream. Handlers are thin; state changes go through the service
// layer and the workflow executor.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forge-ide/loom/pkg/config"
	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/pkg/events"
	"github.com/forge-ide/loom/pkg/permissions"
	"github.com/forge-ide/loom/pkg/queue"
	"github.com/forge-ide/loom/pkg/session"
	"github.com/forge-ide/loom/pkg/workflow"
)

// ExecutionPool is the queue surface the API needs: cancelling in-flight
// executions and handing resumed ones back for driving.
type ExecutionPool interface {
	CancelExecution(executionID string) bool
	ResumeExecution(ctx context.Context, executionID string) error
	Health() *queue.PoolHealth
}

// Server wires handlers to their dependencies. connManager, pool and
// sessions may be nil in reduced deployments; the affected endpoints
// return 503.
type Server struct {
	cfg         *config.Config
	db          *database.Client
	svc         workflow.Services
	executor    *workflow.Executor
	sessions    *session.Manager
	perms       *permissions.Service
	connManager *events.ConnectionManager
	pool        ExecutionPool

	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, db *database.Client, svc workflow.Services, executor *workflow.Executor, sessions *session.Manager, perms *permissions.Service, connManager *events.ConnectionManager, pool ExecutionPool) *Server {
	return &Server{
		cfg:         cfg,
		db:          db,
		svc:         svc,
		executor:    executor,
		sessions:    sessions,
		perms:       perms,
		connManager: connManager,
		pool:        pool,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders())

	// Unauthenticated: health probes and the event stream (the WebSocket
	// subprotocol cannot carry custom headers from browsers).
	r.GET("/api/v1/health", s.healthHandler)
	r.GET("/ws", s.wsHandler)

	v1 := r.Group("/api/v1")
	if key := s.cfg.Server.APIKey(); key != "" {
		v1.Use(apiKeyAuth(key))
	}

	v1.POST("/workflows", s.createWorkflowHandler)
	v1.GET("/workflows", s.listWorkflowsHandler)
	v1.GET("/workflows/:id", s.getWorkflowHandler)
	v1.PUT("/workflows/:id", s.updateWorkflowHandler)
	v1.DELETE("/workflows/:id", s.deleteWorkflowHandler)
	v1.POST("/workflows/:id/execute", s.executeWorkflowHandler)

	v1.GET("/executions", s.listExecutionsHandler)
	v1.GET("/executions/:id", s.getExecutionHandler)
	v1.POST("/executions/:id/cancel", s.cancelExecutionHandler)
	v1.POST("/executions/:id/input", s.executionInputHandler)
	v1.GET("/executions/:id/checkpoint", s.getPendingCheckpointHandler)
	v1.POST("/executions/:id/checkpoint", s.checkpointDecisionHandler)
	v1.GET("/executions/:id/messages", s.listExecutionMessagesHandler)
	v1.DELETE("/executions/:id", s.deleteExecutionHandler)

	v1.POST("/chats/:chatId/agents/:agentId/messages", s.sendChatMessageHandler)
	v1.POST("/chats/:chatId/agents/:agentId/cancel", s.cancelChatMessageHandler)
	v1.GET("/sessions", s.listSessionsHandler)

	v1.GET("/agents", s.listAgentsHandler)
	v1.GET("/agents/:id", s.getAgentHandler)
	v1.POST("/agents", s.createAgentHandler)
	v1.PATCH("/agents/:id", s.updateAgentHandler)
	v1.DELETE("/agents/:id", s.deleteAgentHandler)
	v1.POST("/agents/:id/duplicate", s.duplicateAgentHandler)

	v1.GET("/personas", s.listPersonasHandler)
	v1.GET("/personas/:id", s.getPersonaHandler)
	v1.POST("/personas", s.createPersonaHandler)
	v1.PUT("/personas/:id", s.updatePersonaHandler)
	v1.DELETE("/personas/:id", s.deletePersonaHandler)

	v1.GET("/permissions", s.listPermissionsHandler)
	v1.POST("/permissions", s.addPermissionHandler)
	v1.DELETE("/permissions", s.removePermissionHandler)
	v1.POST("/permissions/requests/:id/approve", s.approveRequestHandler)
	v1.POST("/permissions/requests/:id/deny", s.denyRequestHandler)
	v1.GET("/permissions/export", s.exportPermissionsHandler)
	v1.POST("/permissions/import", s.importPermissionsHandler)

	return r
}

// Start begins serving HTTP on the configured address. Blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
