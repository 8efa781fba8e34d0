package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forge-ide/loom/pkg/session"
)

// sendChatMessageHandler handles POST /api/v1/chats/:chatId/agents/:agentId/messages.
// Creates or reuses the (chat, agent) session and runs the send-and-stream
// loop asynchronously; progress streams over the WebSocket event channel.
func (s *Server) sendChatMessageHandler(c *gin.Context) {
	chatID := c.Param("chatId")
	agentID := c.Param("agentId")

	if s.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "chat is not available"})
		return
	}

	var req SendChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.Content == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content is required"})
		return
	}
	if len(req.Content) > maxChatContentLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content exceeds maximum length of 100,000 characters"})
		return
	}

	sess, err := s.sessions.GetOrCreate(c.Request.Context(), chatID, agentID, req.CLISessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if req.WorkingDir != "" {
		if err := s.sessions.SetWorkingDir(sess.ID, req.WorkingDir); err != nil {
			respondServiceError(c, err)
			return
		}
	}

	// Friendly rejection for the common case; SendMessage re-checks
	// atomically and the goroutine below just logs the race loser.
	if state := sess.State(); state != session.StateIdle && state != session.StateCancelled {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "agent is busy with a previous message"})
		return
	}

	// The loop outlives the HTTP request.
	go func() {
		if _, err := s.sessions.SendMessage(context.Background(), sess.ID, req.Content, nil); err != nil {
			slog.Error("Chat message loop failed",
				"session_id", sess.ID, "chat_id", chatID, "agent_id", agentID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, SendChatMessageResponse{
		SessionID: sess.ID,
		State:     string(session.StateStreaming),
	})
}

// cancelChatMessageHandler handles POST /api/v1/chats/:chatId/agents/:agentId/cancel.
func (s *Server) cancelChatMessageHandler(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "chat is not available"})
		return
	}

	sess, ok := s.sessions.GetByKey(c.Param("chatId"), c.Param("agentId"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no session for chat/agent pair"})
		return
	}
	if err := s.sessions.CancelMessage(sess.ID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "message": "Cancellation requested"})
}

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusOK, SessionsResponse{Sessions: []SessionSummary{}})
		return
	}

	list := s.sessions.List()
	out := make([]SessionSummary, 0, len(list))
	for _, sess := range list {
		out = append(out, SessionSummary{
			ID:         sess.ID,
			ChatID:     sess.ChatID,
			AgentID:    sess.AgentID,
			ProviderID: sess.ProviderID,
			State:      string(sess.State()),
			CreatedAt:  sess.CreatedAt,
			UpdatedAt:  sess.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, SessionsResponse{Sessions: out})
}
