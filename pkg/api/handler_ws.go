package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades GET /ws to a WebSocket and delegates to the
// ConnectionManager, which blocks until the connection closes.
func (s *Server) wsHandler(c *gin.Context) {
	if s.connManager == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "WebSocket not available"})
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Server.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Server.AllowedWSOrigins
	} else {
		// Local single-user deployment: the IDE shell connects from an
		// app:// or file:// origin that never matches the listen host.
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		return
	}
	s.connManager.HandleConnection(c.Request.Context(), conn)
}
