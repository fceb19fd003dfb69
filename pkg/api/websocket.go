package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// handleWebSocket upgrades the connection and hands it to the event hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}
	s.hub.HandleConnection(c.Request.Context(), conn)
}
