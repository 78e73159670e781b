package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/services"
)

// WebSocketHandler handles WebSocket connections
func WebSocketHandler(hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request, c.GetString("userId"))
	}
}
