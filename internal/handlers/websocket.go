package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chachabrian/mooveit-rides/internal/services"
)

// WebSocketHandler subscribes the caller to their booking events.
func WebSocketHandler(hub *services.Hub, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		if err := hub.ServeClient(c.Writer, c.Request, userID); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("WebSocket connection failed")
		}
	}
}
