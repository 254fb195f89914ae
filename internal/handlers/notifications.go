package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-rides/internal/middleware"
	"github.com/chachabrian/mooveit-rides/internal/services"
)

// GetNotifications lists the caller's notifications, newest first.
// ?unread=true restricts to unread ones.
func GetNotifications(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		unreadOnly := c.Query("unread") == "true"

		notes, err := q.Notifications(c.Request.Context(), c.GetUint("userId"), unreadOnly, pageQuery(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, notes)
	}
}

func GetUnreadCount(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := q.UnreadCount(c.Request.Context(), c.GetUint("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"unread": n})
	}
}

func MarkNotificationRead(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}

		note, err := q.MarkNotificationRead(c.Request.Context(), id, c.GetUint("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, note)
	}
}

func MarkAllNotificationsRead(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := q.MarkAllNotificationsRead(c.Request.Context(), c.GetUint("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Notifications marked as read", "updated": n})
	}
}

// RegisterFCMToken registers or updates a user's FCM token
func RegisterFCMToken(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input services.DeviceRegistration
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, err)
			return
		}

		if err := q.RegisterDevice(c.Request.Context(), middleware.Principal(c), input); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "FCM token registered successfully"})
	}
}
