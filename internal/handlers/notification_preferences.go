package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-rides/internal/services"
)

// GetNotificationPreferences retrieves user's notification preferences
func GetNotificationPreferences(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		prefs, err := q.Preferences(c.Request.Context(), c.GetUint("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, prefs)
	}
}

// UpdateNotificationPreferences updates user's notification preferences
func UpdateNotificationPreferences(q *services.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")

		var input struct {
			PushEnabled      *bool `json:"pushEnabled"`
			BookingAlerts    *bool `json:"bookingAlerts"`
			RideStatusAlerts *bool `json:"rideStatusAlerts"`
			PaymentAlerts    *bool `json:"paymentAlerts"`
			SMSEnabled       *bool `json:"smsEnabled"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, err)
			return
		}

		preferences, err := q.Preferences(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}

		// Update only provided fields
		if input.PushEnabled != nil {
			preferences.PushEnabled = *input.PushEnabled
		}
		if input.BookingAlerts != nil {
			preferences.BookingAlerts = *input.BookingAlerts
		}
		if input.RideStatusAlerts != nil {
			preferences.RideStatusAlerts = *input.RideStatusAlerts
		}
		if input.PaymentAlerts != nil {
			preferences.PaymentAlerts = *input.PaymentAlerts
		}
		if input.SMSEnabled != nil {
			preferences.SMSEnabled = *input.SMSEnabled
		}

		if err := q.SavePreferences(c.Request.Context(), preferences); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(200, gin.H{
			"message":     "Preferences updated successfully",
			"preferences": preferences,
		})
	}
}
