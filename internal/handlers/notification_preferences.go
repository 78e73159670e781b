package handlers

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/notify"
)

// GetNotificationPreferences retrieves user's notification preferences
func GetNotificationPreferences(inbox *notify.Inbox, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		prefs, err := inbox.Preferences(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch preferences")
			return
		}
		c.JSON(200, prefs)
	}
}

// UpdateNotificationPreferences updates user's notification preferences
func UpdateNotificationPreferences(inbox *notify.Inbox, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			PushEnabled         *bool `json:"pushEnabled"`
			RideRequestAlerts   *bool `json:"rideRequestAlerts"`
			RideStatusAlerts    *bool `json:"rideStatusAlerts"`
			MessageAlerts       *bool `json:"messageAlerts"`
			RatingAlerts        *bool `json:"ratingAlerts"`
			PromotionalMessages *bool `json:"promotionalMessages"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		preferences, err := inbox.Preferences(ctx, c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch preferences")
			return
		}

		// Update only provided fields
		if input.PushEnabled != nil {
			preferences.PushEnabled = *input.PushEnabled
		}
		if input.RideRequestAlerts != nil {
			preferences.RideRequestAlerts = *input.RideRequestAlerts
		}
		if input.RideStatusAlerts != nil {
			preferences.RideStatusAlerts = *input.RideStatusAlerts
		}
		if input.MessageAlerts != nil {
			preferences.MessageAlerts = *input.MessageAlerts
		}
		if input.RatingAlerts != nil {
			preferences.RatingAlerts = *input.RatingAlerts
		}
		if input.PromotionalMessages != nil {
			preferences.PromotionalMessages = *input.PromotionalMessages
		}
		preferences.UpdatedAt = time.Now().UTC()

		if err := inbox.SavePreferences(ctx, preferences); err != nil {
			respondError(c, log, err, "Failed to update preferences")
			return
		}
		c.JSON(200, preferences)
	}
}
