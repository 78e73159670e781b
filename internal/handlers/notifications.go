package handlers

import (
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/notify"
)

// streamKeepAlive is how often an idle notification stream sends a ping.
var streamKeepAlive = 25 * time.Second

// ListNotifications returns the caller's inbox, newest first
func ListNotifications(inbox *notify.Inbox, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := inbox.List(c.Request.Context(), c.GetString("userId"), c.Query("unread") == "true")
		if err != nil {
			respondError(c, log, err, "Failed to fetch notifications")
			return
		}
		c.JSON(200, gin.H{"notifications": list, "count": len(list)})
	}
}

func UnreadCount(inbox *notify.Inbox, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := inbox.UnreadCount(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to count notifications")
			return
		}
		c.JSON(200, gin.H{"unread": n})
	}
}

func MarkNotificationRead(inbox *notify.Inbox, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := inbox.MarkRead(c.Request.Context(), c.GetString("userId"), c.Param("id")); err != nil {
			respondError(c, log, err, "Failed to update notification")
			return
		}
		c.JSON(200, gin.H{"message": "Notification marked as read"})
	}
}

func MarkAllNotificationsRead(inbox *notify.Inbox, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := inbox.MarkAllRead(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to update notifications")
			return
		}
		c.JSON(200, gin.H{"message": "All notifications marked as read", "updated": n})
	}
}

// NotificationStream pushes the caller's inbox as server-sent events: the
// full list on connect and again after every change.
func NotificationStream(inbox *notify.Inbox, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := c.GetString("userId")

		// Only the latest snapshot matters; older ones are dropped.
		updates := make(chan []models.Notification, 1)
		push := func(list []models.Notification) {
			for {
				select {
				case updates <- list:
					return
				default:
				}
				select {
				case <-updates:
				default:
				}
			}
		}

		stop, err := inbox.Watch(ctx, userID, push)
		if err != nil {
			respondError(c, log, err, "Failed to open notification stream")
			return
		}
		defer stop()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")

		ping := time.NewTicker(streamKeepAlive)
		defer ping.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case list := <-updates:
				if list == nil {
					list = []models.Notification{}
				}
				unread := 0
				for _, n := range list {
					if !n.Read {
						unread++
					}
				}
				c.SSEvent("notifications", gin.H{"notifications": list, "unread": unread})
				return true
			case <-ping.C:
				c.SSEvent("ping", time.Now().Unix())
				return true
			}
		})
	}
}

// RegisterDeviceToken registers or updates an FCM token for the caller
func RegisterDeviceToken(inbox *notify.Inbox, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			FCMToken string `json:"fcmToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		if err := inbox.RegisterDevice(c.Request.Context(), c.GetString("userId"), input.FCMToken, time.Now().UTC()); err != nil {
			respondError(c, log, err, "Failed to register FCM token")
			return
		}
		c.JSON(200, gin.H{"message": "FCM token registered successfully"})
	}
}

// RemoveDeviceToken forgets one of the caller's FCM tokens, e.g. on sign-out
func RemoveDeviceToken(inbox *notify.Inbox, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			FCMToken string `json:"fcmToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		if err := inbox.ForgetDevice(c.Request.Context(), c.GetString("userId"), input.FCMToken); err != nil {
			respondError(c, log, err, "Failed to remove FCM token")
			return
		}
		c.JSON(200, gin.H{"message": "FCM token removed successfully"})
	}
}
