package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/chat"
)

// OpenChat returns the caller's chat with another user, creating it on
// first contact
func OpenChat(svc *chat.Service, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			OtherUserID   string `json:"otherUserId" binding:"required"`
			OtherUserName string `json:"otherUserName"`
			UserName      string `json:"userName"`
			RideID        string `json:"rideId"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		userName := input.UserName
		if userName == "" {
			userName = c.GetString("userName")
		}

		conv, created, err := svc.Open(c.Request.Context(), chat.OpenInput{
			UserID:    c.GetString("userId"),
			UserName:  userName,
			OtherID:   input.OtherUserID,
			OtherName: input.OtherUserName,
			RideID:    input.RideID,
		})
		if err != nil {
			respondError(c, log, err, "Failed to open chat")
			return
		}
		status := 200
		if created {
			status = 201
		}
		c.JSON(status, gin.H{"chatId": conv.ID, "chat": conv, "created": created})
	}
}

// MyChats lists the caller's chats, latest message first
func MyChats(svc *chat.Service, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		chats, err := svc.List(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch chats")
			return
		}
		c.JSON(200, chats)
	}
}

func GetChat(svc *chat.Service, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, err := svc.Get(c.Request.Context(), c.Param("id"), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch chat details")
			return
		}
		c.JSON(200, conv)
	}
}

func ChatMessages(svc *chat.Service, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs, err := svc.Messages(c.Request.Context(), c.Param("id"), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch messages")
			return
		}
		c.JSON(200, msgs)
	}
}

// SendMessage posts the caller's message and notifies the other participant
func SendMessage(svc *chat.Service, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Text       string `json:"text" binding:"required"`
			SenderName string `json:"senderName"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		senderName := input.SenderName
		if senderName == "" {
			senderName = c.GetString("userName")
		}
		msg, err := svc.Send(c.Request.Context(), c.Param("id"), c.GetString("userId"), senderName, input.Text)
		if err != nil {
			respondError(c, log, err, "Failed to send message")
			return
		}
		c.JSON(201, msg)
	}
}

// MarkChatRead marks read everything the other participant sent
func MarkChatRead(svc *chat.Service, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := svc.MarkRead(c.Request.Context(), c.Param("id"), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to mark messages as read")
			return
		}
		c.JSON(200, gin.H{"message": "Messages marked as read", "updated": n})
	}
}
