package handlers

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/storage"
)

const profilePhotoFolder = "profile-photos"

// UploadProfilePhoto stores the caller's profile photo and returns its URL.
// Clients save the URL on their own profile record.
func UploadProfilePhoto(images storage.Images, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("photo")
		if err != nil {
			c.JSON(400, gin.H{"error": "No photo provided"})
			return
		}
		if file.Size > storage.MaxImageBytes {
			c.JSON(413, gin.H{"error": "Photo must be 5MB or smaller"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(400, gin.H{"error": "Failed to read photo"})
			return
		}
		defer src.Close()

		userID := c.GetString("userId")
		url, err := images.Put(c.Request.Context(), profilePhotoFolder+"/"+userID, file.Filename, src)
		switch {
		case errors.Is(err, storage.ErrNotImage):
			c.JSON(400, gin.H{"error": "File must be an image"})
			return
		case errors.Is(err, storage.ErrTooLarge):
			c.JSON(413, gin.H{"error": "Photo must be 5MB or smaller"})
			return
		case err != nil:
			log.Error("upload profile photo", "user_id", userID, "error", err)
			c.JSON(500, gin.H{"error": "Failed to upload photo"})
			return
		}

		c.JSON(200, gin.H{"message": "Profile photo uploaded successfully", "url": url})
	}
}
