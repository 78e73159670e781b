package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/ratings"
)

// SubmitRating records the caller's score for someone they rode with
func SubmitRating(svc *ratings.Service, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			RideID    string `json:"rideId" binding:"required"`
			RateeID   string `json:"rateeId" binding:"required"`
			Score     int    `json:"score" binding:"required"`
			Comment   string `json:"comment"`
			RaterName string `json:"raterName"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		raterName := input.RaterName
		if raterName == "" {
			raterName = c.GetString("userName")
		}

		r, err := svc.Rate(c.Request.Context(), ratings.RatingInput{
			RideID:    input.RideID,
			RaterID:   c.GetString("userId"),
			RaterName: raterName,
			RateeID:   input.RateeID,
			Score:     input.Score,
			Comment:   input.Comment,
		})
		if err != nil {
			respondError(c, log, err, "Failed to submit rating")
			return
		}
		c.JSON(201, r)
	}
}

// UserRatings returns a user's received ratings and their average
func UserRatings(svc *ratings.Service, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		list, err := svc.ListRatings(c.Request.Context(), userID)
		if err != nil {
			respondError(c, log, err, "Failed to fetch ratings")
			return
		}
		summary, err := svc.Average(c.Request.Context(), userID)
		if err != nil {
			respondError(c, log, err, "Failed to fetch ratings")
			return
		}
		c.JSON(200, gin.H{"ratings": list, "average": summary.Average, "count": summary.Count})
	}
}
