package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/rides"
)

// CreateRide handles the creation of a new ride by a driver
func CreateRide(inv *rides.Inventory, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			From         string   `json:"from" binding:"required"`
			To           string   `json:"to" binding:"required"`
			Date         string   `json:"date"`
			Time         string   `json:"time"`
			TotalSeats   int      `json:"totalSeats"`
			Price        float64  `json:"price"`
			DriverName   string   `json:"driverName"`
			DriverPhone  string   `json:"driverPhone"`
			DriverRating *float64 `json:"driverRating"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		driverName := input.DriverName
		if driverName == "" {
			driverName = c.GetString("userName")
		}

		id, err := inv.CreateRide(c.Request.Context(), rides.RideSpec{
			DriverID:     c.GetString("userId"),
			DriverName:   driverName,
			DriverPhone:  input.DriverPhone,
			DriverRating: input.DriverRating,
			From:         input.From,
			To:           input.To,
			Date:         input.Date,
			Time:         input.Time,
			TotalSeats:   input.TotalSeats,
			Price:        input.Price,
		})
		if err != nil {
			respondError(c, log, err, "Failed to create ride")
			return
		}

		ride, err := inv.GetRide(c.Request.Context(), id)
		if err != nil {
			respondError(c, log, err, "Failed to load ride")
			return
		}
		c.JSON(201, gin.H{"message": "Ride created successfully", "rideId": id, "ride": ride})
	}
}

// ListRides returns open rides, optionally filtered and sorted
func ListRides(inv *rides.Inventory, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sortKey := rides.SortKey(c.Query("sort"))
		if sortKey != "" && !sortKey.Valid() {
			c.JSON(400, gin.H{"error": "sort must be one of price, rating, departure"})
			return
		}

		list, err := inv.ListAvailableRides(c.Request.Context(), rides.RideFilter{
			From: c.Query("from"),
			To:   c.Query("to"),
			Date: c.Query("date"),
		})
		if err != nil {
			respondError(c, log, err, "Failed to fetch rides")
			return
		}
		rides.SortRides(list, sortKey)

		c.JSON(200, gin.H{"rides": list, "count": len(list)})
	}
}

// DriverRides returns every ride the caller has offered
func DriverRides(inv *rides.Inventory, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := inv.ListDriverRides(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch your rides")
			return
		}
		c.JSON(200, gin.H{"rides": list, "count": len(list)})
	}
}

func GetRide(inv *rides.Inventory, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ride, err := inv.GetRide(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch ride")
			return
		}
		c.JSON(200, ride)
	}
}

// CancelRide lets the driver call off an active ride
func CancelRide(inv *rides.Inventory, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := inv.CancelRide(c.Request.Context(), c.Param("id"), c.GetString("userId")); err != nil {
			respondError(c, log, err, "Failed to cancel ride")
			return
		}
		c.JSON(200, gin.H{"message": "Ride cancelled successfully"})
	}
}

// CompleteRide marks the driver's ride as done
func CompleteRide(inv *rides.Inventory, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := inv.CompleteRide(c.Request.Context(), c.Param("id"), c.GetString("userId")); err != nil {
			respondError(c, log, err, "Failed to complete ride")
			return
		}
		c.JSON(200, gin.H{"message": "Ride completed successfully"})
	}
}

func DeleteRide(inv *rides.Inventory, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := inv.DeleteRide(c.Request.Context(), c.Param("id"), c.GetString("userId")); err != nil {
			respondError(c, log, err, "Failed to delete ride")
			return
		}
		c.JSON(200, gin.H{"message": "Ride deleted successfully"})
	}
}
