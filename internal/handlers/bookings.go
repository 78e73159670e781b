package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/booking"
	"github.com/chachabrian/unipool-backend/internal/rides"
)

// CreateBooking handles the creation of a new booking
func CreateBooking(wf *booking.Workflow, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			RideID     string `json:"rideId" binding:"required"`
			Seats      int    `json:"seats"`
			RiderName  string `json:"riderName"`
			RiderPhone string `json:"riderPhone"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		if input.Seats < 0 {
			c.JSON(400, gin.H{"error": "seats must be at least 1"})
			return
		}

		riderName := input.RiderName
		if riderName == "" {
			riderName = c.GetString("userName")
		}

		b, err := wf.CreateBooking(c.Request.Context(), booking.BookingInput{
			RideID:     input.RideID,
			RiderID:    c.GetString("userId"),
			RiderName:  riderName,
			RiderPhone: input.RiderPhone,
			Seats:      input.Seats,
		})
		if err != nil {
			respondError(c, log, err, "Failed to book ride")
			return
		}

		c.JSON(201, b)
	}
}

// RiderBookings lists the caller's bookings
func RiderBookings(wf *booking.Workflow, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := wf.ListRiderBookings(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch your bookings")
			return
		}
		c.JSON(200, gin.H{"bookings": list, "count": len(list)})
	}
}

// DriverBookings lists confirmed bookings across the caller's rides
func DriverBookings(wf *booking.Workflow, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := wf.ListDriverBookings(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch bookings")
			return
		}
		c.JSON(200, gin.H{"bookings": list, "count": len(list)})
	}
}

// RideBookings lists confirmed bookings on one of the caller's rides
func RideBookings(wf *booking.Workflow, inv *rides.Inventory, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userId")
		ride, err := inv.GetRide(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch bookings")
			return
		}
		if ride.DriverID != userID {
			respondError(c, log, &apperrors.NotOwnerError{Resource: "ride", ID: ride.ID, UserID: userID}, "Failed to fetch bookings")
			return
		}

		list, err := wf.ListRideBookings(c.Request.Context(), ride.ID)
		if err != nil {
			respondError(c, log, err, "Failed to fetch bookings")
			return
		}
		c.JSON(200, gin.H{"bookings": list, "count": len(list)})
	}
}

// CancelBooking cancels a booking for its rider or the ride's driver
func CancelBooking(wf *booking.Workflow, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := wf.CancelBooking(c.Request.Context(), c.Param("id"), c.GetString("userId")); err != nil {
			respondError(c, log, err, "Failed to cancel booking")
			return
		}
		c.JSON(200, gin.H{"message": "Booking cancelled successfully"})
	}
}
