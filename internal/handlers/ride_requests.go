package handlers

import (
	"errors"
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/booking"
)

// SubmitRequest handles a rider asking to join a ride
func SubmitRequest(wf *booking.Workflow, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Passengers *int   `json:"passengers"`
			RiderName  string `json:"riderName"`
		}
		// An empty body asks for one seat.
		if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		passengers := 1
		if input.Passengers != nil {
			passengers = *input.Passengers
		}
		riderName := input.RiderName
		if riderName == "" {
			riderName = c.GetString("userName")
		}

		req, err := wf.SubmitRequest(c.Request.Context(), c.Param("id"), c.GetString("userId"), riderName, passengers)
		if err != nil {
			respondError(c, log, err, "Failed to submit ride request")
			return
		}
		c.JSON(201, gin.H{"message": "Ride request sent to the driver", "request": req})
	}
}

// RideRequests lists requests on one of the caller's rides
func RideRequests(wf *booking.Workflow, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := wf.ListRideRequests(c.Request.Context(), c.Param("id"), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch ride requests")
			return
		}
		c.JSON(200, gin.H{"requests": reqs, "count": len(reqs)})
	}
}

// MyRequests lists the caller's own requests across rides
func MyRequests(wf *booking.Workflow, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := wf.ListRiderRequests(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to fetch your requests")
			return
		}
		c.JSON(200, gin.H{"requests": reqs, "count": len(reqs)})
	}
}

// AcceptRequest lets the driver accept a pending request, taking seats
func AcceptRequest(wf *booking.Workflow, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		req, err := wf.AuthorizeDriver(ctx, c.Param("id"), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to accept request")
			return
		}
		if err := wf.AcceptRequest(ctx, req.ID, req.RideID); err != nil {
			respondError(c, log, err, "Failed to accept request")
			return
		}
		c.JSON(200, gin.H{"message": "Request accepted", "requestId": req.ID, "rideId": req.RideID})
	}
}

// DeclineRequest lets the driver turn a pending request down
func DeclineRequest(wf *booking.Workflow, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		req, err := wf.AuthorizeDriver(ctx, c.Param("id"), c.GetString("userId"))
		if err != nil {
			respondError(c, log, err, "Failed to decline request")
			return
		}
		if err := wf.DeclineRequest(ctx, req.ID); err != nil {
			respondError(c, log, err, "Failed to decline request")
			return
		}
		c.JSON(200, gin.H{"message": "Request declined", "requestId": req.ID})
	}
}
