package notify

import (
	"fmt"

	"github.com/chachabrian/unipool-backend/internal/models"
)

// Message is a ready-to-emit notification body.
type Message struct {
	Type  models.NotificationType
	Title string
	Body  string
	Data  map[string]any
}

func rideData(ride *models.Ride) map[string]any {
	return map[string]any{
		"rideId": ride.ID,
		"from":   ride.From,
		"to":     ride.To,
		"date":   ride.Date,
		"time":   ride.Time,
	}
}

func displayName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// RideRequest goes to the driver when a rider asks to join.
func RideRequest(ride *models.Ride, req *models.BookingRequest) Message {
	data := rideData(ride)
	data["requestId"] = req.ID
	data["riderId"] = req.RiderID
	data["riderName"] = req.RiderName
	data["passengers"] = req.Passengers
	return Message{
		Type:  models.NotificationRideRequest,
		Title: "New Ride Request",
		Body:  fmt.Sprintf("%s requested to join your ride %s", displayName(req.RiderName, "A rider"), ride.Label()),
		Data:  data,
	}
}

// RideAccepted goes to the rider once the driver accepts.
func RideAccepted(ride *models.Ride, req *models.BookingRequest) Message {
	data := rideData(ride)
	data["requestId"] = req.ID
	data["driverId"] = ride.DriverID
	data["driverName"] = ride.DriverName
	data["passengers"] = req.Passengers
	return Message{
		Type:  models.NotificationRideAccepted,
		Title: "Ride Request Accepted",
		Body:  fmt.Sprintf("%s accepted your ride request", displayName(ride.DriverName, "The driver")),
		Data:  data,
	}
}

// RideDeclined goes to the rider when the driver declines.
func RideDeclined(ride *models.Ride, req *models.BookingRequest) Message {
	data := rideData(ride)
	data["requestId"] = req.ID
	data["driverId"] = ride.DriverID
	data["driverName"] = ride.DriverName
	return Message{
		Type:  models.NotificationRideDeclined,
		Title: "Ride Request Declined",
		Body:  fmt.Sprintf("%s declined your ride request", displayName(ride.DriverName, "The driver")),
		Data:  data,
	}
}

// RideCancelled tells a rider holding seats that the driver called the
// ride off. It reuses the ride_declined type so clients render it as a
// rejection.
func RideCancelled(ride *models.Ride) Message {
	data := rideData(ride)
	data["driverId"] = ride.DriverID
	data["cancelled"] = true
	return Message{
		Type:  models.NotificationRideDeclined,
		Title: "Ride Cancelled",
		Body:  fmt.Sprintf("%s cancelled the ride %s", displayName(ride.DriverName, "The driver"), ride.Label()),
		Data:  data,
	}
}

// RideCompleted invites a passenger to rate the trip.
func RideCompleted(ride *models.Ride) Message {
	data := rideData(ride)
	data["driverId"] = ride.DriverID
	data["driverName"] = ride.DriverName
	return Message{
		Type:  models.NotificationRideCompleted,
		Title: "Ride Completed",
		Body:  fmt.Sprintf("Your ride %s is complete. Rate your driver!", ride.Label()),
		Data:  data,
	}
}

// BookingCancelled tells the other party a booking was cancelled.
func BookingCancelled(b *models.Booking, byName string) Message {
	return Message{
		Type:  models.NotificationRideDeclined,
		Title: "Booking Cancelled",
		Body:  fmt.Sprintf("%s cancelled the booking for %s → %s on %s", displayName(byName, "Someone"), b.From, b.To, b.Date),
		Data: map[string]any{
			"bookingId": b.ID,
			"rideId":    b.RideID,
			"seats":     b.Seats,
		},
	}
}

// NewRating goes to the user who was rated.
func NewRating(r *models.Rating) Message {
	return Message{
		Type:  models.NotificationRating,
		Title: "New Rating",
		Body:  fmt.Sprintf("%s rated you %d stars!", displayName(r.RaterName, "Someone"), r.Score),
		Data: map[string]any{
			"ratingId": r.ID,
			"rideId":   r.RideID,
			"raterId":  r.RaterID,
			"score":    r.Score,
		},
	}
}

// NewMessage tells the other participant of a chat that a message arrived.
func NewMessage(m *models.Message) Message {
	sender := displayName(m.SenderName, "Someone")
	return Message{
		Type:  models.NotificationMessage,
		Title: "New Message",
		Body:  fmt.Sprintf("You have a new message from %s", sender),
		Data: map[string]any{
			"chatId":     m.ChatID,
			"messageId":  m.ID,
			"senderId":   m.SenderID,
			"senderName": sender,
		},
	}
}
