package models

import "time"

// RequestStatus is the state of a rider's request to join a ride.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusDeclined RequestStatus = "declined"
)

// Valid reports whether s is one of the known request states.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusAccepted, RequestStatusDeclined:
		return true
	}
	return false
}

// Holds reports whether a request in this state still claims the rider's
// place on the ride. Declined requests do not block a new request.
func (s RequestStatus) Holds() bool {
	return s == RequestStatusPending || s == RequestStatusAccepted
}

// BookingRequest is a rider's ask to occupy seats on a ride, pending the
// driver's decision. It is decided exactly once.
type BookingRequest struct {
	ID         string        `json:"id" gorm:"primaryKey;size:64" firestore:"-"`
	RideID     string        `json:"rideId" gorm:"size:64;not null;index:idx_request_ride_rider" firestore:"rideId"`
	RiderID    string        `json:"riderId" gorm:"size:128;not null;index:idx_request_ride_rider" firestore:"riderId"`
	RiderName  string        `json:"riderName,omitempty" firestore:"riderName,omitempty"`
	Passengers int           `json:"passengers" gorm:"not null;check:passengers >= 1" firestore:"passengers"`
	Status     RequestStatus `json:"status" gorm:"size:16;not null;default:'pending'" firestore:"status"`
	CreatedAt  time.Time     `json:"createdAt" firestore:"createdAt"`
	DecidedAt  *time.Time    `json:"decidedAt,omitempty" firestore:"decidedAt,omitempty"`
}

// TableName specifies the table name
func (BookingRequest) TableName() string {
	return "booking_requests"
}

// BookingStatus is the state of a direct booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Valid reports whether s is one of the known booking states.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled:
		return true
	}
	return false
}

// Booking is a confirmed reservation tying a rider to a ride. Route,
// schedule and price are copied from the ride at booking time so the
// rider's history does not change when the ride does.
type Booking struct {
	ID         string        `json:"id" gorm:"primaryKey;size:64" firestore:"-"`
	RideID     string        `json:"rideId" gorm:"size:64;not null;index:idx_booking_ride_rider" firestore:"rideId"`
	RiderID    string        `json:"riderId" gorm:"size:128;not null;index:idx_booking_ride_rider" firestore:"riderId"`
	RiderName  string        `json:"riderName" firestore:"riderName"`
	RiderPhone string        `json:"riderPhone,omitempty" firestore:"riderPhone,omitempty"`
	DriverID   string        `json:"driverId" gorm:"size:128;not null;index" firestore:"driverId"`
	DriverName string        `json:"driverName" firestore:"driverName"`
	Seats      int           `json:"seats" gorm:"not null;default:1" firestore:"seats"`
	From       string        `json:"from" firestore:"from"`
	To         string        `json:"to" firestore:"to"`
	Date       string        `json:"date" firestore:"date"`
	Time       string        `json:"time" firestore:"time"`
	Price      float64       `json:"price" firestore:"price"`
	Status     BookingStatus `json:"status" gorm:"size:16;not null;default:'confirmed'" firestore:"status"`
	BookedAt   time.Time     `json:"bookedAt" firestore:"bookedAt"`
}

// TableName specifies the table name
func (Booking) TableName() string {
	return "bookings"
}
