package models

import "time"

// RideStatus is the lifecycle state of a posted ride.
type RideStatus string

const (
	RideStatusActive    RideStatus = "active"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
)

// Valid reports whether s is one of the known ride states.
func (s RideStatus) Valid() bool {
	switch s {
	case RideStatusActive, RideStatusCompleted, RideStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a ride may move from s to next.
// Only active rides change state; completed and cancelled are terminal.
func (s RideStatus) CanTransitionTo(next RideStatus) bool {
	return s == RideStatusActive && (next == RideStatusCompleted || next == RideStatusCancelled)
}

const (
	MinSeats = 1
	MaxSeats = 6

	// DateLayout and TimeLayout are the wire formats of Ride.Date and Ride.Time.
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Ride is one driver's offered trip.
type Ride struct {
	ID             string     `json:"id" gorm:"primaryKey;size:64" firestore:"-"`
	DriverID       string     `json:"driverId" gorm:"size:128;not null;index" firestore:"driverId"`
	DriverName     string     `json:"driverName" gorm:"not null" firestore:"driverName"`
	DriverPhone    string     `json:"driverPhone,omitempty" firestore:"driverPhone,omitempty"`
	DriverRating   *float64   `json:"driverRating,omitempty" firestore:"driverRating,omitempty"`
	From           string     `json:"from" gorm:"not null" firestore:"from"`
	To             string     `json:"to" gorm:"not null" firestore:"to"`
	Date           string     `json:"date" gorm:"size:10;index" firestore:"date"`
	Time           string     `json:"time" gorm:"size:5" firestore:"time"`
	TotalSeats     int        `json:"totalSeats" gorm:"not null;check:total_seats BETWEEN 1 AND 6" firestore:"totalSeats"`
	AvailableSeats int        `json:"availableSeats" gorm:"not null;check:available_seats >= 0 AND available_seats <= total_seats" firestore:"availableSeats"`
	Price          float64    `json:"price" gorm:"not null;check:price >= 0" firestore:"price"`
	Status         RideStatus `json:"status" gorm:"size:16;not null;default:'active';index" firestore:"status"`
	CreatedAt      time.Time  `json:"createdAt" firestore:"createdAt"`
}

// TableName specifies the table name
func (Ride) TableName() string {
	return "rides"
}

// Departure parses Date and Time into a local timestamp. The zero time is
// returned when either field is missing or malformed.
func (r *Ride) Departure() time.Time {
	if r.Date == "" {
		return time.Time{}
	}
	layout, value := DateLayout, r.Date
	if r.Time != "" {
		layout, value = DateLayout+" "+TimeLayout, r.Date+" "+r.Time
	}
	t, err := time.ParseInLocation(layout, value, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Label is the short human description used in notification text.
func (r *Ride) Label() string {
	label := r.From + " → " + r.To
	if r.Date != "" {
		label += " on " + r.Date
	}
	if r.Time != "" {
		label += " at " + r.Time
	}
	return label
}
