package models

import (
	"time"
)

// NotificationPreference represents user notification preferences. It only
// gates push delivery; inbox records are always written.
type NotificationPreference struct {
	UserID    string    `gorm:"primaryKey;size:128" json:"userId" firestore:"-"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt"`

	// General push notification toggle
	PushEnabled bool `gorm:"column:push_enabled;not null" json:"pushEnabled" firestore:"pushEnabled"`

	// Specific notification preferences
	RideRequestAlerts   bool `gorm:"column:ride_request_alerts;not null" json:"rideRequestAlerts" firestore:"rideRequestAlerts"`
	RideStatusAlerts    bool `gorm:"column:ride_status_alerts;not null" json:"rideStatusAlerts" firestore:"rideStatusAlerts"`
	MessageAlerts       bool `gorm:"column:message_alerts;not null" json:"messageAlerts" firestore:"messageAlerts"`
	RatingAlerts        bool `gorm:"column:rating_alerts;not null" json:"ratingAlerts" firestore:"ratingAlerts"`
	PromotionalMessages bool `gorm:"column:promotional_messages;not null" json:"promotionalMessages" firestore:"promotionalMessages"`
}

// TableName specifies the table name for NotificationPreference
func (NotificationPreference) TableName() string {
	return "notification_preferences"
}

// DefaultPreferences returns default notification preferences for a new user
func DefaultPreferences(userID string) *NotificationPreference {
	return &NotificationPreference{
		UserID:              userID,
		PushEnabled:         true,
		RideRequestAlerts:   true,
		RideStatusAlerts:    true,
		MessageAlerts:       true,
		RatingAlerts:        true,
		PromotionalMessages: true,
	}
}

// AllowsPush reports whether a notification of type t may be pushed to
// the user's devices.
func (p *NotificationPreference) AllowsPush(t NotificationType) bool {
	if !p.PushEnabled {
		return false
	}
	switch t {
	case NotificationRideRequest:
		return p.RideRequestAlerts
	case NotificationRideAccepted, NotificationRideDeclined, NotificationRideCompleted, NotificationReminder:
		return p.RideStatusAlerts
	case NotificationMessage:
		return p.MessageAlerts
	case NotificationRating:
		return p.RatingAlerts
	case NotificationReward:
		return p.PromotionalMessages
	}
	return true
}
