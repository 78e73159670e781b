package models

import "time"

// NotificationType tags what a notification is about.
type NotificationType string

const (
	NotificationRideRequest   NotificationType = "ride_request"
	NotificationRideAccepted  NotificationType = "ride_accepted"
	NotificationRideDeclined  NotificationType = "ride_declined"
	NotificationMessage       NotificationType = "message"
	NotificationRating        NotificationType = "rating"
	NotificationReward        NotificationType = "reward"
	NotificationReminder      NotificationType = "reminder"
	NotificationRideCompleted NotificationType = "ride_completed"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationRideRequest, NotificationRideAccepted, NotificationRideDeclined,
		NotificationMessage, NotificationRating, NotificationReward,
		NotificationReminder, NotificationRideCompleted:
		return true
	}
	return false
}

// Notification is a user-facing inbox record. Only the addressee mutates
// it, and only to mark it read.
type Notification struct {
	ID        string           `json:"id" gorm:"primaryKey;size:64" firestore:"-"`
	UserID    string           `json:"userId" gorm:"size:128;not null;index" firestore:"userId"`
	Type      NotificationType `json:"type" gorm:"size:32;not null" firestore:"type"`
	Title     string           `json:"title" firestore:"title"`
	Message   string           `json:"message" firestore:"message"`
	Read      bool             `json:"read" gorm:"not null;default:false;index" firestore:"read"`
	CreatedAt time.Time        `json:"createdAt" gorm:"index" firestore:"createdAt"`
	Data      map[string]any   `json:"data,omitempty" gorm:"serializer:json" firestore:"data,omitempty"`
}

// TableName specifies the table name
func (Notification) TableName() string {
	return "notifications"
}

// DeviceToken is an FCM registration token for one of a user's devices.
type DeviceToken struct {
	Token     string    `json:"token" gorm:"primaryKey;size:512" firestore:"-"`
	UserID    string    `json:"userId" gorm:"size:128;not null;index" firestore:"userId"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// TableName specifies the table name
func (DeviceToken) TableName() string {
	return "device_tokens"
}
