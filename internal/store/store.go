// Package store defines the document-store contract the ride and booking
// services run on. Backends live in subpackages: memory (tests and local
// development), gormstore (Postgres) and firestore (Cloud Firestore).
//
// Seat counters are only ever changed through Tx.ReserveSeats and
// Tx.ReleaseSeats, which every backend implements as a conditional write
// rather than a read-modify-write in application code.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chachabrian/unipool-backend/internal/models"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write would violate a uniqueness or
	// precondition the backend enforces.
	ErrConflict = errors.New("store: conflict")
)

// NewID returns a fresh document identifier for backends that do not
// assign their own.
func NewID() string {
	return uuid.NewString()
}

// RideQuery narrows ListRides. Zero values mean "any". Origin and
// destination substring matching is done by the caller because not every
// backend can express it.
type RideQuery struct {
	Status       models.RideStatus
	DriverID     string
	Date         string
	MinAvailable int
}

// RequestQuery narrows ListRequests.
type RequestQuery struct {
	RideID  string
	RiderID string
	Status  models.RequestStatus
}

// BookingQuery narrows ListBookings.
type BookingQuery struct {
	RideID   string
	RiderID  string
	DriverID string
	Status   models.BookingStatus
}

// RatingQuery narrows ListRatings.
type RatingQuery struct {
	RideID  string
	RaterID string
	RateeID string
}

// Tx is the view of the store inside RunInTx. Everything done through one
// Tx commits or rolls back together. Backends that need reads before
// writes (Firestore) require callers to do all Get/Find calls first;
// services in this repo always do.
type Tx interface {
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	// ReserveSeats decrements the ride's available seats by n, only if the
	// ride is active and has at least n seats. On failure it returns
	// *apperrors.InsufficientSeatsError or *apperrors.RideNotActiveError
	// and changes nothing.
	ReserveSeats(ctx context.Context, rideID string, n int) (*models.Ride, error)
	// ReleaseSeats increments available seats by n, capped at total seats.
	// clamped reports whether the cap had to be applied.
	ReleaseSeats(ctx context.Context, rideID string, n int) (ride *models.Ride, clamped bool, err error)
	// SetRideStatus moves a ride from one status to another. It fails with
	// ErrConflict if the ride is not currently in from.
	SetRideStatus(ctx context.Context, rideID string, from, to models.RideStatus) error
	// HasCommitments reports whether any accepted request or confirmed
	// booking still holds seats on the ride.
	HasCommitments(ctx context.Context, rideID string) (bool, error)
	DeleteRide(ctx context.Context, rideID string) error

	GetRequest(ctx context.Context, id string) (*models.BookingRequest, error)
	// FindOpenRequest returns the rider's pending or accepted request on a
	// ride, or ErrNotFound.
	FindOpenRequest(ctx context.Context, rideID, riderID string) (*models.BookingRequest, error)
	CreateRequest(ctx context.Context, req *models.BookingRequest) error
	// DecideRequest moves a pending request to accepted or declined. It
	// fails with ErrConflict if the request is no longer pending.
	DecideRequest(ctx context.Context, id string, to models.RequestStatus, at time.Time) error

	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	// FindOpenBooking returns the rider's non-cancelled booking on a ride,
	// or ErrNotFound.
	FindOpenBooking(ctx context.Context, rideID, riderID string) (*models.Booking, error)
	CreateBooking(ctx context.Context, b *models.Booking) error
	SetBookingStatus(ctx context.Context, id string, from, to models.BookingStatus) error
}

// Store is the full document-store contract.
type Store interface {
	// RunInTx runs fn atomically. If fn returns an error nothing it wrote
	// is kept and the error is returned unchanged.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateRide(ctx context.Context, ride *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	ListRides(ctx context.Context, q RideQuery) ([]models.Ride, error)

	GetRequest(ctx context.Context, id string) (*models.BookingRequest, error)
	ListRequests(ctx context.Context, q RequestQuery) ([]models.BookingRequest, error)

	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context, q BookingQuery) ([]models.Booking, error)

	// CreateRating fails with ErrConflict when the rater already rated the
	// ratee for the ride.
	CreateRating(ctx context.Context, r *models.Rating) error
	ListRatings(ctx context.Context, q RatingQuery) ([]models.Rating, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	// ListNotifications returns the user's notifications, newest first.
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error)
	// MarkNotificationsRead marks the given notifications of userID read,
	// or all of them when ids is empty. It returns how many changed.
	MarkNotificationsRead(ctx context.Context, userID string, ids ...string) (int, error)
	// WatchNotifications calls fn with the user's full notification list
	// once immediately and again after every change, until the returned
	// stop function is called or ctx ends.
	WatchNotifications(ctx context.Context, userID string, fn func([]models.Notification)) (stop func(), err error)

	SaveDeviceToken(ctx context.Context, t *models.DeviceToken) error
	// DeleteDeviceToken removes token only while it is registered to
	// userID. Deleting a token that is missing or owned by someone else
	// is a no-op.
	DeleteDeviceToken(ctx context.Context, userID, token string) error
	DeviceTokens(ctx context.Context, userID string) ([]string, error)

	// OpenChat saves c unless a chat with the same PairKey already exists, in
	// which case c is overwritten with the stored chat. created reports
	// which one happened.
	OpenChat(ctx context.Context, c *models.Chat) (created bool, err error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	// ListChats returns the user's chats, latest message first.
	ListChats(ctx context.Context, userID string) ([]models.Chat, error)
	// AddMessage saves m and makes it the chat's last message. It fails
	// with ErrNotFound when the chat does not exist.
	AddMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns a chat's messages, oldest first.
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	// MarkMessagesRead marks read every unread message in the chat that
	// readerID did not send, and returns how many changed.
	MarkMessagesRead(ctx context.Context, chatID, readerID string) (int, error)

	// GetPreferences returns ErrNotFound when the user never saved any.
	GetPreferences(ctx context.Context, userID string) (*models.NotificationPreference, error)
	SavePreferences(ctx context.Context, p *models.NotificationPreference) error

	Close() error
}
