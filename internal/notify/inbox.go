package notify

import (
	"context"
	"errors"
	"time"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/store"
)

// Inbox is the addressee's view of their notifications.
type Inbox struct {
	store store.Store
}

func NewInbox(s store.Store) *Inbox {
	return &Inbox{store: s}
}

func (i *Inbox) List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	return i.store.ListNotifications(ctx, userID, unreadOnly)
}

func (i *Inbox) UnreadCount(ctx context.Context, userID string) (int, error) {
	unread, err := i.store.ListNotifications(ctx, userID, true)
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}

// MarkRead marks one notification read. Only its addressee may do so.
func (i *Inbox) MarkRead(ctx context.Context, userID, notificationID string) error {
	n, err := i.store.GetNotification(ctx, notificationID)
	if errors.Is(err, store.ErrNotFound) {
		return &apperrors.NotFoundError{Resource: "notification", ID: notificationID}
	}
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return &apperrors.NotOwnerError{Resource: "notification", ID: notificationID, UserID: userID}
	}
	_, err = i.store.MarkNotificationsRead(ctx, userID, notificationID)
	return err
}

func (i *Inbox) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return i.store.MarkNotificationsRead(ctx, userID)
}

// Watch calls fn with the full inbox now and after every change.
func (i *Inbox) Watch(ctx context.Context, userID string, fn func([]models.Notification)) (stop func(), err error) {
	return i.store.WatchNotifications(ctx, userID, fn)
}

// RegisterDevice remembers an FCM token for userID. A token moves to the
// most recent user that registered it.
func (i *Inbox) RegisterDevice(ctx context.Context, userID, token string, at time.Time) error {
	if token == "" {
		return apperrors.Invalid("token", "is required")
	}
	return i.store.SaveDeviceToken(ctx, &models.DeviceToken{Token: token, UserID: userID, UpdatedAt: at})
}

// ForgetDevice drops token if it is registered to userID. Tokens that
// belong to someone else are left alone.
func (i *Inbox) ForgetDevice(ctx context.Context, userID, token string) error {
	if token == "" {
		return apperrors.Invalid("token", "is required")
	}
	return i.store.DeleteDeviceToken(ctx, userID, token)
}

// Preferences returns the saved preferences or the defaults.
func (i *Inbox) Preferences(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	p, err := i.store.GetPreferences(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DefaultPreferences(userID), nil
	}
	return p, err
}

func (i *Inbox) SavePreferences(ctx context.Context, p *models.NotificationPreference) error {
	return i.store.SavePreferences(ctx, p)
}
