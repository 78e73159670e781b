// Package chat carries the two-person conversations riders and drivers
// open around a ride.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/metrics"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/notify"
	"github.com/chachabrian/unipool-backend/internal/rides"
	"github.com/chachabrian/unipool-backend/internal/store"
)

// OpenInput names the caller and the person they want to talk to.
type OpenInput struct {
	UserID    string
	UserName  string
	OtherID   string
	OtherName string
	// RideID is optional. When set, one of the two must drive that ride.
	RideID string
}

type Service struct {
	store     store.Store
	inventory *rides.Inventory
	notify    notify.Emitter
	log       *slog.Logger
	now       func() time.Time
}

func NewService(s store.Store, inv *rides.Inventory, e notify.Emitter, log *slog.Logger) *Service {
	return &Service{store: s, inventory: inv, notify: e, log: log, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func chatErr(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &apperrors.NotFoundError{Resource: "chat", ID: id}
	}
	return err
}

// Open returns the chat the two users share, creating it the first time
// either of them asks. created reports whether it is new.
func (s *Service) Open(ctx context.Context, in OpenInput) (c *models.Chat, created bool, err error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, false, apperrors.Invalid("userId", "is required")
	}
	if strings.TrimSpace(in.OtherID) == "" {
		return nil, false, apperrors.Invalid("otherUserId", "is required")
	}
	if in.UserID == in.OtherID {
		return nil, false, apperrors.Invalid("otherUserId", "you cannot chat with yourself")
	}
	if in.RideID != "" {
		ride, err := s.inventory.GetRide(ctx, in.RideID)
		if err != nil {
			return nil, false, err
		}
		if ride.DriverID != in.UserID && ride.DriverID != in.OtherID {
			return nil, false, apperrors.Invalid("rideId", "neither participant drives ride %s", in.RideID)
		}
	}

	c = models.NewChat(in.UserID, strings.TrimSpace(in.UserName), in.OtherID, strings.TrimSpace(in.OtherName), in.RideID, s.now().UTC())
	created, err = s.store.OpenChat(ctx, c)
	if err != nil {
		return nil, false, fmt.Errorf("open chat: %w", err)
	}
	if created {
		metrics.ChatsOpened.Inc()
		s.log.Info("chat opened", "chat_id", c.ID, "ride_id", c.RideID)
	}
	return c, created, nil
}

// Get returns the chat if userID takes part in it.
func (s *Service) Get(ctx context.Context, chatID, userID string) (*models.Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, chatErr(err, chatID)
	}
	if !c.Has(userID) {
		return nil, &apperrors.NotOwnerError{Resource: "chat", ID: chatID, UserID: userID}
	}
	return c, nil
}

// List returns the user's chats, latest message first.
func (s *Service) List(ctx context.Context, userID string) ([]models.Chat, error) {
	return s.store.ListChats(ctx, userID)
}

// Send stores a message from a participant and notifies the other one.
func (s *Service) Send(ctx context.Context, chatID, senderID, senderName, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.Invalid("text", "is required")
	}
	if n := utf8.RuneCountInString(text); n > models.MaxMessageLength {
		return nil, apperrors.Invalid("text", "must be at most %d characters, got %d", models.MaxMessageLength, n)
	}
	c, err := s.Get(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(senderName) == "" {
		senderName = c.ParticipantNames[senderID]
	}

	m := &models.Message{
		ChatID:     c.ID,
		SenderID:   senderID,
		SenderName: strings.TrimSpace(senderName),
		Text:       text,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.AddMessage(ctx, m); err != nil {
		return nil, chatErr(err, chatID)
	}

	metrics.MessagesSent.Inc()
	s.log.Debug("chat message sent", "chat_id", c.ID, "message_id", m.ID)
	notify.Send(ctx, s.notify, c.Other(senderID), notify.NewMessage(m))
	return m, nil
}

// Messages returns the chat's messages, oldest first.
func (s *Service) Messages(ctx context.Context, chatID, userID string) ([]models.Message, error) {
	if _, err := s.Get(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, chatID)
}

// MarkRead marks read what the other participant sent to userID.
func (s *Service) MarkRead(ctx context.Context, chatID, userID string) (int, error) {
	if _, err := s.Get(ctx, chatID, userID); err != nil {
		return 0, err
	}
	return s.store.MarkMessagesRead(ctx, chatID, userID)
}
