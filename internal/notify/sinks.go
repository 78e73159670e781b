package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/services"
	"github.com/chachabrian/unipool-backend/internal/store"
)

// HubSink pushes to the user's open websockets.
type HubSink struct {
	Hub *services.Hub
}

func (HubSink) Name() string { return "websocket" }

func (s HubSink) Deliver(ctx context.Context, n models.Notification) error {
	s.Hub.SendToUser(n.UserID, services.WebSocketMessage{Type: "notification", Data: n})
	return nil
}

// Pusher is the part of services.Pusher PushSink needs.
type Pusher interface {
	Send(ctx context.Context, tokens []string, p services.NotificationPayload) (stale []string, err error)
}

// PushSink sends FCM pushes to every registered device of the user,
// honouring their notification preferences, and forgets tokens FCM
// reports as dead.
type PushSink struct {
	Store  store.Store
	Pusher Pusher
	Log    *slog.Logger
}

func (PushSink) Name() string { return "fcm" }

func (s PushSink) Deliver(ctx context.Context, n models.Notification) error {
	prefs, err := s.Store.GetPreferences(ctx, n.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		prefs = models.DefaultPreferences(n.UserID)
	case err != nil:
		return fmt.Errorf("load preferences: %w", err)
	}
	if !prefs.AllowsPush(n.Type) {
		return nil
	}

	tokens, err := s.Store.DeviceTokens(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("load device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	data := make(map[string]any, len(n.Data)+2)
	for k, v := range n.Data {
		data[k] = v
	}
	data["type"] = string(n.Type)
	data["notificationId"] = n.ID

	stale, err := s.Pusher.Send(ctx, tokens, services.NotificationPayload{
		Title: n.Title,
		Body:  n.Message,
		Data:  data,
		Tag:   string(n.Type),
	})
	for _, tok := range stale {
		if derr := s.Store.DeleteDeviceToken(ctx, n.UserID, tok); derr != nil {
			s.Log.Warn("forget stale device token", "user_id", n.UserID, "error", derr)
		}
	}
	return err
}

// RedisSink publishes each notification on notifications:<userID>. A Relay
// on every other API instance forwards it to the sockets that instance
// holds. Origin names the publishing instance so its own Relay skips it.
type RedisSink struct {
	Client services.Publisher
	Origin string
}

func (RedisSink) Name() string { return "redis" }

func Channel(userID string) string {
	return "notifications:" + userID
}

// Relayed is the payload RedisSink publishes.
type Relayed struct {
	Origin       string              `json:"origin"`
	Notification models.Notification `json:"notification"`
}

func (s RedisSink) Deliver(ctx context.Context, n models.Notification) error {
	return services.PublishJSON(ctx, s.Client, Channel(n.UserID), Relayed{Origin: s.Origin, Notification: n})
}

// SocketSender is the part of services.Hub a Relay needs.
type SocketSender interface {
	SendToUser(userID string, msg services.WebSocketMessage) int
}

// Relay forwards notifications other instances published to the
// websockets held here. Notifications this instance published already
// went out through its HubSink.
type Relay struct {
	Origin string
	Hub    SocketSender
	Log    *slog.Logger
}

// Run listens on every notifications channel until ctx is done.
func (r Relay) Run(ctx context.Context, client *redis.Client) error {
	sub := client.PSubscribe(ctx, Channel("*"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis relay: subscribe: %w", err)
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.Forward(msg.Payload)
		}
	}
}

// Forward delivers one published payload and reports whether it reached
// the hub.
func (r Relay) Forward(payload string) bool {
	var in Relayed
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		r.Log.Warn("redis relay: undecodable payload", "error", err)
		return false
	}
	if in.Origin == r.Origin || in.Notification.UserID == "" {
		return false
	}
	r.Hub.SendToUser(in.Notification.UserID, services.WebSocketMessage{Type: "notification", Data: in.Notification})
	return true
}

// MessageSender is the part of services.Producer KafkaSink needs.
type MessageSender interface {
	SendMessage(ctx context.Context, key, value []byte) error
}

// KafkaSink appends each notification to an event topic keyed by user.
type KafkaSink struct {
	Producer MessageSender
}

func (KafkaSink) Name() string { return "kafka" }

func (s KafkaSink) Deliver(ctx context.Context, n models.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.Producer.SendMessage(ctx, []byte(n.UserID), value)
}
