package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/chachabrian/unipool-backend/internal/config"
)

// ErrFirebaseNotConfigured is returned when neither a project id nor a
// service account is configured.
var ErrFirebaseNotConfigured = errors.New("firebase: not configured")

// NewFirebaseApp initializes the Admin SDK from a service-account file, or
// from application default credentials when only a project id is set.
func NewFirebaseApp(ctx context.Context, cfg config.Firebase) (*firebase.App, error) {
	if cfg.ServiceAccountPath == "" && cfg.ProjectID == "" {
		return nil, ErrFirebaseNotConfigured
	}
	var opts []option.ClientOption
	if cfg.ServiceAccountPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.ServiceAccountPath))
	}
	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: initialize app: %w", err)
	}
	return app, nil
}

// NotificationPayload is what the pusher turns into an FCM message.
type NotificationPayload struct {
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Data       map[string]any `json:"data,omitempty"`
	ChannelID  string         `json:"channelId,omitempty"`
	Tag        string         `json:"tag,omitempty"`
	BadgeCount *int           `json:"badgeCount,omitempty"`
}

// stringData flattens Data into the string map FCM requires.
func (p NotificationPayload) stringData() map[string]string {
	out := make(map[string]string, len(p.Data))
	for key, value := range p.Data {
		switch v := value.(type) {
		case string:
			out[key] = v
		case int, int64, float64, bool:
			out[key] = fmt.Sprintf("%v", v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[key] = string(raw)
		}
	}
	return out
}

func androidConfig(p NotificationPayload) *messaging.AndroidConfig {
	channelID := p.ChannelID
	if channelID == "" {
		channelID = "unipool_default"
	}
	return &messaging.AndroidConfig{
		Priority: "high",
		Notification: &messaging.AndroidNotification{
			Sound:                 "default",
			ChannelID:             channelID,
			Priority:              messaging.PriorityHigh,
			DefaultSound:          true,
			Tag:                   p.Tag,
			DefaultVibrateTimings: true,
		},
	}
}

func apnsConfig(p NotificationPayload) *messaging.APNSConfig {
	badge := 1
	if p.BadgeCount != nil {
		badge = *p.BadgeCount
	}
	return &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Sound:            "default",
				Badge:            &badge,
				MutableContent:   true,
				ContentAvailable: true,
			},
		},
	}
}

// BuildMulticast assembles the FCM message for tokens.
func BuildMulticast(tokens []string, p NotificationPayload) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Notification: &messaging.Notification{Title: p.Title, Body: p.Body},
		Data:         p.stringData(),
		Tokens:       tokens,
		Android:      androidConfig(p),
		APNS:         apnsConfig(p),
	}
}

// Pusher sends FCM messages.
type Pusher struct {
	client *messaging.Client
}

func NewPusher(ctx context.Context, app *firebase.App) (*Pusher, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: messaging client: %w", err)
	}
	return &Pusher{client: client}, nil
}

// Send delivers p to every token and returns the tokens FCM reported as no
// longer registered, so the caller can forget them.
func (p *Pusher) Send(ctx context.Context, tokens []string, payload NotificationPayload) (stale []string, err error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	resp, err := p.client.SendEachForMulticast(ctx, BuildMulticast(tokens, payload))
	if err != nil {
		return nil, fmt.Errorf("firebase: send multicast: %w", err)
	}
	var failed []error
	for i, r := range resp.Responses {
		if r.Success {
			continue
		}
		if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
			stale = append(stale, tokens[i])
			continue
		}
		failed = append(failed, r.Error)
	}
	return stale, errors.Join(failed...)
}
