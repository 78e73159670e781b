// Package notify writes user notifications and pushes them out.
//
// A Notifier stores every notification in the addressee's inbox before
// returning, then hands it to each configured Sink on its own goroutine.
// Sink failures are logged and counted; they never reach the caller.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chachabrian/unipool-backend/internal/metrics"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/store"
)

// Emitter is what the ride and booking services call on state changes.
type Emitter interface {
	Emit(ctx context.Context, userID string, typ models.NotificationType, title, message string, data map[string]any)
}

// Sink delivers an already stored notification somewhere else.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n models.Notification) error
}

// DeliveryTimeout bounds each sink call.
const DeliveryTimeout = 15 * time.Second

type Notifier struct {
	store store.Store
	sinks []Sink
	log   *slog.Logger
	now   func() time.Time

	wg sync.WaitGroup
}

var _ Emitter = (*Notifier)(nil)

func NewNotifier(s store.Store, log *slog.Logger, sinks ...Sink) *Notifier {
	return &Notifier{store: s, sinks: sinks, log: log, now: time.Now}
}

func (n *Notifier) Emit(ctx context.Context, userID string, typ models.NotificationType, title, message string, data map[string]any) {
	if userID == "" {
		n.log.Warn("notification without addressee dropped", "type", typ)
		return
	}
	rec := models.Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: n.now().UTC(),
		Data:      data,
	}
	if err := n.store.CreateNotification(ctx, &rec); err != nil {
		metrics.NotificationFailures.WithLabelValues("inbox").Inc()
		n.log.Error("store notification", "user_id", userID, "type", typ, "error", err)
		return
	}
	metrics.NotificationsEmitted.WithLabelValues(string(typ)).Inc()

	// sinks outlive the request that triggered them
	base := context.WithoutCancel(ctx)
	for _, sink := range n.sinks {
		n.wg.Add(1)
		go func(sink Sink) {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(base, DeliveryTimeout)
			defer cancel()
			if err := sink.Deliver(ctx, rec); err != nil {
				metrics.NotificationFailures.WithLabelValues(sink.Name()).Inc()
				n.log.Warn("notification delivery failed",
					"sink", sink.Name(), "user_id", userID, "notification_id", rec.ID, "error", err)
			}
		}(sink)
	}
}

// Wait blocks until every in-flight sink delivery has returned.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Send emits a canned Message.
func Send(ctx context.Context, e Emitter, userID string, m Message) {
	e.Emit(ctx, userID, m.Type, m.Title, m.Body, m.Data)
}
