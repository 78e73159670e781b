package notify

import (
	"context"
	"sync"

	"github.com/chachabrian/unipool-backend/internal/models"
)

// Event is one recorded Emit call.
type Event struct {
	UserID  string
	Type    models.NotificationType
	Title   string
	Message string
	Data    map[string]any
}

// Recorder is an Emitter that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ Emitter = (*Recorder)(nil)

func (r *Recorder) Emit(ctx context.Context, userID string, typ models.NotificationType, title, message string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{UserID: userID, Type: typ, Title: title, Message: message, Data: data})
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// For returns the events addressed to userID with type typ.
func (r *Recorder) For(userID string, typ models.NotificationType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.UserID == userID && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
