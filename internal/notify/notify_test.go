package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/logging"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/services"
	"github.com/chachabrian/unipool-backend/internal/store/memory"
)

type captureSink struct {
	mu   sync.Mutex
	got  []models.Notification
	fail error
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(ctx context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.fail
}

func TestNotifierStoresThenFansOut(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ok := &captureSink{}
	broken := &captureSink{fail: errors.New("unreachable")}
	n := NewNotifier(s, logging.Discard(), ok, broken)

	n.Emit(ctx, "rider-1", models.NotificationRideAccepted, "Ride Request Accepted", "Dee accepted your ride request",
		map[string]any{"rideId": "ride-1"})

	inbox, err := s.ListNotifications(ctx, "rider-1", false)
	require.NoError(t, err)
	require.Len(t, inbox, 1, "inbox is written before Emit returns")
	assert.Equal(t, models.NotificationRideAccepted, inbox[0].Type)
	assert.False(t, inbox[0].Read)

	n.Wait()
	require.Len(t, ok.got, 1)
	assert.Equal(t, inbox[0].ID, ok.got[0].ID)
	assert.Len(t, broken.got, 1, "a failing sink does not stop the others")
}

func TestNotifierIgnoresCancelledRequestContext(t *testing.T) {
	s := memory.New()
	sink := &captureSink{}
	n := NewNotifier(s, logging.Discard(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	n.Emit(ctx, "u1", models.NotificationRating, "New Rating", "x", nil)
	cancel()
	n.Wait()
	assert.Len(t, sink.got, 1)
}

func TestNotifierDropsEmptyAddressee(t *testing.T) {
	s := memory.New()
	n := NewNotifier(s, logging.Discard())
	n.Emit(context.Background(), "", models.NotificationRating, "t", "m", nil)
	list, err := s.ListNotifications(context.Background(), "", false)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCannedMessages(t *testing.T) {
	ride := &models.Ride{ID: "ride-1", DriverID: "d1", DriverName: "Dee", From: "North Campus", To: "Downtown", Date: "2026-11-02", Time: "08:15"}
	req := &models.BookingRequest{ID: "req-1", RiderID: "r1", RiderName: "Rae", Passengers: 2}

	m := RideRequest(ride, req)
	assert.Equal(t, models.NotificationRideRequest, m.Type)
	assert.Equal(t, "New Ride Request", m.Title)
	assert.Equal(t, "Rae requested to join your ride North Campus → Downtown on 2026-11-02 at 08:15", m.Body)
	assert.Equal(t, 2, m.Data["passengers"])

	m = RideAccepted(ride, req)
	assert.Equal(t, "Ride Request Accepted", m.Title)
	assert.Equal(t, "Dee accepted your ride request", m.Body)

	m = RideDeclined(ride, req)
	assert.Equal(t, "Ride Request Declined", m.Title)
	assert.Equal(t, "req-1", m.Data["requestId"])

	m = RideRequest(ride, &models.BookingRequest{ID: "req-2", Passengers: 1})
	assert.Contains(t, m.Body, "A rider requested")

	m = NewRating(&models.Rating{RaterName: "Rae", Score: 5})
	assert.Equal(t, "Rae rated you 5 stars!", m.Body)

	assert.Equal(t, models.NotificationRideCompleted, RideCompleted(ride).Type)

	m = NewMessage(&models.Message{ID: "m1", ChatID: "c1", SenderID: "r1", SenderName: "Rae", Text: "hi"})
	assert.Equal(t, models.NotificationMessage, m.Type)
	assert.Equal(t, "You have a new message from Rae", m.Body)
	assert.Equal(t, "c1", m.Data["chatId"])
}

func TestInbox(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	n := NewNotifier(s, logging.Discard())
	inbox := NewInbox(s)

	n.Emit(ctx, "u1", models.NotificationRideRequest, "a", "a", nil)
	n.Emit(ctx, "u1", models.NotificationRideRequest, "b", "b", nil)
	n.Emit(ctx, "u2", models.NotificationRideRequest, "c", "c", nil)

	count, err := inbox.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	list, err := inbox.List(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, list, 2)

	var notOwner *apperrors.NotOwnerError
	assert.ErrorAs(t, inbox.MarkRead(ctx, "u2", list[0].ID), &notOwner)
	var notFound *apperrors.NotFoundError
	assert.ErrorAs(t, inbox.MarkRead(ctx, "u1", "missing"), &notFound)

	require.NoError(t, inbox.MarkRead(ctx, "u1", list[0].ID))
	count, err = inbox.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	changed, err := inbox.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	other, err := inbox.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, other)
}

func TestInboxPreferencesDefault(t *testing.T) {
	ctx := context.Background()
	inbox := NewInbox(memory.New())
	p, err := inbox.Preferences(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.PushEnabled)

	p.PushEnabled = false
	require.NoError(t, inbox.SavePreferences(ctx, p))
	p, err = inbox.Preferences(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.PushEnabled)
}

type fakePusher struct {
	tokens  []string
	payload services.NotificationPayload
	stale   []string
}

func (f *fakePusher) Send(ctx context.Context, tokens []string, p services.NotificationPayload) ([]string, error) {
	f.tokens = tokens
	f.payload = p
	return f.stale, nil
}

func TestPushSink(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	inbox := NewInbox(s)
	now := time.Now()
	require.NoError(t, inbox.RegisterDevice(ctx, "u1", "tok-live", now))
	require.NoError(t, inbox.RegisterDevice(ctx, "u1", "tok-dead", now))

	pusher := &fakePusher{stale: []string{"tok-dead"}}
	sink := PushSink{Store: s, Pusher: pusher, Log: logging.Discard()}
	n := models.Notification{ID: "n1", UserID: "u1", Type: models.NotificationRideAccepted,
		Title: "Ride Request Accepted", Message: "ok", Data: map[string]any{"rideId": "ride-1"}}

	require.NoError(t, sink.Deliver(ctx, n))
	assert.ElementsMatch(t, []string{"tok-live", "tok-dead"}, pusher.tokens)
	assert.Equal(t, "ride_accepted", pusher.payload.Data["type"])
	assert.Equal(t, "ride-1", pusher.payload.Data["rideId"])

	tokens, err := s.DeviceTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-live"}, tokens, "stale tokens are forgotten")

	prefs := models.DefaultPreferences("u1")
	prefs.RideStatusAlerts = false
	require.NoError(t, inbox.SavePreferences(ctx, prefs))
	pusher.tokens = nil
	require.NoError(t, sink.Deliver(ctx, n))
	assert.Nil(t, pusher.tokens, "muted type is not pushed")

	assert.Error(t, inbox.RegisterDevice(ctx, "u1", "", now))
}

type fakeProducer struct {
	key, value []byte
}

func (f *fakeProducer) SendMessage(ctx context.Context, key, value []byte) error {
	f.key, f.value = key, value
	return nil
}

func TestKafkaSink(t *testing.T) {
	p := &fakeProducer{}
	n := models.Notification{ID: "n1", UserID: "u1", Type: models.NotificationRating, Title: "New Rating"}
	require.NoError(t, KafkaSink{Producer: p}.Deliver(context.Background(), n))
	assert.Equal(t, "u1", string(p.key))

	var got models.Notification
	require.NoError(t, json.Unmarshal(p.value, &got))
	assert.Equal(t, "n1", got.ID)
	assert.Equal(t, models.NotificationRating, got.Type)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	Send(context.Background(), r, "u1", RideCompleted(&models.Ride{ID: "ride-1", From: "A", To: "B"}))
	require.Len(t, r.For("u1", models.NotificationRideCompleted), 1)
	assert.Empty(t, r.For("u2", models.NotificationRideCompleted))
	r.Reset()
	assert.Empty(t, r.Events())
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "notifications:u1", Channel("u1"))
}

func TestForgetDeviceOnlyForOwner(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	inbox := NewInbox(s)
	require.NoError(t, inbox.RegisterDevice(ctx, "u1", "tok-1", time.Now()))

	require.NoError(t, inbox.ForgetDevice(ctx, "u2", "tok-1"))
	tokens, err := s.DeviceTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, tokens)

	require.NoError(t, inbox.ForgetDevice(ctx, "u1", "tok-1"))
	tokens, err = s.DeviceTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tokens)

	assert.Error(t, inbox.ForgetDevice(ctx, "u1", ""))
}

type fakePublisher struct {
	channel string
	payload []byte
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, nil)
}

type fakeSockets struct {
	got map[string][]services.WebSocketMessage
}

func (f *fakeSockets) SendToUser(userID string, msg services.WebSocketMessage) int {
	if f.got == nil {
		f.got = make(map[string][]services.WebSocketMessage)
	}
	f.got[userID] = append(f.got[userID], msg)
	return 1
}

func TestRedisSinkAndRelay(t *testing.T) {
	pub := &fakePublisher{}
	n := models.Notification{ID: "n1", UserID: "u1", Type: models.NotificationMessage, Title: "New Message"}
	require.NoError(t, RedisSink{Client: pub, Origin: "api-a"}.Deliver(context.Background(), n))
	assert.Equal(t, "notifications:u1", pub.channel)

	self := &fakeSockets{}
	assert.False(t, Relay{Origin: "api-a", Hub: self, Log: logging.Discard()}.Forward(string(pub.payload)),
		"the publishing instance already delivered through its own hub")
	assert.Empty(t, self.got)

	peer := &fakeSockets{}
	relay := Relay{Origin: "api-b", Hub: peer, Log: logging.Discard()}
	require.True(t, relay.Forward(string(pub.payload)))
	require.Len(t, peer.got["u1"], 1)
	assert.Equal(t, "notification", peer.got["u1"][0].Type)
	forwarded, ok := peer.got["u1"][0].Data.(models.Notification)
	require.True(t, ok)
	assert.Equal(t, "n1", forwarded.ID)

	assert.False(t, relay.Forward("not json"))
}
