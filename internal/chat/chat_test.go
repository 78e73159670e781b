package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/logging"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/notify"
	"github.com/chachabrian/unipool-backend/internal/rides"
	"github.com/chachabrian/unipool-backend/internal/services"
	"github.com/chachabrian/unipool-backend/internal/store/memory"
)

const driver = "driver-1"

type fixture struct {
	store    *memory.Store
	rides    *rides.Inventory
	chats    *Service
	notifier *notify.Notifier
}

func newFixture(t *testing.T, sinks ...notify.Sink) *fixture {
	t.Helper()
	s := memory.New()
	log := logging.Discard()
	n := notify.NewNotifier(s, log, sinks...)
	inv := rides.NewInventory(s, n, log)
	return &fixture{store: s, rides: inv, chats: NewService(s, inv, n, log), notifier: n}
}

func (f *fixture) ride(t *testing.T) string {
	t.Helper()
	id, err := f.rides.CreateRide(context.Background(), rides.RideSpec{
		DriverID: driver, DriverName: "Dee", From: "Library", To: "Airport", TotalSeats: 3,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) inbox(t *testing.T, userID string) []models.Notification {
	t.Helper()
	all, err := f.store.ListNotifications(context.Background(), userID, false)
	require.NoError(t, err)
	var out []models.Notification
	for _, n := range all {
		if n.Type == models.NotificationMessage {
			out = append(out, n)
		}
	}
	return out
}

func TestConversationScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rideID := f.ride(t)

	c, created, err := f.chats.Open(ctx, OpenInput{UserID: "rider-a", UserName: "Ari", OtherID: driver, OtherName: "Dee", RideID: rideID})
	require.NoError(t, err)
	assert.True(t, created)

	same, created, err := f.chats.Open(ctx, OpenInput{UserID: driver, UserName: "Dee", OtherID: "rider-a"})
	require.NoError(t, err)
	assert.False(t, created, "the driver lands in the chat the rider opened")
	assert.Equal(t, c.ID, same.ID)

	_, err = f.chats.Send(ctx, c.ID, "rider-a", "Ari", "Can you pick me up at the gate?")
	require.NoError(t, err)
	_, err = f.chats.Send(ctx, c.ID, driver, "", "  Sure, 7:25  ")
	require.NoError(t, err)

	toDriver := f.inbox(t, driver)
	require.Len(t, toDriver, 1)
	assert.Equal(t, "You have a new message from Ari", toDriver[0].Message)
	assert.Equal(t, c.ID, toDriver[0].Data["chatId"])

	toRider := f.inbox(t, "rider-a")
	require.Len(t, toRider, 1)
	assert.Equal(t, "You have a new message from Dee", toRider[0].Message, "sender name falls back to the chat's record")

	msgs, err := f.chats.Messages(ctx, c.ID, "rider-a")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Can you pick me up at the gate?", msgs[0].Text)
	assert.Equal(t, "Sure, 7:25", msgs[1].Text)

	list, err := f.chats.List(ctx, driver)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Sure, 7:25", list[0].LastMessage)

	read, err := f.chats.MarkRead(ctx, c.ID, "rider-a")
	require.NoError(t, err)
	assert.Equal(t, 1, read)
	read, err = f.chats.MarkRead(ctx, c.ID, driver)
	require.NoError(t, err)
	assert.Equal(t, 1, read)
}

func TestOpenChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rideID := f.ride(t)

	var invalid *apperrors.ValidationError
	_, _, err := f.chats.Open(ctx, OpenInput{UserID: "rider-a", OtherID: "rider-a"})
	assert.ErrorAs(t, err, &invalid)
	_, _, err = f.chats.Open(ctx, OpenInput{UserID: "rider-a"})
	assert.ErrorAs(t, err, &invalid)
	_, _, err = f.chats.Open(ctx, OpenInput{UserID: "rider-a", OtherID: "rider-b", RideID: rideID})
	assert.ErrorAs(t, err, &invalid, "two riders cannot hang a chat on someone else's ride")

	var missing *apperrors.RideNotFoundError
	_, _, err = f.chats.Open(ctx, OpenInput{UserID: "rider-a", OtherID: driver, RideID: "nope"})
	assert.ErrorAs(t, err, &missing)

	_, created, err := f.chats.Open(ctx, OpenInput{UserID: "rider-a", OtherID: "rider-b"})
	require.NoError(t, err)
	assert.True(t, created, "a chat without a ride is allowed")
}

func TestOutsidersAreKeptOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c, _, err := f.chats.Open(ctx, OpenInput{UserID: "rider-a", OtherID: driver})
	require.NoError(t, err)

	var notOwner *apperrors.NotOwnerError
	_, err = f.chats.Send(ctx, c.ID, "rider-z", "Zed", "hello")
	assert.ErrorAs(t, err, &notOwner)
	_, err = f.chats.Messages(ctx, c.ID, "rider-z")
	assert.ErrorAs(t, err, &notOwner)
	_, err = f.chats.MarkRead(ctx, c.ID, "rider-z")
	assert.ErrorAs(t, err, &notOwner)

	var notFound *apperrors.NotFoundError
	_, err = f.chats.Get(ctx, "missing", "rider-a")
	assert.ErrorAs(t, err, &notFound)

	list, err := f.chats.List(ctx, "rider-z")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.inbox(t, driver))
}

func TestSendValidatesText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c, _, err := f.chats.Open(ctx, OpenInput{UserID: "rider-a", OtherID: driver})
	require.NoError(t, err)

	var invalid *apperrors.ValidationError
	_, err = f.chats.Send(ctx, c.ID, "rider-a", "Ari", "   ")
	assert.ErrorAs(t, err, &invalid)
	_, err = f.chats.Send(ctx, c.ID, "rider-a", "Ari", strings.Repeat("ß", models.MaxMessageLength+1))
	assert.ErrorAs(t, err, &invalid)

	_, err = f.chats.Send(ctx, c.ID, "rider-a", "Ari", strings.Repeat("ß", models.MaxMessageLength))
	assert.NoError(t, err, "the limit counts characters, not bytes")
}

type pushLog struct {
	mu   sync.Mutex
	tags []string
}

func (p *pushLog) Send(ctx context.Context, tokens []string, payload services.NotificationPayload) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = append(p.tags, payload.Tag)
	return nil, nil
}

func (p *pushLog) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tags...)
}

func TestMessageAlertsGatePush(t *testing.T) {
	ctx := context.Background()
	pushes := &pushLog{}
	s := memory.New()
	log := logging.Discard()
	n := notify.NewNotifier(s, log, notify.PushSink{Store: s, Pusher: pushes, Log: log})
	chats := NewService(s, rides.NewInventory(s, n, log), n, log)
	inbox := notify.NewInbox(s)
	require.NoError(t, inbox.RegisterDevice(ctx, driver, "tok-driver", time.Now()))

	c, _, err := chats.Open(ctx, OpenInput{UserID: "rider-a", UserName: "Ari", OtherID: driver})
	require.NoError(t, err)
	_, err = chats.Send(ctx, c.ID, "rider-a", "Ari", "first")
	require.NoError(t, err)
	n.Wait()
	assert.Equal(t, []string{"message"}, pushes.sent())

	prefs := models.DefaultPreferences(driver)
	prefs.MessageAlerts = false
	require.NoError(t, inbox.SavePreferences(ctx, prefs))
	_, err = chats.Send(ctx, c.ID, "rider-a", "Ari", "second")
	require.NoError(t, err)
	n.Wait()
	assert.Equal(t, []string{"message"}, pushes.sent(), "muted message alerts are not pushed")

	unread, err := inbox.UnreadCount(ctx, driver)
	require.NoError(t, err)
	assert.Equal(t, 2, unread, "the inbox still records both")
}
