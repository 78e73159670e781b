// Package storetest holds the behavioural checks every store.Store backend
// must pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/store"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("RideRoundTrip", func(t *testing.T) { testRideRoundTrip(t, newStore(t)) })
	t.Run("ListRidesFilters", func(t *testing.T) { testListRidesFilters(t, newStore(t)) })
	t.Run("ReserveSeats", func(t *testing.T) { testReserveSeats(t, newStore(t)) })
	t.Run("ReleaseSeatsClamps", func(t *testing.T) { testReleaseSeatsClamps(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStore(t)) })
	t.Run("ConcurrentReserve", func(t *testing.T) { testConcurrentReserve(t, newStore(t)) })
	t.Run("RequestLifecycle", func(t *testing.T) { testRequestLifecycle(t, newStore(t)) })
	t.Run("BookingLifecycle", func(t *testing.T) { testBookingLifecycle(t, newStore(t)) })
	t.Run("RideStatusAndDelete", func(t *testing.T) { testRideStatusAndDelete(t, newStore(t)) })
	t.Run("RatingsUnique", func(t *testing.T) { testRatingsUnique(t, newStore(t)) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, newStore(t)) })
	t.Run("WatchNotifications", func(t *testing.T) { testWatchNotifications(t, newStore(t)) })
	t.Run("DeviceTokensAndPreferences", func(t *testing.T) { testDeviceTokensAndPreferences(t, newStore(t)) })
	t.Run("DeviceTokenOwnership", func(t *testing.T) { testDeviceTokenOwnership(t, newStore(t)) })
	t.Run("OpenChatOncePerPair", func(t *testing.T) { testOpenChatOncePerPair(t, newStore(t)) })
	t.Run("ChatMessages", func(t *testing.T) { testChatMessages(t, newStore(t)) })
}

// NewRide returns an active ride with the given seats, ready to create.
func NewRide(driverID string, seats int) *models.Ride {
	return &models.Ride{
		DriverID:       driverID,
		DriverName:     "Driver " + driverID,
		From:           "North Campus",
		To:             "Downtown",
		Date:           "2026-11-02",
		Time:           "08:15",
		TotalSeats:     seats,
		AvailableSeats: seats,
		Price:          4.5,
		Status:         models.RideStatusActive,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

func mustCreateRide(t *testing.T, s store.Store, r *models.Ride) *models.Ride {
	t.Helper()
	require.NoError(t, s.CreateRide(context.Background(), r))
	require.NotEmpty(t, r.ID)
	return r
}

func reserve(ctx context.Context, s store.Store, rideID string, n int) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.ReserveSeats(ctx, rideID, n)
		return err
	})
}

func testRideRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := mustCreateRide(t, s, NewRide("d1", 3))

	got, err := s.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.DriverID, got.DriverID)
	assert.Equal(t, 3, got.TotalSeats)
	assert.Equal(t, 3, got.AvailableSeats)
	assert.Equal(t, models.RideStatusActive, got.Status)

	_, err = s.GetRide(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListRidesFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	older := NewRide("d1", 2)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	mustCreateRide(t, s, older)
	newer := mustCreateRide(t, s, NewRide("d2", 2))
	full := NewRide("d1", 2)
	full.AvailableSeats = 0
	mustCreateRide(t, s, full)
	cancelled := NewRide("d2", 2)
	cancelled.Status = models.RideStatusCancelled
	mustCreateRide(t, s, cancelled)

	open, err := s.ListRides(ctx, store.RideQuery{Status: models.RideStatusActive, MinAvailable: 1})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, newer.ID, open[0].ID, "newest first")
	assert.Equal(t, older.ID, open[1].ID)

	mine, err := s.ListRides(ctx, store.RideQuery{DriverID: "d1"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func testReserveSeats(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := mustCreateRide(t, s, NewRide("d1", 3))

	require.NoError(t, reserve(ctx, s, r.ID, 2))
	got, err := s.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableSeats)

	err = reserve(ctx, s, r.ID, 2)
	var seats *apperrors.InsufficientSeatsError
	require.ErrorAs(t, err, &seats)
	assert.Equal(t, 1, seats.Available)
	assert.Equal(t, 2, seats.Requested)

	got, err = s.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableSeats, "failed reserve must not change seats")

	cancelled := NewRide("d1", 3)
	cancelled.Status = models.RideStatusCancelled
	mustCreateRide(t, s, cancelled)
	var inactive *apperrors.RideNotActiveError
	assert.ErrorAs(t, reserve(ctx, s, cancelled.ID, 1), &inactive)

	assert.ErrorIs(t, reserve(ctx, s, "missing", 1), store.ErrNotFound)
}

func testReleaseSeatsClamps(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := NewRide("d1", 4)
	r.AvailableSeats = 2
	mustCreateRide(t, s, r)

	var clamped bool
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		_, clamped, err = tx.ReleaseSeats(ctx, r.ID, 1)
		return err
	})
	require.NoError(t, err)
	assert.False(t, clamped)

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		_, clamped, err = tx.ReleaseSeats(ctx, r.ID, 5)
		return err
	})
	require.NoError(t, err)
	assert.True(t, clamped)

	got, err := s.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.AvailableSeats)
}

func testRollbackOnError(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := mustCreateRide(t, s, NewRide("d1", 3))
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.ReserveSeats(ctx, r.ID, 1); err != nil {
			return err
		}
		if err := tx.CreateRequest(ctx, &models.BookingRequest{
			RideID: r.ID, RiderID: "r1", Passengers: 1,
			Status: models.RequestStatusPending, CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableSeats)

	reqs, err := s.ListRequests(ctx, store.RequestQuery{RideID: r.ID})
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func testConcurrentReserve(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := mustCreateRide(t, s, NewRide("d1", 3))

	var ok, short atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reserve(ctx, s, r.ID, 1)
			var seats *apperrors.InsufficientSeatsError
			switch {
			case err == nil:
				ok.Add(1)
			case errors.As(err, &seats):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(5), short.Load())
	got, err := s.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableSeats)
}

func testRequestLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := mustCreateRide(t, s, NewRide("d1", 3))
	req := &models.BookingRequest{
		RideID: r.ID, RiderID: "r1", RiderName: "Rae", Passengers: 2,
		Status: models.RequestStatusPending, CreatedAt: time.Now().UTC(),
	}

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.FindOpenRequest(ctx, r.ID, "r1")
		require.ErrorIs(t, err, store.ErrNotFound)
		return tx.CreateRequest(ctx, req)
	})
	require.NoError(t, err)
	require.NotEmpty(t, req.ID)

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		open, err := tx.FindOpenRequest(ctx, r.ID, "r1")
		require.NoError(t, err)
		assert.Equal(t, req.ID, open.ID)
		return tx.DecideRequest(ctx, req.ID, models.RequestStatusAccepted, time.Now().UTC())
	})
	require.NoError(t, err)

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusAccepted, got.Status)
	assert.NotNil(t, got.DecidedAt)
	assert.Equal(t, 2, got.Passengers)

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DecideRequest(ctx, req.ID, models.RequestStatusDeclined, time.Now().UTC())
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	listed, err := s.ListRequests(ctx, store.RequestQuery{RiderID: "r1", Status: models.RequestStatusAccepted})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func testBookingLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := mustCreateRide(t, s, NewRide("d1", 3))
	b := &models.Booking{
		RideID: r.ID, RiderID: "r1", RiderName: "Rae", DriverID: "d1", DriverName: "Dee",
		Seats: 1, From: r.From, To: r.To, Date: r.Date, Time: r.Time, Price: r.Price,
		Status: models.BookingStatusConfirmed, BookedAt: time.Now().UTC(),
	}
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateBooking(ctx, b)
	}))

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		open, err := tx.FindOpenBooking(ctx, r.ID, "r1")
		require.NoError(t, err)
		assert.Equal(t, b.ID, open.ID)
		return tx.SetBookingStatus(ctx, b.ID, models.BookingStatusConfirmed, models.BookingStatusCancelled)
	})
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetBookingStatus(ctx, b.ID, models.BookingStatusConfirmed, models.BookingStatusCancelled)
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.FindOpenBooking(ctx, r.ID, "r1")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	byDriver, err := s.ListBookings(ctx, store.BookingQuery{DriverID: "d1"})
	require.NoError(t, err)
	require.Len(t, byDriver, 1)
	assert.Equal(t, models.BookingStatusCancelled, byDriver[0].Status)
}

func testRideStatusAndDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := mustCreateRide(t, s, NewRide("d1", 3))

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		has, err := tx.HasCommitments(ctx, r.ID)
		require.NoError(t, err)
		assert.False(t, has)
		return tx.CreateBooking(ctx, &models.Booking{
			RideID: r.ID, RiderID: "r1", DriverID: "d1", Seats: 1,
			Status: models.BookingStatusConfirmed, BookedAt: time.Now().UTC(),
		})
	}))
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		has, err := tx.HasCommitments(ctx, r.ID)
		require.NoError(t, err)
		assert.True(t, has)
		return nil
	}))

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetRideStatus(ctx, r.ID, models.RideStatusActive, models.RideStatusCompleted)
	}))
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetRideStatus(ctx, r.ID, models.RideStatusActive, models.RideStatusCancelled)
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteRide(ctx, r.ID)
	}))
	_, err = s.GetRide(ctx, r.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRatingsUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	rate := func(score int) error {
		return s.CreateRating(ctx, &models.Rating{
			RideID: "ride-1", RaterID: "r1", RateeID: "d1", Score: score, CreatedAt: time.Now().UTC(),
		})
	}
	require.NoError(t, rate(5))
	assert.ErrorIs(t, rate(3), store.ErrConflict)

	require.NoError(t, s.CreateRating(ctx, &models.Rating{
		RideID: "ride-2", RaterID: "r2", RateeID: "d1", Score: 4, CreatedAt: time.Now().UTC(),
	}))

	got, err := s.ListRatings(ctx, store.RatingQuery{RateeID: "d1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func newNotification(userID, title string, at time.Time) *models.Notification {
	return &models.Notification{
		UserID: userID, Type: models.NotificationRideRequest,
		Title: title, Message: title + " body", CreatedAt: at,
		Data: map[string]any{"rideId": "ride-1"},
	}
}

func testNotifications(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	first := newNotification("u1", "first", base)
	second := newNotification("u1", "second", base.Add(time.Second))
	require.NoError(t, s.CreateNotification(ctx, first))
	require.NoError(t, s.CreateNotification(ctx, second))
	require.NoError(t, s.CreateNotification(ctx, newNotification("u2", "other", base)))

	list, err := s.ListNotifications(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Title)
	assert.Equal(t, "ride-1", list[0].Data["rideId"])

	n, err := s.MarkNotificationsRead(ctx, "u1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.MarkNotificationsRead(ctx, "u2", second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "cannot mark another user's notification")

	unread, err := s.ListNotifications(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)

	n, err = s.MarkNotificationsRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetNotification(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)
}

func testWatchNotifications(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots := make(chan []models.Notification, 16)
	stop, err := s.WatchNotifications(ctx, "u1", func(list []models.Notification) {
		snapshots <- list
	})
	require.NoError(t, err)
	defer stop()

	select {
	case list := <-snapshots:
		assert.Empty(t, list)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial snapshot")
	}

	require.NoError(t, s.CreateNotification(context.Background(), newNotification("u1", "hello", time.Now().UTC())))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case list := <-snapshots:
			if len(list) == 1 {
				assert.Equal(t, "hello", list[0].Title)
				return
			}
		case <-deadline:
			t.Fatal("watcher did not see the new notification")
		}
	}
}

func testDeviceTokensAndPreferences(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.SaveDeviceToken(ctx, &models.DeviceToken{Token: "tok-a", UserID: "u1", UpdatedAt: now}))
	require.NoError(t, s.SaveDeviceToken(ctx, &models.DeviceToken{Token: "tok-b", UserID: "u1", UpdatedAt: now}))
	require.NoError(t, s.SaveDeviceToken(ctx, &models.DeviceToken{Token: "tok-a", UserID: "u1", UpdatedAt: now}))

	tokens, err := s.DeviceTokens(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, tokens)

	require.NoError(t, s.DeleteDeviceToken(ctx, "u1", "tok-a"))
	tokens, err = s.DeviceTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-b"}, tokens)

	_, err = s.GetPreferences(ctx, "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	p := models.DefaultPreferences("u1")
	p.RatingAlerts = false
	require.NoError(t, s.SavePreferences(ctx, p))
	got, err := s.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.RatingAlerts)
	assert.True(t, got.PushEnabled)
}

func testDeviceTokenOwnership(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.SaveDeviceToken(ctx, &models.DeviceToken{Token: "tok-a", UserID: "u1", UpdatedAt: now}))

	require.NoError(t, s.DeleteDeviceToken(ctx, "u2", "tok-a"))
	tokens, err := s.DeviceTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a"}, tokens, "another user cannot remove the token")

	require.NoError(t, s.DeleteDeviceToken(ctx, "u1", "missing"))

	// re-registering moves the token to the new user
	require.NoError(t, s.SaveDeviceToken(ctx, &models.DeviceToken{Token: "tok-a", UserID: "u2", UpdatedAt: now}))
	require.NoError(t, s.DeleteDeviceToken(ctx, "u1", "tok-a"))
	tokens, err = s.DeviceTokens(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a"}, tokens)
}

func testOpenChatOncePerPair(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	first := models.NewChat("r1", "Rae", "d1", "Dee", "ride-1", at)
	created, err := s.OpenChat(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotEmpty(t, first.ID)

	again := models.NewChat("d1", "Dee", "r1", "Rae", "ride-2", at.Add(time.Minute))
	created, err = s.OpenChat(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "ride-1", again.RideID, "the stored chat wins")
	assert.Equal(t, "Rae", again.ParticipantNames["r1"])

	got, err := s.GetChat(ctx, first.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "d1"}, got.Participants)

	_, err = s.GetChat(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testChatMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	older := models.NewChat("r1", "Rae", "d1", "Dee", "ride-1", base)
	_, err := s.OpenChat(ctx, older)
	require.NoError(t, err)
	newer := models.NewChat("r1", "Rae", "d2", "Dan", "ride-2", base.Add(time.Second))
	_, err = s.OpenChat(ctx, newer)
	require.NoError(t, err)
	_, err = s.OpenChat(ctx, models.NewChat("x1", "X", "x2", "Y", "", base))
	require.NoError(t, err)

	send := func(chatID, from, text string, at time.Time) *models.Message {
		m := &models.Message{ChatID: chatID, SenderID: from, Text: text, CreatedAt: at}
		require.NoError(t, s.AddMessage(ctx, m))
		require.NotEmpty(t, m.ID)
		return m
	}
	send(older.ID, "r1", "hi, are you leaving at 8?", base.Add(2*time.Second))
	send(older.ID, "d1", "yes, 8:15", base.Add(3*time.Second))
	send(older.ID, "d1", "at the north gate", base.Add(4*time.Second))

	err = s.AddMessage(ctx, &models.Message{ChatID: "missing", SenderID: "r1", Text: "x", CreatedAt: base})
	assert.ErrorIs(t, err, store.ErrNotFound)

	chats, err := s.ListChats(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, older.ID, chats[0].ID, "latest message first")
	assert.Equal(t, "at the north gate", chats[0].LastMessage)

	msgs, err := s.ListMessages(ctx, older.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi, are you leaving at 8?", msgs[0].Text)
	assert.Equal(t, "at the north gate", msgs[2].Text)

	n, err := s.MarkMessagesRead(ctx, older.ID, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only the other side's messages")
	n, err = s.MarkMessagesRead(ctx, older.ID, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	msgs, err = s.ListMessages(ctx, older.ID)
	require.NoError(t, err)
	assert.False(t, msgs[0].Read)
	assert.True(t, msgs[1].Read)
	assert.True(t, msgs[2].Read)
}
