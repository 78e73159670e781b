package rides

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/logging"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/notify"
	"github.com/chachabrian/unipool-backend/internal/store"
	"github.com/chachabrian/unipool-backend/internal/store/memory"
)

func newInventory(t *testing.T) (*Inventory, *memory.Store, *notify.Recorder) {
	t.Helper()
	s := memory.New()
	rec := &notify.Recorder{}
	return NewInventory(s, rec, logging.Discard()), s, rec
}

func spec(seats int) RideSpec {
	return RideSpec{
		DriverID:   "driver-1",
		DriverName: "Dee",
		From:       "North Campus",
		To:         "Downtown Station",
		Date:       "2026-11-02",
		Time:       "08:15",
		TotalSeats: seats,
		Price:      3.5,
	}
}

func TestCreateRideSeatBounds(t *testing.T) {
	ctx := context.Background()
	inv, s, _ := newInventory(t)

	var validation *apperrors.ValidationError
	_, err := inv.CreateRide(ctx, spec(0))
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "totalSeats", validation.Field)

	_, err = inv.CreateRide(ctx, spec(7))
	require.ErrorAs(t, err, &validation)

	id, err := inv.CreateRide(ctx, spec(4))
	require.NoError(t, err)
	ride, err := s.GetRide(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, ride.TotalSeats)
	assert.Equal(t, 4, ride.AvailableSeats)
	assert.Equal(t, models.RideStatusActive, ride.Status)
	assert.False(t, ride.CreatedAt.IsZero())
}

func TestCreateRideValidation(t *testing.T) {
	ctx := context.Background()
	inv, _, _ := newInventory(t)

	cases := map[string]func(*RideSpec){
		"price":    func(s *RideSpec) { s.Price = -1 },
		"driverId": func(s *RideSpec) { s.DriverID = " " },
		"from":     func(s *RideSpec) { s.From = "" },
		"to":       func(s *RideSpec) { s.To = "" },
		"date":     func(s *RideSpec) { s.Date = "02/11/2026" },
		"time":     func(s *RideSpec) { s.Time = "8am" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			sp := spec(3)
			mutate(&sp)
			_, err := inv.CreateRide(ctx, sp)
			var validation *apperrors.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, field, validation.Field)
		})
	}

	free := spec(2)
	free.Price = 0
	free.Date, free.Time = "", ""
	_, err := inv.CreateRide(ctx, free)
	assert.NoError(t, err, "free rides without a schedule are allowed")
}

func TestListAvailableRides(t *testing.T) {
	ctx := context.Background()
	inv, _, _ := newInventory(t)

	downtown, err := inv.CreateRide(ctx, spec(2))
	require.NoError(t, err)

	airport := spec(3)
	airport.To = "Airport Terminal 2"
	airport.Date = "2026-11-03"
	airportID, err := inv.CreateRide(ctx, airport)
	require.NoError(t, err)

	full, err := inv.CreateRide(ctx, spec(1))
	require.NoError(t, err)
	_, err = inv.ReserveSeats(ctx, full, 1)
	require.NoError(t, err)

	cancelled, err := inv.CreateRide(ctx, spec(2))
	require.NoError(t, err)
	require.NoError(t, inv.CancelRide(ctx, cancelled, "driver-1"))

	all, err := inv.ListAvailableRides(ctx, RideFilter{})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{downtown, airportID}, ids)

	byDest, err := inv.ListAvailableRides(ctx, RideFilter{To: "airport"})
	require.NoError(t, err)
	require.Len(t, byDest, 1)
	assert.Equal(t, airportID, byDest[0].ID)

	byOrigin, err := inv.ListAvailableRides(ctx, RideFilter{From: "north"})
	require.NoError(t, err)
	assert.Len(t, byOrigin, 2)

	byDate, err := inv.ListAvailableRides(ctx, RideFilter{Date: "2026-11-02"})
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, downtown, byDate[0].ID)
}

func TestReserveAndReleaseSeats(t *testing.T) {
	ctx := context.Background()
	inv, _, _ := newInventory(t)
	id, err := inv.CreateRide(ctx, spec(3))
	require.NoError(t, err)

	ride, err := inv.ReserveSeats(ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, ride.AvailableSeats)

	_, err = inv.ReserveSeats(ctx, id, 2)
	var seats *apperrors.InsufficientSeatsError
	require.ErrorAs(t, err, &seats)
	assert.Equal(t, "only 1 seat left on ride "+id+", 2 requested", err.Error())

	_, err = inv.ReserveSeats(ctx, id, 0)
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)

	ride, err = inv.ReleaseSeats(ctx, id, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, ride.AvailableSeats, "release is clamped at total seats")

	var notFound *apperrors.RideNotFoundError
	_, err = inv.ReserveSeats(ctx, "nope", 1)
	assert.ErrorAs(t, err, &notFound)
	_, err = inv.ReleaseSeats(ctx, "nope", 1)
	assert.ErrorAs(t, err, &notFound)
}

func TestConcurrentReserveNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	inv, s, _ := newInventory(t)
	id, err := inv.CreateRide(ctx, spec(5))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := inv.ReserveSeats(ctx, id, 1+n%2)
			if err == nil {
				mu.Lock()
				taken += 1 + n%2
				mu.Unlock()
				return
			}
			var seats *apperrors.InsufficientSeatsError
			assert.True(t, errors.As(err, &seats), "unexpected error %v", err)
		}(i)
	}
	wg.Wait()

	ride, err := s.GetRide(ctx, id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ride.AvailableSeats, 0)
	assert.Equal(t, 5, taken+ride.AvailableSeats)
}

func TestCancelRide(t *testing.T) {
	ctx := context.Background()
	inv, s, rec := newInventory(t)
	id, err := inv.CreateRide(ctx, spec(3))
	require.NoError(t, err)

	// one accepted and one pending request hold interest in the ride
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateRequest(ctx, &models.BookingRequest{RideID: id, RiderID: "rider-a", Passengers: 1,
			Status: models.RequestStatusAccepted, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return tx.CreateRequest(ctx, &models.BookingRequest{RideID: id, RiderID: "rider-b", Passengers: 1,
			Status: models.RequestStatusPending, CreatedAt: time.Now()})
	}))

	var notOwner *apperrors.NotOwnerError
	assert.ErrorAs(t, inv.CancelRide(ctx, id, "someone-else"), &notOwner)

	require.NoError(t, inv.CancelRide(ctx, id, "driver-1"))
	ride, err := inv.GetRide(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCancelled, ride.Status)
	assert.Len(t, rec.Events(), 2)
	assert.Len(t, rec.For("rider-a", models.NotificationRideDeclined), 1)
	assert.Len(t, rec.For("rider-b", models.NotificationRideDeclined), 1)

	var state *apperrors.InvalidStateError
	err = inv.CancelRide(ctx, id, "driver-1")
	require.ErrorAs(t, err, &state)
	assert.Equal(t, "cancelled", state.From)

	var notFound *apperrors.RideNotFoundError
	assert.ErrorAs(t, inv.CancelRide(ctx, "nope", "driver-1"), &notFound)
}

func TestCompleteRideNotifiesPassengers(t *testing.T) {
	ctx := context.Background()
	inv, s, rec := newInventory(t)
	id, err := inv.CreateRide(ctx, spec(3))
	require.NoError(t, err)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateRequest(ctx, &models.BookingRequest{RideID: id, RiderID: "rider-a", Passengers: 1,
			Status: models.RequestStatusPending, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return tx.CreateBooking(ctx, &models.Booking{RideID: id, RiderID: "rider-c", DriverID: "driver-1",
			Seats: 1, Status: models.BookingStatusConfirmed, BookedAt: time.Now()})
	}))

	require.NoError(t, inv.CompleteRide(ctx, id, "driver-1"))
	assert.Len(t, rec.For("rider-c", models.NotificationRideCompleted), 1)
	assert.Empty(t, rec.For("rider-a", models.NotificationRideCompleted), "pending riders did not travel")

	var state *apperrors.InvalidStateError
	assert.ErrorAs(t, inv.CompleteRide(ctx, id, "driver-1"), &state)
}

func TestDeleteRide(t *testing.T) {
	ctx := context.Background()
	inv, s, _ := newInventory(t)

	empty, err := inv.CreateRide(ctx, spec(2))
	require.NoError(t, err)
	var notOwner *apperrors.NotOwnerError
	assert.ErrorAs(t, inv.DeleteRide(ctx, empty, "rider-a"), &notOwner)
	require.NoError(t, inv.DeleteRide(ctx, empty, "driver-1"))
	var notFound *apperrors.RideNotFoundError
	_, err = inv.GetRide(ctx, empty)
	assert.ErrorAs(t, err, &notFound)

	busy, err := inv.CreateRide(ctx, spec(2))
	require.NoError(t, err)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateBooking(ctx, &models.Booking{RideID: busy, RiderID: "rider-a", DriverID: "driver-1",
			Seats: 1, Status: models.BookingStatusConfirmed, BookedAt: time.Now()})
	}))
	var state *apperrors.InvalidStateError
	assert.ErrorAs(t, inv.DeleteRide(ctx, busy, "driver-1"), &state)

	require.NoError(t, inv.CancelRide(ctx, busy, "driver-1"))
	assert.NoError(t, inv.DeleteRide(ctx, busy, "driver-1"), "cancelled rides can be removed")
}

func TestSortRides(t *testing.T) {
	four, five := 4.0, 5.0
	rides := []models.Ride{
		{ID: "a", Price: 5, Date: "2026-11-03", Time: "09:00", DriverRating: &four},
		{ID: "b", Price: 2, Date: "", DriverRating: nil},
		{ID: "c", Price: 3, Date: "2026-11-02", Time: "18:00", DriverRating: &five},
	}
	ids := func() []string {
		out := []string{}
		for _, r := range rides {
			out = append(out, r.ID)
		}
		return out
	}

	SortRides(rides, SortByPrice)
	assert.Equal(t, []string{"b", "c", "a"}, ids())

	SortRides(rides, SortByRating)
	assert.Equal(t, []string{"c", "a", "b"}, ids())

	SortRides(rides, SortByDeparture)
	assert.Equal(t, []string{"c", "a", "b"}, ids())

	SortRides(rides, SortKey("distance"))
	assert.Equal(t, []string{"c", "a", "b"}, ids())
	assert.False(t, SortKey("distance").Valid())
}
