// Package booking runs the rider side of a ride: join requests the driver
// decides on, and direct bookings that take seats immediately.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/metrics"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/notify"
	"github.com/chachabrian/unipool-backend/internal/rides"
	"github.com/chachabrian/unipool-backend/internal/store"
)

// BookingInput is a rider's direct booking of a ride.
type BookingInput struct {
	RideID     string
	RiderID    string
	RiderName  string
	RiderPhone string
	Seats      int
}

type Workflow struct {
	store     store.Store
	inventory *rides.Inventory
	notify    notify.Emitter
	log       *slog.Logger
	now       func() time.Time
}

func NewWorkflow(s store.Store, inv *rides.Inventory, e notify.Emitter, log *slog.Logger) *Workflow {
	return &Workflow{store: s, inventory: inv, notify: e, log: log, now: time.Now}
}

// WithClock replaces the time source.
func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	w.now = now
	return w
}

func requestErr(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &apperrors.NotFoundError{Resource: "request", ID: id}
	}
	return err
}

func bookingErr(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &apperrors.NotFoundError{Resource: "booking", ID: id}
	}
	return err
}

// precheck validates a rider's ask for seats against the ride as it is now.
// The seat check is advisory; the authoritative one is the conditional
// reserve.
func (w *Workflow) precheck(ctx context.Context, rideID, riderID string, seats int) (*models.Ride, error) {
	if strings.TrimSpace(riderID) == "" {
		return nil, apperrors.Invalid("riderId", "is required")
	}
	if seats < 1 {
		return nil, apperrors.Invalid("passengers", "must be at least 1, got %d", seats)
	}
	ride, err := w.inventory.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID == riderID {
		return nil, apperrors.Invalid("rideId", "you cannot book your own ride")
	}
	if ride.Status != models.RideStatusActive {
		return nil, &apperrors.RideNotActiveError{RideID: rideID, Status: string(ride.Status)}
	}
	if ride.AvailableSeats < seats {
		return nil, &apperrors.InsufficientSeatsError{RideID: rideID, Requested: seats, Available: ride.AvailableSeats}
	}
	return ride, nil
}

// SubmitRequest records a pending request for passengers seats and tells
// the driver. No seats are taken until the driver accepts.
func (w *Workflow) SubmitRequest(ctx context.Context, rideID, riderID, riderName string, passengers int) (*models.BookingRequest, error) {
	ride, err := w.precheck(ctx, rideID, riderID, passengers)
	if err != nil {
		return nil, err
	}

	req := &models.BookingRequest{
		RideID:     rideID,
		RiderID:    riderID,
		RiderName:  strings.TrimSpace(riderName),
		Passengers: passengers,
		Status:     models.RequestStatusPending,
		CreatedAt:  w.now().UTC(),
	}
	err = w.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.FindOpenRequest(ctx, rideID, riderID)
		if err == nil {
			return &apperrors.DuplicateRequestError{RideID: rideID, RiderID: riderID}
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.CreateRequest(ctx, req)
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, &apperrors.DuplicateRequestError{RideID: rideID, RiderID: riderID}
	}
	if err != nil {
		return nil, err
	}

	metrics.RequestsSubmitted.Inc()
	w.log.Info("ride request submitted", "request_id", req.ID, "ride_id", rideID, "rider_id", riderID, "passengers", passengers)
	notify.Send(ctx, w.notify, ride.DriverID, notify.RideRequest(ride, req))
	return req, nil
}

// AuthorizeDriver loads a request and checks that userID drives its ride.
func (w *Workflow) AuthorizeDriver(ctx context.Context, requestID, userID string) (*models.BookingRequest, error) {
	req, err := w.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ride, err := w.inventory.GetRide(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != userID {
		return nil, &apperrors.NotOwnerError{Resource: "request", ID: requestID, UserID: userID}
	}
	return req, nil
}

// AcceptRequest reserves the request's seats and marks it accepted in one
// transaction. When the ride is short of seats the request stays pending.
func (w *Workflow) AcceptRequest(ctx context.Context, requestID, rideID string) error {
	var (
		req  *models.BookingRequest
		ride *models.Ride
	)
	at := w.now().UTC()
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return requestErr(err, requestID)
		}
		if r.RideID != rideID {
			return &apperrors.InvalidStateError{Resource: "request", ID: requestID, From: "ride " + r.RideID, To: "ride " + rideID}
		}
		if r.Status != models.RequestStatusPending {
			return &apperrors.InvalidStateError{Resource: "request", ID: requestID, From: string(r.Status), To: string(models.RequestStatusAccepted)}
		}
		ride, err = w.inventory.ReserveIn(ctx, tx, rideID, r.Passengers)
		if err != nil {
			return err
		}
		if err := tx.DecideRequest(ctx, requestID, models.RequestStatusAccepted, at); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &apperrors.InvalidStateError{Resource: "request", ID: requestID, From: "decided", To: string(models.RequestStatusAccepted)}
			}
			return err
		}
		r.Status = models.RequestStatusAccepted
		r.DecidedAt = &at
		req = r
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RequestsDecided.WithLabelValues(string(models.RequestStatusAccepted)).Inc()
	w.log.Info("ride request accepted", "request_id", requestID, "ride_id", rideID, "available_seats", ride.AvailableSeats)
	notify.Send(ctx, w.notify, req.RiderID, notify.RideAccepted(ride, req))
	return nil
}

// DeclineRequest closes a pending request. Seats are untouched.
func (w *Workflow) DeclineRequest(ctx context.Context, requestID string) error {
	var req *models.BookingRequest
	at := w.now().UTC()
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return requestErr(err, requestID)
		}
		if r.Status != models.RequestStatusPending {
			return &apperrors.InvalidStateError{Resource: "request", ID: requestID, From: string(r.Status), To: string(models.RequestStatusDeclined)}
		}
		if err := tx.DecideRequest(ctx, requestID, models.RequestStatusDeclined, at); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &apperrors.InvalidStateError{Resource: "request", ID: requestID, From: "decided", To: string(models.RequestStatusDeclined)}
			}
			return err
		}
		r.Status = models.RequestStatusDeclined
		r.DecidedAt = &at
		req = r
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RequestsDecided.WithLabelValues(string(models.RequestStatusDeclined)).Inc()
	w.log.Info("ride request declined", "request_id", requestID, "ride_id", req.RideID)

	ride, err := w.inventory.GetRide(ctx, req.RideID)
	if err != nil {
		w.log.Error("load ride for decline notification", "ride_id", req.RideID, "error", err)
		return nil
	}
	notify.Send(ctx, w.notify, req.RiderID, notify.RideDeclined(ride, req))
	return nil
}

// CreateBooking takes seats on a ride straight away and records a
// confirmed booking carrying a copy of the ride's route and price.
func (w *Workflow) CreateBooking(ctx context.Context, in BookingInput) (*models.Booking, error) {
	if in.Seats == 0 {
		in.Seats = 1
	}
	if _, err := w.precheck(ctx, in.RideID, in.RiderID, in.Seats); err != nil {
		return nil, err
	}

	var b *models.Booking
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.FindOpenBooking(ctx, in.RideID, in.RiderID)
		if err == nil {
			return &apperrors.DuplicateRequestError{RideID: in.RideID, RiderID: in.RiderID}
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		ride, err := w.inventory.ReserveIn(ctx, tx, in.RideID, in.Seats)
		if err != nil {
			return err
		}
		b = &models.Booking{
			RideID:     ride.ID,
			RiderID:    in.RiderID,
			RiderName:  strings.TrimSpace(in.RiderName),
			RiderPhone: in.RiderPhone,
			DriverID:   ride.DriverID,
			DriverName: ride.DriverName,
			Seats:      in.Seats,
			From:       ride.From,
			To:         ride.To,
			Date:       ride.Date,
			Time:       ride.Time,
			Price:      ride.Price,
			Status:     models.BookingStatusConfirmed,
			BookedAt:   w.now().UTC(),
		}
		return tx.CreateBooking(ctx, b)
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, &apperrors.DuplicateRequestError{RideID: in.RideID, RiderID: in.RiderID}
	}
	if err != nil {
		return nil, err
	}

	metrics.BookingsChanged.WithLabelValues(string(models.BookingStatusConfirmed)).Inc()
	w.log.Info("booking created", "booking_id", b.ID, "ride_id", b.RideID, "rider_id", b.RiderID, "seats", b.Seats)
	return b, nil
}

// CancelBooking cancels a booking on behalf of its rider or the ride's
// driver and gives confirmed seats back to the ride. The other party is
// notified.
func (w *Workflow) CancelBooking(ctx context.Context, bookingID, actingUserID string) error {
	var b *models.Booking
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return bookingErr(err, bookingID)
		}
		if cur.RiderID != actingUserID && cur.DriverID != actingUserID {
			return &apperrors.NotOwnerError{Resource: "booking", ID: bookingID, UserID: actingUserID}
		}
		if cur.Status == models.BookingStatusCancelled {
			return &apperrors.InvalidStateError{Resource: "booking", ID: bookingID, From: string(cur.Status), To: string(models.BookingStatusCancelled)}
		}
		release := cur.Status == models.BookingStatusConfirmed && cur.Seats > 0
		if release {
			// The ride may have been deleted since; the booking still cancels.
			if _, err := tx.GetRide(ctx, cur.RideID); errors.Is(err, store.ErrNotFound) {
				release = false
			} else if err != nil {
				return err
			}
		}

		if err := tx.SetBookingStatus(ctx, bookingID, cur.Status, models.BookingStatusCancelled); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &apperrors.InvalidStateError{Resource: "booking", ID: bookingID, From: "changed", To: string(models.BookingStatusCancelled)}
			}
			return err
		}
		if release {
			if _, err := w.inventory.ReleaseIn(ctx, tx, cur.RideID, cur.Seats); err != nil {
				return err
			}
		}
		cur.Status = models.BookingStatusCancelled
		b = cur
		return nil
	})
	if err != nil {
		return err
	}

	metrics.BookingsChanged.WithLabelValues(string(models.BookingStatusCancelled)).Inc()
	w.log.Info("booking cancelled", "booking_id", bookingID, "ride_id", b.RideID, "by", actingUserID)

	other, byName := b.DriverID, b.RiderName
	if actingUserID == b.DriverID {
		other, byName = b.RiderID, b.DriverName
	}
	notify.Send(ctx, w.notify, other, notify.BookingCancelled(b, byName))
	return nil
}

func (w *Workflow) GetRequest(ctx context.Context, id string) (*models.BookingRequest, error) {
	req, err := w.store.GetRequest(ctx, id)
	if err != nil {
		return nil, requestErr(err, id)
	}
	return req, nil
}

func (w *Workflow) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := w.store.GetBooking(ctx, id)
	if err != nil {
		return nil, bookingErr(err, id)
	}
	return b, nil
}

// ListRideRequests returns every request on a ride, oldest first. Only
// the ride's driver may see them.
func (w *Workflow) ListRideRequests(ctx context.Context, rideID, driverID string) ([]models.BookingRequest, error) {
	ride, err := w.inventory.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != driverID {
		return nil, &apperrors.NotOwnerError{Resource: "ride", ID: rideID, UserID: driverID}
	}
	reqs, err := w.store.ListRequests(ctx, store.RequestQuery{RideID: rideID})
	if err != nil {
		return nil, fmt.Errorf("list ride requests: %w", err)
	}
	return reqs, nil
}

func (w *Workflow) ListRiderRequests(ctx context.Context, riderID string) ([]models.BookingRequest, error) {
	reqs, err := w.store.ListRequests(ctx, store.RequestQuery{RiderID: riderID})
	if err != nil {
		return nil, fmt.Errorf("list rider requests: %w", err)
	}
	return reqs, nil
}

// ListRideBookings returns the confirmed bookings on a ride, newest first.
func (w *Workflow) ListRideBookings(ctx context.Context, rideID string) ([]models.Booking, error) {
	return w.store.ListBookings(ctx, store.BookingQuery{RideID: rideID, Status: models.BookingStatusConfirmed})
}

// ListRiderBookings returns all of a rider's bookings, cancelled included.
func (w *Workflow) ListRiderBookings(ctx context.Context, riderID string) ([]models.Booking, error) {
	return w.store.ListBookings(ctx, store.BookingQuery{RiderID: riderID})
}

// ListDriverBookings returns confirmed bookings across the driver's rides.
func (w *Workflow) ListDriverBookings(ctx context.Context, driverID string) ([]models.Booking, error) {
	return w.store.ListBookings(ctx, store.BookingQuery{DriverID: driverID, Status: models.BookingStatusConfirmed})
}
