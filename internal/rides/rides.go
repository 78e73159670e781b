// Package rides manages ride offers and their seat counters.
//
// Every change to a ride's available seats goes through Reserve/Release
// (or their In variants used inside a caller's transaction), which run as
// conditional writes in the store.
package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/metrics"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/notify"
	"github.com/chachabrian/unipool-backend/internal/store"
)

// RideSpec is what a driver submits to offer a ride.
type RideSpec struct {
	DriverID     string
	DriverName   string
	DriverPhone  string
	DriverRating *float64
	From         string
	To           string
	Date         string
	Time         string
	TotalSeats   int
	Price        float64
}

// RideFilter narrows ListAvailableRides. From and To match as
// case-insensitive substrings, Date exactly.
type RideFilter struct {
	From string
	To   string
	Date string
}

type Inventory struct {
	store  store.Store
	notify notify.Emitter
	log    *slog.Logger
	now    func() time.Time
}

func NewInventory(s store.Store, e notify.Emitter, log *slog.Logger) *Inventory {
	return &Inventory{store: s, notify: e, log: log, now: time.Now}
}

// WithClock replaces the time source. Tests use it.
func (inv *Inventory) WithClock(now func() time.Time) *Inventory {
	inv.now = now
	return inv
}

func (spec *RideSpec) validate() error {
	if strings.TrimSpace(spec.DriverID) == "" {
		return apperrors.Invalid("driverId", "is required")
	}
	if strings.TrimSpace(spec.From) == "" {
		return apperrors.Invalid("from", "is required")
	}
	if strings.TrimSpace(spec.To) == "" {
		return apperrors.Invalid("to", "is required")
	}
	if spec.TotalSeats < models.MinSeats || spec.TotalSeats > models.MaxSeats {
		return apperrors.Invalid("totalSeats", "must be between %d and %d, got %d",
			models.MinSeats, models.MaxSeats, spec.TotalSeats)
	}
	if spec.Price < 0 || math.IsNaN(spec.Price) || math.IsInf(spec.Price, 0) {
		return apperrors.Invalid("price", "must be zero or more, got %v", spec.Price)
	}
	if spec.Date != "" {
		if _, err := time.Parse(models.DateLayout, spec.Date); err != nil {
			return apperrors.Invalid("date", "must look like 2006-01-31, got %q", spec.Date)
		}
	}
	if spec.Time != "" {
		if _, err := time.Parse(models.TimeLayout, spec.Time); err != nil {
			return apperrors.Invalid("time", "must look like 15:04, got %q", spec.Time)
		}
	}
	return nil
}

// CreateRide publishes a new active ride with every seat available and
// returns its id.
func (inv *Inventory) CreateRide(ctx context.Context, spec RideSpec) (string, error) {
	if err := spec.validate(); err != nil {
		return "", err
	}
	ride := &models.Ride{
		DriverID:       spec.DriverID,
		DriverName:     strings.TrimSpace(spec.DriverName),
		DriverPhone:    spec.DriverPhone,
		DriverRating:   spec.DriverRating,
		From:           strings.TrimSpace(spec.From),
		To:             strings.TrimSpace(spec.To),
		Date:           spec.Date,
		Time:           spec.Time,
		TotalSeats:     spec.TotalSeats,
		AvailableSeats: spec.TotalSeats,
		Price:          spec.Price,
		Status:         models.RideStatusActive,
		CreatedAt:      inv.now().UTC(),
	}
	if err := inv.store.CreateRide(ctx, ride); err != nil {
		return "", fmt.Errorf("create ride: %w", err)
	}
	metrics.RidesCreated.Inc()
	inv.log.Info("ride created", "ride_id", ride.ID, "driver_id", ride.DriverID, "seats", ride.TotalSeats)
	return ride.ID, nil
}

func rideErr(err error, rideID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &apperrors.RideNotFoundError{RideID: rideID}
	}
	return err
}

func (inv *Inventory) GetRide(ctx context.Context, rideID string) (*models.Ride, error) {
	ride, err := inv.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, rideErr(err, rideID)
	}
	return ride, nil
}

// ListAvailableRides returns active rides with at least one free seat,
// newest first.
func (inv *Inventory) ListAvailableRides(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	rides, err := inv.store.ListRides(ctx, store.RideQuery{
		Status:       models.RideStatusActive,
		Date:         f.Date,
		MinAvailable: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	from := strings.ToLower(strings.TrimSpace(f.From))
	to := strings.ToLower(strings.TrimSpace(f.To))
	out := rides[:0]
	for _, r := range rides {
		if from != "" && !strings.Contains(strings.ToLower(r.From), from) {
			continue
		}
		if to != "" && !strings.Contains(strings.ToLower(r.To), to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ListDriverRides returns every ride the driver offered, in any status.
func (inv *Inventory) ListDriverRides(ctx context.Context, driverID string) ([]models.Ride, error) {
	return inv.store.ListRides(ctx, store.RideQuery{DriverID: driverID})
}

// ReserveIn takes count seats inside tx. It is the only way seats are
// taken; callers that need more work in the same transaction use it
// instead of ReserveSeats.
func (inv *Inventory) ReserveIn(ctx context.Context, tx store.Tx, rideID string, count int) (*models.Ride, error) {
	if count < 1 {
		return nil, apperrors.Invalid("seats", "must be at least 1, got %d", count)
	}
	ride, err := tx.ReserveSeats(ctx, rideID, count)
	if err != nil {
		var seats *apperrors.InsufficientSeatsError
		if errors.As(err, &seats) {
			metrics.SeatConflicts.Inc()
		}
		return nil, rideErr(err, rideID)
	}
	return ride, nil
}

// ReleaseIn returns count seats inside tx, never beyond the ride's total.
// Hitting the cap means some caller released seats it never held, so it
// is logged as a warning.
func (inv *Inventory) ReleaseIn(ctx context.Context, tx store.Tx, rideID string, count int) (*models.Ride, error) {
	if count < 1 {
		return nil, apperrors.Invalid("seats", "must be at least 1, got %d", count)
	}
	ride, clamped, err := tx.ReleaseSeats(ctx, rideID, count)
	if err != nil {
		return nil, rideErr(err, rideID)
	}
	if clamped {
		metrics.SeatClamps.Inc()
		inv.log.Warn("seat release clamped at total seats",
			"ride_id", rideID, "released", count, "total_seats", ride.TotalSeats)
	}
	return ride, nil
}

func (inv *Inventory) ReserveSeats(ctx context.Context, rideID string, count int) (*models.Ride, error) {
	var ride *models.Ride
	err := inv.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ride, err = inv.ReserveIn(ctx, tx, rideID, count)
		return err
	})
	return ride, err
}

func (inv *Inventory) ReleaseSeats(ctx context.Context, rideID string, count int) (*models.Ride, error) {
	var ride *models.Ride
	err := inv.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ride, err = inv.ReleaseIn(ctx, tx, rideID, count)
		return err
	})
	return ride, err
}

// transition moves an owned ride from active to status.
func (inv *Inventory) transition(ctx context.Context, rideID, requesterID string, to models.RideStatus) (*models.Ride, error) {
	var ride *models.Ride
	err := inv.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetRide(ctx, rideID)
		if err != nil {
			return rideErr(err, rideID)
		}
		if r.DriverID != requesterID {
			return &apperrors.NotOwnerError{Resource: "ride", ID: rideID, UserID: requesterID}
		}
		if !r.Status.CanTransitionTo(to) {
			return &apperrors.InvalidStateError{Resource: "ride", ID: rideID, From: string(r.Status), To: string(to)}
		}
		if err := tx.SetRideStatus(ctx, rideID, r.Status, to); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &apperrors.InvalidStateError{Resource: "ride", ID: rideID, From: string(r.Status), To: string(to)}
			}
			return err
		}
		r.Status = to
		ride = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RideTransitions.WithLabelValues(string(to)).Inc()
	inv.log.Info("ride status changed", "ride_id", rideID, "status", to)
	return ride, nil
}

// CancelRide lets the driver call off an active ride. Riders with an open
// request or booking are told.
func (inv *Inventory) CancelRide(ctx context.Context, rideID, requesterID string) error {
	ride, err := inv.transition(ctx, rideID, requesterID, models.RideStatusCancelled)
	if err != nil {
		return err
	}
	inv.notifyRiders(ctx, ride, true, notify.RideCancelled(ride))
	return nil
}

// CompleteRide marks an active ride done and invites its passengers to
// rate it.
func (inv *Inventory) CompleteRide(ctx context.Context, rideID, requesterID string) error {
	ride, err := inv.transition(ctx, rideID, requesterID, models.RideStatusCompleted)
	if err != nil {
		return err
	}
	inv.notifyRiders(ctx, ride, false, notify.RideCompleted(ride))
	return nil
}

// Passengers returns the riders holding seats on the ride: accepted
// requests and confirmed bookings. With pending set, riders whose request
// is still pending are included too.
func (inv *Inventory) Passengers(ctx context.Context, rideID string, pending bool) ([]string, error) {
	reqs, err := inv.store.ListRequests(ctx, store.RequestQuery{RideID: rideID})
	if err != nil {
		return nil, err
	}
	bookings, err := inv.store.ListBookings(ctx, store.BookingQuery{RideID: rideID, Status: models.BookingStatusConfirmed})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var riders []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			riders = append(riders, id)
		}
	}
	for _, r := range reqs {
		if r.Status == models.RequestStatusAccepted || (pending && r.Status == models.RequestStatusPending) {
			add(r.RiderID)
		}
	}
	for _, b := range bookings {
		add(b.RiderID)
	}
	return riders, nil
}

func (inv *Inventory) notifyRiders(ctx context.Context, ride *models.Ride, pending bool, m notify.Message) {
	riders, err := inv.Passengers(ctx, ride.ID, pending)
	if err != nil {
		inv.log.Error("list passengers for notification", "ride_id", ride.ID, "error", err)
		return
	}
	for _, id := range riders {
		notify.Send(ctx, inv.notify, id, m)
	}
}

// DeleteRide removes an owned ride. An active ride that still has accepted
// requests or confirmed bookings cannot be deleted; cancel it first.
func (inv *Inventory) DeleteRide(ctx context.Context, rideID, requesterID string) error {
	err := inv.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetRide(ctx, rideID)
		if err != nil {
			return rideErr(err, rideID)
		}
		if r.DriverID != requesterID {
			return &apperrors.NotOwnerError{Resource: "ride", ID: rideID, UserID: requesterID}
		}
		if r.Status == models.RideStatusActive {
			held, err := tx.HasCommitments(ctx, rideID)
			if err != nil {
				return err
			}
			if held {
				return &apperrors.InvalidStateError{Resource: "ride", ID: rideID, From: "active with passengers", To: "deleted"}
			}
		}
		return rideErr(tx.DeleteRide(ctx, rideID), rideID)
	})
	if err != nil {
		return err
	}
	metrics.RideTransitions.WithLabelValues("deleted").Inc()
	inv.log.Info("ride deleted", "ride_id", rideID, "driver_id", requesterID)
	return nil
}
