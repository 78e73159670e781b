// Package apperrors holds the typed errors the ride and booking services
// return. Each carries enough detail for a client to render a specific
// message, and HTTPStatus maps them onto response codes.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type RideNotFoundError struct {
	RideID string
}

func (e *RideNotFoundError) Error() string {
	return fmt.Sprintf("ride %s not found", e.RideID)
}

type RideNotActiveError struct {
	RideID string
	Status string
}

func (e *RideNotActiveError) Error() string {
	return fmt.Sprintf("ride %s is no longer active (%s)", e.RideID, e.Status)
}

// InsufficientSeatsError reports that a ride cannot cover the requested
// seats. Available is the count observed when the check failed.
type InsufficientSeatsError struct {
	RideID    string
	Requested int
	Available int
}

func (e *InsufficientSeatsError) Error() string {
	switch e.Available {
	case 0:
		return fmt.Sprintf("no seats left on ride %s", e.RideID)
	case 1:
		return fmt.Sprintf("only 1 seat left on ride %s, %d requested", e.RideID, e.Requested)
	default:
		return fmt.Sprintf("only %d seats left on ride %s, %d requested", e.Available, e.RideID, e.Requested)
	}
}

type DuplicateRequestError struct {
	RideID  string
	RiderID string
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("rider %s already has an open request or booking on ride %s", e.RiderID, e.RideID)
}

type DuplicateRatingError struct {
	RideID  string
	RaterID string
	RateeID string
}

func (e *DuplicateRatingError) Error() string {
	return fmt.Sprintf("%s already rated %s for ride %s", e.RaterID, e.RateeID, e.RideID)
}

// NotOwnerError reports that the acting user may not touch a resource.
type NotOwnerError struct {
	Resource string
	ID       string
	UserID   string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("user %s is not allowed to modify %s %s", e.UserID, e.Resource, e.ID)
}

// InvalidStateError reports an illegal status transition.
type InvalidStateError struct {
	Resource string
	ID       string
	From     string
	To       string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Resource, e.ID, e.From, e.To)
}

// NotFoundError covers entities other than rides.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// HTTPStatus maps an error onto the response code the API returns for it.
func HTTPStatus(err error) int {
	var (
		validation   *ValidationError
		rideNotFound *RideNotFoundError
		notFound     *NotFoundError
		notActive    *RideNotActiveError
		seats        *InsufficientSeatsError
		dupRequest   *DuplicateRequestError
		dupRating    *DuplicateRatingError
		notOwner     *NotOwnerError
		state        *InvalidStateError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &rideNotFound), errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &notOwner):
		return http.StatusForbidden
	case errors.As(err, &notActive), errors.As(err, &seats),
		errors.As(err, &dupRequest), errors.As(err, &dupRating),
		errors.As(err, &state):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Kind returns a stable machine-readable tag for err, or "internal".
func Kind(err error) string {
	var (
		validation   *ValidationError
		rideNotFound *RideNotFoundError
		notFound     *NotFoundError
		notActive    *RideNotActiveError
		seats        *InsufficientSeatsError
		dupRequest   *DuplicateRequestError
		dupRating    *DuplicateRatingError
		notOwner     *NotOwnerError
		state        *InvalidStateError
	)
	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &rideNotFound):
		return "ride_not_found"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &notActive):
		return "ride_not_active"
	case errors.As(err, &seats):
		return "insufficient_seats"
	case errors.As(err, &dupRequest):
		return "duplicate_request"
	case errors.As(err, &dupRating):
		return "duplicate_rating"
	case errors.As(err, &notOwner):
		return "not_owner"
	case errors.As(err, &state):
		return "invalid_state"
	}
	return "internal"
}
