package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRideStatusTransitions(t *testing.T) {
	assert.True(t, RideStatusActive.CanTransitionTo(RideStatusCancelled))
	assert.True(t, RideStatusActive.CanTransitionTo(RideStatusCompleted))
	assert.False(t, RideStatusActive.CanTransitionTo(RideStatusActive))
	assert.False(t, RideStatusCancelled.CanTransitionTo(RideStatusActive))
	assert.False(t, RideStatusCompleted.CanTransitionTo(RideStatusCancelled))
	assert.False(t, RideStatus("open").Valid())
}

func TestRequestStatusHolds(t *testing.T) {
	assert.True(t, RequestStatusPending.Holds())
	assert.True(t, RequestStatusAccepted.Holds())
	assert.False(t, RequestStatusDeclined.Holds())
}

func TestRideDeparture(t *testing.T) {
	r := Ride{Date: "2026-10-20", Time: "08:30"}
	d := r.Departure()
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, 8, d.Hour())
	assert.Equal(t, 30, d.Minute())

	r.Time = ""
	assert.Equal(t, 0, r.Departure().Hour())

	r.Date = "tomorrow"
	assert.True(t, r.Departure().IsZero())
}

func TestPreferencesAllowPush(t *testing.T) {
	p := DefaultPreferences("u1")
	assert.True(t, p.AllowsPush(NotificationRideAccepted))

	p.RideStatusAlerts = false
	assert.False(t, p.AllowsPush(NotificationRideAccepted))
	assert.True(t, p.AllowsPush(NotificationRideRequest))

	p.PushEnabled = false
	assert.False(t, p.AllowsPush(NotificationRideRequest))
}

func TestChatKeyIgnoresOrder(t *testing.T) {
	assert.Equal(t, ChatKey("bob", "ann"), ChatKey("ann", "bob"))
	assert.Equal(t, "ann_bob", ChatKey("bob", "ann"))

	c := NewChat("bob", "Bob", "ann", "Ann", "ride-1", time.Now())
	assert.Equal(t, "ann", c.UserA)
	assert.Equal(t, "bob", c.UserB)
	assert.Equal(t, []string{"bob", "ann"}, c.Participants)
	assert.True(t, c.Has("ann"))
	assert.False(t, c.Has("cat"))
	assert.False(t, c.Has(""))
	assert.Equal(t, "ann", c.Other("bob"))
	assert.Equal(t, "bob", c.Other("ann"))
}
