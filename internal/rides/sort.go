package rides

import (
	"sort"

	"github.com/chachabrian/unipool-backend/internal/models"
)

type SortKey string

const (
	SortByPrice     SortKey = "price"
	SortByRating    SortKey = "rating"
	SortByDeparture SortKey = "departure"
)

func (k SortKey) Valid() bool {
	switch k {
	case SortByPrice, SortByRating, SortByDeparture:
		return true
	}
	return false
}

// SortRides orders rides for display: cheapest first, best rated first, or
// soonest departure first. Rides without a rating or a parseable departure
// go last. Ties keep their incoming order. Unknown keys leave the order
// unchanged.
func SortRides(rides []models.Ride, by SortKey) {
	switch by {
	case SortByPrice:
		sort.SliceStable(rides, func(i, j int) bool { return rides[i].Price < rides[j].Price })
	case SortByRating:
		sort.SliceStable(rides, func(i, j int) bool {
			a, b := rides[i].DriverRating, rides[j].DriverRating
			if a == nil || b == nil {
				return a != nil && b == nil
			}
			return *a > *b
		})
	case SortByDeparture:
		sort.SliceStable(rides, func(i, j int) bool {
			a, b := rides[i].Departure(), rides[j].Departure()
			if a.IsZero() || b.IsZero() {
				return !a.IsZero() && b.IsZero()
			}
			return a.Before(b)
		})
	}
}
