// Package ratings lets the people who shared a completed ride score each
// other.
package ratings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/metrics"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/notify"
	"github.com/chachabrian/unipool-backend/internal/rides"
	"github.com/chachabrian/unipool-backend/internal/store"
)

const maxCommentLen = 500

type RatingInput struct {
	RideID    string
	RaterID   string
	RaterName string
	RateeID   string
	Score     int
	Comment   string
}

// Summary is a user's rating average and how many ratings it covers.
type Summary struct {
	UserID  string  `json:"userId"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type Service struct {
	store     store.Store
	inventory *rides.Inventory
	notify    notify.Emitter
	log       *slog.Logger
	now       func() time.Time
}

func NewService(s store.Store, inv *rides.Inventory, e notify.Emitter, log *slog.Logger) *Service {
	return &Service{store: s, inventory: inv, notify: e, log: log, now: time.Now}
}

func (in *RatingInput) validate() error {
	if strings.TrimSpace(in.RaterID) == "" {
		return apperrors.Invalid("raterId", "is required")
	}
	if strings.TrimSpace(in.RateeID) == "" {
		return apperrors.Invalid("rateeId", "is required")
	}
	if in.RaterID == in.RateeID {
		return apperrors.Invalid("rateeId", "you cannot rate yourself")
	}
	if in.Score < models.MinScore || in.Score > models.MaxScore {
		return apperrors.Invalid("score", "must be between %d and %d, got %d", models.MinScore, models.MaxScore, in.Score)
	}
	if utf8.RuneCountInString(in.Comment) > maxCommentLen {
		return apperrors.Invalid("comment", "must be at most %d characters", maxCommentLen)
	}
	return nil
}

// Rate records one participant's score for another on a completed ride.
// Each rater may rate each other participant once per ride.
func (s *Service) Rate(ctx context.Context, in RatingInput) (*models.Rating, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	ride, err := s.inventory.GetRide(ctx, in.RideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusCompleted {
		return nil, &apperrors.InvalidStateError{Resource: "ride", ID: ride.ID, From: string(ride.Status), To: "rated"}
	}

	passengers, err := s.inventory.Passengers(ctx, ride.ID, false)
	if err != nil {
		return nil, fmt.Errorf("load passengers: %w", err)
	}
	onRide := map[string]bool{ride.DriverID: true}
	for _, id := range passengers {
		onRide[id] = true
	}
	if !onRide[in.RaterID] {
		return nil, &apperrors.NotOwnerError{Resource: "ride", ID: ride.ID, UserID: in.RaterID}
	}
	if !onRide[in.RateeID] {
		return nil, apperrors.Invalid("rateeId", "%s was not on this ride", in.RateeID)
	}

	r := &models.Rating{
		RideID:    ride.ID,
		RaterID:   in.RaterID,
		RateeID:   in.RateeID,
		RaterName: strings.TrimSpace(in.RaterName),
		Score:     in.Score,
		Comment:   strings.TrimSpace(in.Comment),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateRating(ctx, r); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, &apperrors.DuplicateRatingError{RideID: ride.ID, RaterID: in.RaterID, RateeID: in.RateeID}
		}
		return nil, fmt.Errorf("create rating: %w", err)
	}

	metrics.RatingsSubmitted.Inc()
	s.log.Info("rating submitted", "rating_id", r.ID, "ride_id", r.RideID, "ratee_id", r.RateeID, "score", r.Score)
	notify.Send(ctx, s.notify, r.RateeID, notify.NewRating(r))
	return r, nil
}

// ListRatings returns the ratings a user received, newest first.
func (s *Service) ListRatings(ctx context.Context, userID string) ([]models.Rating, error) {
	return s.store.ListRatings(ctx, store.RatingQuery{RateeID: userID})
}

// Average summarizes the ratings a user received, rounded to one decimal.
// A user with no ratings averages zero.
func (s *Service) Average(ctx context.Context, userID string) (Summary, error) {
	list, err := s.ListRatings(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{UserID: userID, Count: len(list)}
	if len(list) == 0 {
		return sum, nil
	}
	total := 0
	for _, r := range list {
		total += r.Score
	}
	sum.Average = math.Round(float64(total)/float64(len(list))*10) / 10
	return sum, nil
}
