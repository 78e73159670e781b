package ratings

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/booking"
	"github.com/chachabrian/unipool-backend/internal/logging"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/notify"
	"github.com/chachabrian/unipool-backend/internal/rides"
	"github.com/chachabrian/unipool-backend/internal/store/memory"
)

// completedRide sets up a finished trip driven by "driver" with "rider-a"
// booked directly and "rider-b" accepted through a request.
func completedRide(t *testing.T) (*Service, *notify.Recorder, string) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	rec := &notify.Recorder{}
	log := logging.Discard()
	inv := rides.NewInventory(s, rec, log)
	wf := booking.NewWorkflow(s, inv, rec, log)

	rideID, err := inv.CreateRide(ctx, rides.RideSpec{DriverID: "driver", DriverName: "Dee", From: "Dorms", To: "Mall", TotalSeats: 3})
	require.NoError(t, err)
	_, err = wf.CreateBooking(ctx, booking.BookingInput{RideID: rideID, RiderID: "rider-a", Seats: 1})
	require.NoError(t, err)
	req, err := wf.SubmitRequest(ctx, rideID, "rider-b", "Bo", 1)
	require.NoError(t, err)
	require.NoError(t, wf.AcceptRequest(ctx, req.ID, rideID))
	require.NoError(t, inv.CompleteRide(ctx, rideID, "driver"))
	rec.Reset()

	return NewService(s, inv, rec, log), rec, rideID
}

func TestRate(t *testing.T) {
	ctx := context.Background()
	svc, rec, rideID := completedRide(t)

	r, err := svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "rider-a", RaterName: "Ari", RateeID: "driver", Score: 5, Comment: " smooth "})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "smooth", r.Comment)

	events := rec.For("driver", models.NotificationRating)
	require.Len(t, events, 1)
	assert.Equal(t, "Ari rated you 5 stars!", events[0].Message)

	_, err = svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "rider-b", RateeID: "driver", Score: 4})
	require.NoError(t, err)
	_, err = svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "driver", RateeID: "rider-a", Score: 3})
	require.NoError(t, err)

	var dup *apperrors.DuplicateRatingError
	_, err = svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "rider-a", RateeID: "driver", Score: 1})
	assert.ErrorAs(t, err, &dup)

	sum, err := svc.Average(ctx, "driver")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Count)
	assert.Equal(t, 4.5, sum.Average)

	list, err := svc.ListRatings(ctx, "rider-a")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRateRejects(t *testing.T) {
	ctx := context.Background()
	svc, _, rideID := completedRide(t)

	var validation *apperrors.ValidationError
	for _, score := range []int{0, 6} {
		_, err := svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "rider-a", RateeID: "driver", Score: score})
		assert.ErrorAs(t, err, &validation, "score %d", score)
	}
	_, err := svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "driver", RateeID: "driver", Score: 5})
	assert.ErrorAs(t, err, &validation)

	_, err = svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "rider-a", RateeID: "stranger", Score: 5})
	assert.ErrorAs(t, err, &validation)

	var notOwner *apperrors.NotOwnerError
	_, err = svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "stranger", RateeID: "driver", Score: 5})
	assert.ErrorAs(t, err, &notOwner)

	var notFound *apperrors.RideNotFoundError
	_, err = svc.Rate(ctx, RatingInput{RideID: "missing", RaterID: "rider-a", RateeID: "driver", Score: 5})
	assert.ErrorAs(t, err, &notFound)
}

func TestRateNeedsCompletedRide(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	log := logging.Discard()
	inv := rides.NewInventory(s, &notify.Recorder{}, log)
	svc := NewService(s, inv, &notify.Recorder{}, log)

	rideID, err := inv.CreateRide(ctx, rides.RideSpec{DriverID: "driver", From: "A", To: "B", TotalSeats: 2})
	require.NoError(t, err)

	var state *apperrors.InvalidStateError
	_, err = svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "rider-a", RateeID: "driver", Score: 5})
	assert.ErrorAs(t, err, &state)
}

func TestAverageWithoutRatings(t *testing.T) {
	svc := NewService(memory.New(), nil, &notify.Recorder{}, logging.Discard())
	sum, err := svc.Average(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, Summary{UserID: "nobody"}, sum)
}

func TestCommentLimitCountsCharacters(t *testing.T) {
	ctx := context.Background()
	svc, _, rideID := completedRide(t)

	accented := strings.Repeat("é", maxCommentLen)
	r, err := svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "rider-a", RateeID: "driver", Score: 4, Comment: accented})
	require.NoError(t, err)
	assert.Equal(t, accented, r.Comment)

	var invalid *apperrors.ValidationError
	_, err = svc.Rate(ctx, RatingInput{RideID: rideID, RaterID: "rider-b", RateeID: "driver", Score: 4, Comment: accented + "é"})
	assert.ErrorAs(t, err, &invalid)
}
