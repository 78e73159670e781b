package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/store"
	"github.com/chachabrian/unipool-backend/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestTxSeesItsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	r := storetest.NewRide("d1", 2)
	require.NoError(t, s.CreateRide(ctx, r))

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.ReserveSeats(ctx, r.ID, 2); err != nil {
			return err
		}
		got, err := tx.GetRide(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.AvailableSeats)

		outside, err := s.peekRide(r.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, outside.AvailableSeats, "staged write leaked before commit")

		req := &models.BookingRequest{RideID: r.ID, RiderID: "r1", Passengers: 2,
			Status: models.RequestStatusAccepted, CreatedAt: time.Now()}
		require.NoError(t, tx.CreateRequest(ctx, req))
		has, err := tx.HasCommitments(ctx, r.ID)
		require.NoError(t, err)
		assert.True(t, has)
		return nil
	})
	require.NoError(t, err)
}

func TestWatchStopsOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.WatchNotifications(ctx, "u1", func([]models.Notification) {})
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.watchers) == 0
	}, time.Second, 10*time.Millisecond)
}

// peekRide reads committed state without taking the lock, for use inside
// RunInTx where the lock is already held.
func (s *Store) peekRide(id string) (*models.Ride, error) {
	r, ok := s.rides[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func TestPanicInTxReleasesLock(t *testing.T) {
	ctx := context.Background()
	s := New()
	r := storetest.NewRide("d1", 3)
	require.NoError(t, s.CreateRide(ctx, r))

	assert.Panics(t, func() {
		_ = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.ReserveSeats(ctx, r.ID, 2); err != nil {
				return err
			}
			panic("handler bug")
		})
	})

	done := make(chan *models.Ride, 1)
	go func() {
		got, err := s.GetRide(ctx, r.ID)
		if err == nil {
			done <- got
		}
		close(done)
	}()
	select {
	case got, ok := <-done:
		require.True(t, ok)
		assert.Equal(t, 3, got.AvailableSeats, "staged reserve was discarded")
	case <-time.After(2 * time.Second):
		t.Fatal("store lock still held after a panicking transaction")
	}
}
