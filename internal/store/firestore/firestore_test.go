package firestore

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/store"
	"github.com/chachabrian/unipool-backend/internal/store/storetest"
)

// The client library talks to the emulator when FIRESTORE_EMULATOR_HOST
// is set. Each subtest gets its own project so collections start empty.
func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		client, err := firestore.NewClient(context.Background(), "unipool-test-"+uuid.NewString()[:8])
		require.NoError(t, err)
		s := New(client)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRatingDocID(t *testing.T) {
	r := &models.Rating{RideID: "ride1", RaterID: "alice", RateeID: "bob"}
	assert.Equal(t, "ride1_alice_bob", ratingDocID(r))
}
