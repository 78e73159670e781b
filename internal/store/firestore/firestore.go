// Package firestore implements store.Store on Cloud Firestore.
//
// Firestore transactions require every read to happen before the first
// write. tx keeps the documents it has read (and its own pending writes)
// in a cache so that a service can read everything up front and the write
// methods never go back to the server.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/store"
)

const (
	colRides         = "rides"
	colRequests      = "bookingRequests"
	colBookings      = "bookings"
	colRatings       = "ratings"
	colNotifications = "notifications"
	colDeviceTokens  = "deviceTokens"
	colPreferences   = "notificationPreferences"
	colChats         = "chats"
	colMessages      = "messages"
)

// maxTxAttempts covers bursts of concurrent accepts on one ride, which
// Firestore resolves by aborting and retrying the losers.
const maxTxAttempts = 25

type Store struct {
	client *firestore.Client
}

var _ store.Store = (*Store)(nil)

func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func translate(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return store.ErrNotFound
	case codes.AlreadyExists:
		return store.ErrConflict
	}
	return err
}

// decode loads snap into a T and sets its ID through setID.
func decode[T any](snap *firestore.DocumentSnapshot, setID func(*T, string)) (*T, error) {
	var v T
	if err := snap.DataTo(&v); err != nil {
		return nil, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	setID(&v, snap.Ref.ID)
	return &v, nil
}

func rideID(r *models.Ride, id string) { r.ID = id }
func requestID(r *models.BookingRequest, id string) { r.ID = id }
func bookingID(b *models.Booking, id string) { b.ID = id }
func ratingID(r *models.Rating, id string) { r.ID = id }
func notificationID(n *models.Notification, id string) { n.ID = id }
func preferencesID(p *models.NotificationPreference, id string) { p.UserID = id }
func chatID(c *models.Chat, id string) { c.ID = id }
func messageID(m *models.Message, id string) { m.ID = id }

func getAll[T any](ctx context.Context, it *firestore.DocumentIterator, setID func(*T, string)) ([]T, error) {
	defer it.Stop()
	out := make([]T, 0)
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		v, err := decode(snap, setID)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var appErr error
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		// RunTransaction may retry fn on contention; start from a clean cache
		appErr = nil
		t := &tx{
			s:        s,
			ftx:      ftx,
			rides:    make(map[string]*models.Ride),
			requests: make(map[string]*models.BookingRequest),
			bookings: make(map[string]*models.Booking),
		}
		if err := fn(ctx, t); err != nil {
			appErr = err
			return err
		}
		return nil
	}, firestore.MaxAttempts(maxTxAttempts))
	if appErr != nil {
		return appErr
	}
	return translate(err)
}

// Rides

func (s *Store) CreateRide(ctx context.Context, ride *models.Ride) error {
	ref := s.client.Collection(colRides).NewDoc()
	if ride.ID != "" {
		ref = s.client.Collection(colRides).Doc(ride.ID)
	}
	if _, err := ref.Create(ctx, ride); err != nil {
		return fmt.Errorf("firestore: create ride: %w", translate(err))
	}
	ride.ID = ref.ID
	return nil
}

func (s *Store) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	snap, err := s.client.Collection(colRides).Doc(id).Get(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return decode(snap, rideID)
}

// ListRides pushes equality filters to Firestore and applies the seat
// threshold and ordering locally, which avoids a composite index per
// filter combination.
func (s *Store) ListRides(ctx context.Context, q store.RideQuery) ([]models.Ride, error) {
	query := s.client.Collection(colRides).Query
	if q.Status != "" {
		query = query.Where("status", "==", string(q.Status))
	}
	if q.DriverID != "" {
		query = query.Where("driverId", "==", q.DriverID)
	}
	if q.Date != "" {
		query = query.Where("date", "==", q.Date)
	}
	rides, err := getAll(ctx, query.Documents(ctx), rideID)
	if err != nil {
		return nil, fmt.Errorf("firestore: list rides: %w", err)
	}
	out := rides[:0]
	for _, r := range rides {
		if q.MinAvailable > 0 && r.AvailableSeats < q.MinAvailable {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func newer(a, b time.Time, aID, bID string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID > bID
}

// Requests and bookings

func (s *Store) GetRequest(ctx context.Context, id string) (*models.BookingRequest, error) {
	snap, err := s.client.Collection(colRequests).Doc(id).Get(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return decode(snap, requestID)
}

func (s *Store) ListRequests(ctx context.Context, q store.RequestQuery) ([]models.BookingRequest, error) {
	query := s.client.Collection(colRequests).Query
	if q.RideID != "" {
		query = query.Where("rideId", "==", q.RideID)
	}
	if q.RiderID != "" {
		query = query.Where("riderId", "==", q.RiderID)
	}
	if q.Status != "" {
		query = query.Where("status", "==", string(q.Status))
	}
	reqs, err := getAll(ctx, query.Documents(ctx), requestID)
	if err != nil {
		return nil, fmt.Errorf("firestore: list requests: %w", err)
	}
	sort.SliceStable(reqs, func(i, j int) bool { return newer(reqs[j].CreatedAt, reqs[i].CreatedAt, reqs[j].ID, reqs[i].ID) })
	return reqs, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	snap, err := s.client.Collection(colBookings).Doc(id).Get(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return decode(snap, bookingID)
}

func (s *Store) ListBookings(ctx context.Context, q store.BookingQuery) ([]models.Booking, error) {
	query := s.client.Collection(colBookings).Query
	if q.RideID != "" {
		query = query.Where("rideId", "==", q.RideID)
	}
	if q.RiderID != "" {
		query = query.Where("riderId", "==", q.RiderID)
	}
	if q.DriverID != "" {
		query = query.Where("driverId", "==", q.DriverID)
	}
	if q.Status != "" {
		query = query.Where("status", "==", string(q.Status))
	}
	bookings, err := getAll(ctx, query.Documents(ctx), bookingID)
	if err != nil {
		return nil, fmt.Errorf("firestore: list bookings: %w", err)
	}
	sort.SliceStable(bookings, func(i, j int) bool {
		return newer(bookings[i].BookedAt, bookings[j].BookedAt, bookings[i].ID, bookings[j].ID)
	})
	return bookings, nil
}

// Ratings

// ratingDocID makes the uniqueness rule a property of the document key.
func ratingDocID(r *models.Rating) string {
	return strings.Join([]string{r.RideID, r.RaterID, r.RateeID}, "_")
}

func (s *Store) CreateRating(ctx context.Context, r *models.Rating) error {
	ref := s.client.Collection(colRatings).Doc(ratingDocID(r))
	if _, err := ref.Create(ctx, r); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return store.ErrConflict
		}
		return fmt.Errorf("firestore: create rating: %w", err)
	}
	r.ID = ref.ID
	return nil
}

func (s *Store) ListRatings(ctx context.Context, q store.RatingQuery) ([]models.Rating, error) {
	query := s.client.Collection(colRatings).Query
	if q.RideID != "" {
		query = query.Where("rideId", "==", q.RideID)
	}
	if q.RaterID != "" {
		query = query.Where("raterId", "==", q.RaterID)
	}
	if q.RateeID != "" {
		query = query.Where("rateeId", "==", q.RateeID)
	}
	ratings, err := getAll(ctx, query.Documents(ctx), ratingID)
	if err != nil {
		return nil, fmt.Errorf("firestore: list ratings: %w", err)
	}
	sort.SliceStable(ratings, func(i, j int) bool {
		return newer(ratings[i].CreatedAt, ratings[j].CreatedAt, ratings[i].ID, ratings[j].ID)
	})
	return ratings, nil
}

// Notifications

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	ref := s.client.Collection(colNotifications).NewDoc()
	if _, err := ref.Create(ctx, n); err != nil {
		return fmt.Errorf("firestore: create notification: %w", translate(err))
	}
	n.ID = ref.ID
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	snap, err := s.client.Collection(colNotifications).Doc(id).Get(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return decode(snap, notificationID)
}

func (s *Store) inboxQuery(userID string, unreadOnly bool) firestore.Query {
	q := s.client.Collection(colNotifications).Where("userId", "==", userID)
	if unreadOnly {
		q = q.Where("read", "==", false)
	}
	return q
}

func sortInbox(list []models.Notification) {
	sort.SliceStable(list, func(i, j int) bool {
		return newer(list[i].CreatedAt, list[j].CreatedAt, list[i].ID, list[j].ID)
	})
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	list, err := getAll(ctx, s.inboxQuery(userID, unreadOnly).Documents(ctx), notificationID)
	if err != nil {
		return nil, fmt.Errorf("firestore: list notifications: %w", err)
	}
	sortInbox(list)
	return list, nil
}

// MarkNotificationsRead batches the updates. Ids that do not belong to
// userID are skipped.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID string, ids ...string) (int, error) {
	var refs []*firestore.DocumentRef
	if len(ids) == 0 {
		unread, err := getAll(ctx, s.inboxQuery(userID, true).Documents(ctx), notificationID)
		if err != nil {
			return 0, fmt.Errorf("firestore: list unread: %w", err)
		}
		for _, n := range unread {
			refs = append(refs, s.client.Collection(colNotifications).Doc(n.ID))
		}
	} else {
		for _, id := range ids {
			n, err := s.GetNotification(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return 0, err
			}
			if n.UserID != userID || n.Read {
				continue
			}
			refs = append(refs, s.client.Collection(colNotifications).Doc(id))
		}
	}
	return s.setRead(ctx, refs)
}

// setRead flips read on every ref through one BulkWriter and returns how
// many updates landed.
func (s *Store) setRead(ctx context.Context, refs []*firestore.DocumentRef) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Update(ref, []firestore.Update{{Path: "read", Value: true}})
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("firestore: mark read: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	changed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return changed, fmt.Errorf("firestore: mark read: %w", err)
		}
		changed++
	}
	return changed, nil
}

func (s *Store) WatchNotifications(ctx context.Context, userID string, fn func([]models.Notification)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.inboxQuery(userID, false).Snapshots(ctx)

	first, err := it.Next()
	if err != nil {
		it.Stop()
		cancel()
		return nil, fmt.Errorf("firestore: watch notifications: %w", err)
	}
	deliver := func(qs *firestore.QuerySnapshot) error {
		list, err := getAll(ctx, qs.Documents, notificationID)
		if err != nil {
			return err
		}
		sortInbox(list)
		fn(list)
		return nil
	}
	if err := deliver(first); err != nil {
		it.Stop()
		cancel()
		return nil, err
	}

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				// ctx cancelled or the listen stream broke for good
				return
			}
			if err := deliver(qs); err != nil {
				return
			}
		}
	}()
	return cancel, nil
}

// Device tokens and preferences

func (s *Store) SaveDeviceToken(ctx context.Context, t *models.DeviceToken) error {
	if _, err := s.client.Collection(colDeviceTokens).Doc(t.Token).Set(ctx, t); err != nil {
		return fmt.Errorf("firestore: save device token: %w", err)
	}
	return nil
}

func (s *Store) DeleteDeviceToken(ctx context.Context, userID, token string) error {
	ref := s.client.Collection(colDeviceTokens).Doc(token)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		snap, err := ftx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var t models.DeviceToken
		if err := snap.DataTo(&t); err != nil {
			return err
		}
		if t.UserID != userID {
			return nil
		}
		return ftx.Delete(ref)
	})
	if err != nil {
		return fmt.Errorf("firestore: delete device token: %w", err)
	}
	return nil
}

func (s *Store) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	it := s.client.Collection(colDeviceTokens).Where("userId", "==", userID).Documents(ctx)
	defer it.Stop()
	var tokens []string
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: device tokens: %w", err)
		}
		tokens = append(tokens, snap.Ref.ID)
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	snap, err := s.client.Collection(colPreferences).Doc(userID).Get(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return decode(snap, preferencesID)
}

func (s *Store) SavePreferences(ctx context.Context, p *models.NotificationPreference) error {
	if _, err := s.client.Collection(colPreferences).Doc(p.UserID).Set(ctx, p); err != nil {
		return fmt.Errorf("firestore: save preferences: %w", err)
	}
	return nil
}

// Chats

// OpenChat keys the chat document by its pair key, so two users opening
// the same conversation at once end up on one document.
func (s *Store) OpenChat(ctx context.Context, c *models.Chat) (bool, error) {
	ref := s.client.Collection(colChats).Doc(c.PairKey)
	_, err := ref.Create(ctx, c)
	if err == nil {
		c.ID = ref.ID
		return true, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return false, fmt.Errorf("firestore: open chat: %w", err)
	}
	existing, err := s.GetChat(ctx, ref.ID)
	if err != nil {
		return false, err
	}
	*c = *existing
	return false, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	snap, err := s.client.Collection(colChats).Doc(id).Get(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return decode(snap, chatID)
}

func (s *Store) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	q := s.client.Collection(colChats).Where("participants", "array-contains", userID)
	chats, err := getAll(ctx, q.Documents(ctx), chatID)
	if err != nil {
		return nil, fmt.Errorf("firestore: list chats: %w", err)
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return newer(chats[i].LastMessageAt, chats[j].LastMessageAt, chats[i].ID, chats[j].ID)
	})
	return chats, nil
}

func (s *Store) AddMessage(ctx context.Context, m *models.Message) error {
	chatRef := s.client.Collection(colChats).Doc(m.ChatID)
	msgRef := s.client.Collection(colMessages).NewDoc()
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		if _, err := ftx.Get(chatRef); err != nil {
			return err
		}
		if err := ftx.Create(msgRef, m); err != nil {
			return err
		}
		return ftx.Update(chatRef, []firestore.Update{
			{Path: "lastMessage", Value: m.Text},
			{Path: "lastMessageTime", Value: m.CreatedAt},
		})
	})
	if status.Code(err) == codes.NotFound {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("firestore: add message: %w", err)
	}
	m.ID = msgRef.ID
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	q := s.client.Collection(colMessages).Where("chatId", "==", chatID)
	msgs, err := getAll(ctx, q.Documents(ctx), messageID)
	if err != nil {
		return nil, fmt.Errorf("firestore: list messages: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return newer(msgs[j].CreatedAt, msgs[i].CreatedAt, msgs[j].ID, msgs[i].ID)
	})
	return msgs, nil
}

func (s *Store) MarkMessagesRead(ctx context.Context, chatID, readerID string) (int, error) {
	q := s.client.Collection(colMessages).
		Where("chatId", "==", chatID).
		Where("read", "==", false)
	unread, err := getAll(ctx, q.Documents(ctx), messageID)
	if err != nil {
		return 0, fmt.Errorf("firestore: list unread messages: %w", err)
	}
	var refs []*firestore.DocumentRef
	for _, m := range unread {
		if m.SenderID != readerID {
			refs = append(refs, s.client.Collection(colMessages).Doc(m.ID))
		}
	}
	return s.setRead(ctx, refs)
}

// tx caches every document it reads or writes. A nil cache entry records
// a document known not to exist.
type tx struct {
	s   *Store
	ftx *firestore.Transaction

	rides    map[string]*models.Ride
	requests map[string]*models.BookingRequest
	bookings map[string]*models.Booking
}

func (t *tx) ref(col, id string) *firestore.DocumentRef {
	return t.s.client.Collection(col).Doc(id)
}

func (t *tx) ride(id string) (*models.Ride, error) {
	if r, ok := t.rides[id]; ok {
		if r == nil {
			return nil, store.ErrNotFound
		}
		return r, nil
	}
	snap, err := t.ftx.Get(t.ref(colRides, id))
	if status.Code(err) == codes.NotFound {
		t.rides[id] = nil
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: get ride: %w", err)
	}
	r, err := decode(snap, rideID)
	if err != nil {
		return nil, err
	}
	t.rides[id] = r
	return r, nil
}

func (t *tx) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	r, err := t.ride(id)
	if err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

func (t *tx) ReserveSeats(ctx context.Context, rideID string, n int) (*models.Ride, error) {
	r, err := t.ride(rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RideStatusActive {
		return nil, &apperrors.RideNotActiveError{RideID: rideID, Status: string(r.Status)}
	}
	if r.AvailableSeats < n {
		return nil, &apperrors.InsufficientSeatsError{RideID: rideID, Requested: n, Available: r.AvailableSeats}
	}
	// The transaction fails and retries if the ride changed after it was
	// read, so the check above and this decrement are atomic.
	err = t.ftx.Update(t.ref(colRides, rideID), []firestore.Update{
		{Path: "availableSeats", Value: firestore.Increment(-n)},
	})
	if err != nil {
		return nil, fmt.Errorf("firestore: reserve seats: %w", err)
	}
	r.AvailableSeats -= n
	cp := *r
	return &cp, nil
}

func (t *tx) ReleaseSeats(ctx context.Context, rideID string, n int) (*models.Ride, bool, error) {
	r, err := t.ride(rideID)
	if err != nil {
		return nil, false, err
	}
	next := r.AvailableSeats + n
	clamped := next > r.TotalSeats
	if clamped {
		next = r.TotalSeats
	}
	err = t.ftx.Update(t.ref(colRides, rideID), []firestore.Update{
		{Path: "availableSeats", Value: next},
	})
	if err != nil {
		return nil, false, fmt.Errorf("firestore: release seats: %w", err)
	}
	r.AvailableSeats = next
	cp := *r
	return &cp, clamped, nil
}

func (t *tx) SetRideStatus(ctx context.Context, rideID string, from, to models.RideStatus) error {
	r, err := t.ride(rideID)
	if err != nil {
		return err
	}
	if r.Status != from {
		return store.ErrConflict
	}
	if err := t.ftx.Update(t.ref(colRides, rideID), []firestore.Update{{Path: "status", Value: string(to)}}); err != nil {
		return fmt.Errorf("firestore: set ride status: %w", err)
	}
	r.Status = to
	return nil
}

func (t *tx) HasCommitments(ctx context.Context, rideID string) (bool, error) {
	accepted := t.s.client.Collection(colRequests).
		Where("rideId", "==", rideID).
		Where("status", "==", string(models.RequestStatusAccepted)).
		Limit(1)
	snaps, err := t.ftx.Documents(accepted).GetAll()
	if err != nil {
		return false, fmt.Errorf("firestore: accepted requests: %w", err)
	}
	if len(snaps) > 0 {
		return true, nil
	}
	confirmed := t.s.client.Collection(colBookings).
		Where("rideId", "==", rideID).
		Where("status", "==", string(models.BookingStatusConfirmed)).
		Limit(1)
	snaps, err = t.ftx.Documents(confirmed).GetAll()
	if err != nil {
		return false, fmt.Errorf("firestore: confirmed bookings: %w", err)
	}
	return len(snaps) > 0, nil
}

func (t *tx) DeleteRide(ctx context.Context, rideID string) error {
	if _, err := t.ride(rideID); err != nil {
		return err
	}
	if err := t.ftx.Delete(t.ref(colRides, rideID)); err != nil {
		return fmt.Errorf("firestore: delete ride: %w", err)
	}
	t.rides[rideID] = nil
	return nil
}

func (t *tx) request(id string) (*models.BookingRequest, error) {
	if r, ok := t.requests[id]; ok {
		if r == nil {
			return nil, store.ErrNotFound
		}
		return r, nil
	}
	snap, err := t.ftx.Get(t.ref(colRequests, id))
	if status.Code(err) == codes.NotFound {
		t.requests[id] = nil
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: get request: %w", err)
	}
	r, err := decode(snap, requestID)
	if err != nil {
		return nil, err
	}
	t.requests[id] = r
	return r, nil
}

func (t *tx) GetRequest(ctx context.Context, id string) (*models.BookingRequest, error) {
	r, err := t.request(id)
	if err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

func (t *tx) FindOpenRequest(ctx context.Context, rideID, riderID string) (*models.BookingRequest, error) {
	q := t.s.client.Collection(colRequests).
		Where("rideId", "==", rideID).
		Where("riderId", "==", riderID).
		Where("status", "in", []string{string(models.RequestStatusPending), string(models.RequestStatusAccepted)}).
		Limit(1)
	snaps, err := t.ftx.Documents(q).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: find open request: %w", err)
	}
	if len(snaps) == 0 {
		return nil, store.ErrNotFound
	}
	r, err := decode(snaps[0], requestID)
	if err != nil {
		return nil, err
	}
	t.requests[r.ID] = r
	cp := *r
	return &cp, nil
}

func (t *tx) CreateRequest(ctx context.Context, req *models.BookingRequest) error {
	ref := t.s.client.Collection(colRequests).NewDoc()
	if err := t.ftx.Create(ref, req); err != nil {
		return fmt.Errorf("firestore: create request: %w", err)
	}
	req.ID = ref.ID
	cp := *req
	t.requests[ref.ID] = &cp
	return nil
}

func (t *tx) DecideRequest(ctx context.Context, id string, to models.RequestStatus, at time.Time) error {
	r, err := t.request(id)
	if err != nil {
		return err
	}
	if r.Status != models.RequestStatusPending {
		return store.ErrConflict
	}
	err = t.ftx.Update(t.ref(colRequests, id), []firestore.Update{
		{Path: "status", Value: string(to)},
		{Path: "decidedAt", Value: at},
	})
	if err != nil {
		return fmt.Errorf("firestore: decide request: %w", err)
	}
	r.Status = to
	r.DecidedAt = &at
	return nil
}

func (t *tx) booking(id string) (*models.Booking, error) {
	if b, ok := t.bookings[id]; ok {
		if b == nil {
			return nil, store.ErrNotFound
		}
		return b, nil
	}
	snap, err := t.ftx.Get(t.ref(colBookings, id))
	if status.Code(err) == codes.NotFound {
		t.bookings[id] = nil
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: get booking: %w", err)
	}
	b, err := decode(snap, bookingID)
	if err != nil {
		return nil, err
	}
	t.bookings[id] = b
	return b, nil
}

func (t *tx) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := t.booking(id)
	if err != nil {
		return nil, err
	}
	cp := *b
	return &cp, nil
}

func (t *tx) FindOpenBooking(ctx context.Context, rideID, riderID string) (*models.Booking, error) {
	q := t.s.client.Collection(colBookings).
		Where("rideId", "==", rideID).
		Where("riderId", "==", riderID).
		Where("status", "in", []string{string(models.BookingStatusPending), string(models.BookingStatusConfirmed)}).
		Limit(1)
	snaps, err := t.ftx.Documents(q).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: find open booking: %w", err)
	}
	if len(snaps) == 0 {
		return nil, store.ErrNotFound
	}
	b, err := decode(snaps[0], bookingID)
	if err != nil {
		return nil, err
	}
	t.bookings[b.ID] = b
	cp := *b
	return &cp, nil
}

func (t *tx) CreateBooking(ctx context.Context, b *models.Booking) error {
	ref := t.s.client.Collection(colBookings).NewDoc()
	if err := t.ftx.Create(ref, b); err != nil {
		return fmt.Errorf("firestore: create booking: %w", err)
	}
	b.ID = ref.ID
	cp := *b
	t.bookings[ref.ID] = &cp
	return nil
}

func (t *tx) SetBookingStatus(ctx context.Context, id string, from, to models.BookingStatus) error {
	b, err := t.booking(id)
	if err != nil {
		return err
	}
	if b.Status != from {
		return store.ErrConflict
	}
	if err := t.ftx.Update(t.ref(colBookings, id), []firestore.Update{{Path: "status", Value: string(to)}}); err != nil {
		return fmt.Errorf("firestore: set booking status: %w", err)
	}
	b.Status = to
	return nil
}
