// Package memory is an in-process store.Store. Transactions hold a single
// store-wide lock and stage their writes, so concurrent RunInTx calls are
// serialized and a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/store"
)

type Store struct {
	mu sync.Mutex

	rides         map[string]models.Ride
	requests      map[string]models.BookingRequest
	bookings      map[string]models.Booking
	ratings       map[string]models.Rating
	notifications map[string]models.Notification
	tokens        map[string]models.DeviceToken
	prefs         map[string]models.NotificationPreference
	chats         map[string]models.Chat
	messages      map[string]models.Message

	// seq breaks CreatedAt ties so listings are deterministic.
	seq     map[string]uint64
	nextSeq uint64

	watchers  map[string]map[uint64]func([]models.Notification)
	nextWatch uint64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		rides:         make(map[string]models.Ride),
		requests:      make(map[string]models.BookingRequest),
		bookings:      make(map[string]models.Booking),
		ratings:       make(map[string]models.Rating),
		notifications: make(map[string]models.Notification),
		tokens:        make(map[string]models.DeviceToken),
		prefs:         make(map[string]models.NotificationPreference),
		chats:         make(map[string]models.Chat),
		messages:      make(map[string]models.Message),
		seq:           make(map[string]uint64),
		watchers:      make(map[string]map[uint64]func([]models.Notification)),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) stamp(id string) {
	s.nextSeq++
	s.seq[id] = s.nextSeq
}

// before orders a before b by time, then by insertion.
func (s *Store) before(ta, tb time.Time, a, b string) bool {
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return s.seq[a] < s.seq[b]
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Rides

func (s *Store) CreateRide(ctx context.Context, ride *models.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ride.ID == "" {
		ride.ID = store.NewID()
	}
	if _, ok := s.rides[ride.ID]; ok {
		return store.ErrConflict
	}
	s.rides[ride.ID] = *ride
	s.stamp(ride.ID)
	return nil
}

func (s *Store) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListRides(ctx context.Context, q store.RideQuery) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Ride, 0)
	for _, r := range s.rides {
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		if q.DriverID != "" && r.DriverID != q.DriverID {
			continue
		}
		if q.Date != "" && r.Date != q.Date {
			continue
		}
		if q.MinAvailable > 0 && r.AvailableSeats < q.MinAvailable {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.before(out[j].CreatedAt, out[i].CreatedAt, out[j].ID, out[i].ID)
	})
	return out, nil
}

// Requests

func (s *Store) GetRequest(ctx context.Context, id string) (*models.BookingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListRequests(ctx context.Context, q store.RequestQuery) ([]models.BookingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BookingRequest, 0)
	for _, r := range s.requests {
		if q.RideID != "" && r.RideID != q.RideID {
			continue
		}
		if q.RiderID != "" && r.RiderID != q.RiderID {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.before(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

// Bookings

func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) ListBookings(ctx context.Context, q store.BookingQuery) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Booking, 0)
	for _, b := range s.bookings {
		if q.RideID != "" && b.RideID != q.RideID {
			continue
		}
		if q.RiderID != "" && b.RiderID != q.RiderID {
			continue
		}
		if q.DriverID != "" && b.DriverID != q.DriverID {
			continue
		}
		if q.Status != "" && b.Status != q.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.before(out[j].BookedAt, out[i].BookedAt, out[j].ID, out[i].ID)
	})
	return out, nil
}

// Ratings

func (s *Store) CreateRating(ctx context.Context, r *models.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ratings {
		if existing.RideID == r.RideID && existing.RaterID == r.RaterID && existing.RateeID == r.RateeID {
			return store.ErrConflict
		}
	}
	if r.ID == "" {
		r.ID = store.NewID()
	}
	s.ratings[r.ID] = *r
	s.stamp(r.ID)
	return nil
}

func (s *Store) ListRatings(ctx context.Context, q store.RatingQuery) ([]models.Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Rating, 0)
	for _, r := range s.ratings {
		if q.RideID != "" && r.RideID != q.RideID {
			continue
		}
		if q.RaterID != "" && r.RaterID != q.RaterID {
			continue
		}
		if q.RateeID != "" && r.RateeID != q.RateeID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.before(out[j].CreatedAt, out[i].CreatedAt, out[j].ID, out[i].ID)
	})
	return out, nil
}

// Notifications

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	if n.ID == "" {
		n.ID = store.NewID()
	}
	s.notifications[n.ID] = *n
	s.stamp(n.ID)
	s.mu.Unlock()

	s.fire(n.UserID)
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listNotificationsLocked(userID, unreadOnly), nil
}

func (s *Store) listNotificationsLocked(userID string, unreadOnly bool) []models.Notification {
	out := make([]models.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.before(out[j].CreatedAt, out[i].CreatedAt, out[j].ID, out[i].ID)
	})
	return out
}

func (s *Store) MarkNotificationsRead(ctx context.Context, userID string, ids ...string) (int, error) {
	s.mu.Lock()
	changed := 0
	mark := func(id string) {
		n, ok := s.notifications[id]
		if !ok || n.UserID != userID || n.Read {
			return
		}
		n.Read = true
		s.notifications[id] = n
		changed++
	}
	if len(ids) == 0 {
		for id := range s.notifications {
			mark(id)
		}
	} else {
		for _, id := range ids {
			mark(id)
		}
	}
	s.mu.Unlock()

	if changed > 0 {
		s.fire(userID)
	}
	return changed, nil
}

func (s *Store) WatchNotifications(ctx context.Context, userID string, fn func([]models.Notification)) (func(), error) {
	s.mu.Lock()
	s.nextWatch++
	id := s.nextWatch
	if s.watchers[userID] == nil {
		s.watchers[userID] = make(map[uint64]func([]models.Notification))
	}
	s.watchers[userID][id] = fn
	initial := s.listNotificationsLocked(userID, false)
	s.mu.Unlock()

	fn(initial)

	var once sync.Once
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[userID], id)
			if len(s.watchers[userID]) == 0 {
				delete(s.watchers, userID)
			}
			s.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, nil
}

// fire delivers a fresh snapshot to every watcher of userID. It must be
// called without s.mu held.
func (s *Store) fire(userID string) {
	s.mu.Lock()
	fns := make([]func([]models.Notification), 0, len(s.watchers[userID]))
	for _, fn := range s.watchers[userID] {
		fns = append(fns, fn)
	}
	var snapshot []models.Notification
	if len(fns) > 0 {
		snapshot = s.listNotificationsLocked(userID, false)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// Device tokens and preferences

func (s *Store) SaveDeviceToken(ctx context.Context, t *models.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Token] = *t
	return nil
}

func (s *Store) DeleteDeviceToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok && t.UserID == userID {
		delete(s.tokens, token)
	}
	return nil
}

func (s *Store) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, t := range s.tokens {
		if t.UserID == userID {
			out = append(out, t.Token)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) SavePreferences(ctx context.Context, p *models.NotificationPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = *p
	return nil
}

// Chats

func (s *Store) OpenChat(ctx context.Context, c *models.Chat) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.chats {
		if existing.PairKey == c.PairKey {
			*c = existing
			return false, nil
		}
	}
	if c.ID == "" {
		c.ID = store.NewID()
	}
	s.chats[c.ID] = *c
	s.stamp(c.ID)
	return true, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Chat, 0)
	for _, c := range s.chats {
		if c.Has(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.before(out[j].LastMessageAt, out[i].LastMessageAt, out[j].ID, out[i].ID)
	})
	return out, nil
}

func (s *Store) AddMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[m.ChatID]
	if !ok {
		return store.ErrNotFound
	}
	if m.ID == "" {
		m.ID = store.NewID()
	}
	s.messages[m.ID] = *m
	s.stamp(m.ID)
	c.LastMessage = m.Text
	c.LastMessageAt = m.CreatedAt
	s.chats[c.ID] = c
	// the chat moves to the top of ListChats even on a timestamp tie
	s.stamp(c.ID)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, 0)
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.before(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (s *Store) MarkMessagesRead(ctx context.Context, chatID, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for id, m := range s.messages {
		if m.ChatID != chatID || m.Read || m.SenderID == readerID {
			continue
		}
		m.Read = true
		s.messages[id] = m
		changed++
	}
	return changed, nil
}

// tx stages writes on top of the store's maps. The store lock is held by
// RunInTx for the tx's whole life.
type tx struct {
	s *Store

	rides        map[string]models.Ride
	deletedRides map[string]bool
	requests     map[string]models.BookingRequest
	bookings     map[string]models.Booking
	created      []string
}

func newTx(s *Store) *tx {
	return &tx{
		s:            s,
		rides:        make(map[string]models.Ride),
		deletedRides: make(map[string]bool),
		requests:     make(map[string]models.BookingRequest),
		bookings:     make(map[string]models.Booking),
	}
}

func (t *tx) commit() {
	for id, r := range t.rides {
		t.s.rides[id] = r
	}
	for id := range t.deletedRides {
		delete(t.s.rides, id)
	}
	for id, r := range t.requests {
		t.s.requests[id] = r
	}
	for id, b := range t.bookings {
		t.s.bookings[id] = b
	}
	for _, id := range t.created {
		t.s.stamp(id)
	}
}

func (t *tx) ride(id string) (models.Ride, bool) {
	if t.deletedRides[id] {
		return models.Ride{}, false
	}
	if r, ok := t.rides[id]; ok {
		return r, true
	}
	r, ok := t.s.rides[id]
	return r, ok
}

func (t *tx) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	r, ok := t.ride(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (t *tx) ReserveSeats(ctx context.Context, rideID string, n int) (*models.Ride, error) {
	r, ok := t.ride(rideID)
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != models.RideStatusActive {
		return nil, &apperrors.RideNotActiveError{RideID: rideID, Status: string(r.Status)}
	}
	if r.AvailableSeats < n {
		return nil, &apperrors.InsufficientSeatsError{RideID: rideID, Requested: n, Available: r.AvailableSeats}
	}
	r.AvailableSeats -= n
	t.rides[rideID] = r
	return &r, nil
}

func (t *tx) ReleaseSeats(ctx context.Context, rideID string, n int) (*models.Ride, bool, error) {
	r, ok := t.ride(rideID)
	if !ok {
		return nil, false, store.ErrNotFound
	}
	clamped := false
	r.AvailableSeats += n
	if r.AvailableSeats > r.TotalSeats {
		r.AvailableSeats = r.TotalSeats
		clamped = true
	}
	t.rides[rideID] = r
	return &r, clamped, nil
}

func (t *tx) SetRideStatus(ctx context.Context, rideID string, from, to models.RideStatus) error {
	r, ok := t.ride(rideID)
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != from {
		return store.ErrConflict
	}
	r.Status = to
	t.rides[rideID] = r
	return nil
}

func (t *tx) HasCommitments(ctx context.Context, rideID string) (bool, error) {
	for _, r := range t.allRequests() {
		if r.RideID == rideID && r.Status == models.RequestStatusAccepted {
			return true, nil
		}
	}
	for _, b := range t.allBookings() {
		if b.RideID == rideID && b.Status == models.BookingStatusConfirmed {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) DeleteRide(ctx context.Context, rideID string) error {
	if _, ok := t.ride(rideID); !ok {
		return store.ErrNotFound
	}
	delete(t.rides, rideID)
	t.deletedRides[rideID] = true
	return nil
}

func (t *tx) allRequests() map[string]models.BookingRequest {
	out := make(map[string]models.BookingRequest, len(t.s.requests)+len(t.requests))
	for id, r := range t.s.requests {
		out[id] = r
	}
	for id, r := range t.requests {
		out[id] = r
	}
	return out
}

func (t *tx) allBookings() map[string]models.Booking {
	out := make(map[string]models.Booking, len(t.s.bookings)+len(t.bookings))
	for id, b := range t.s.bookings {
		out[id] = b
	}
	for id, b := range t.bookings {
		out[id] = b
	}
	return out
}

func (t *tx) request(id string) (models.BookingRequest, bool) {
	if r, ok := t.requests[id]; ok {
		return r, true
	}
	r, ok := t.s.requests[id]
	return r, ok
}

func (t *tx) GetRequest(ctx context.Context, id string) (*models.BookingRequest, error) {
	r, ok := t.request(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (t *tx) FindOpenRequest(ctx context.Context, rideID, riderID string) (*models.BookingRequest, error) {
	for _, r := range t.allRequests() {
		if r.RideID == rideID && r.RiderID == riderID && r.Status.Holds() {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CreateRequest(ctx context.Context, req *models.BookingRequest) error {
	if req.ID == "" {
		req.ID = store.NewID()
	}
	t.requests[req.ID] = *req
	t.created = append(t.created, req.ID)
	return nil
}

func (t *tx) DecideRequest(ctx context.Context, id string, to models.RequestStatus, at time.Time) error {
	r, ok := t.request(id)
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != models.RequestStatusPending {
		return store.ErrConflict
	}
	r.Status = to
	r.DecidedAt = &at
	t.requests[id] = r
	return nil
}

func (t *tx) booking(id string) (models.Booking, bool) {
	if b, ok := t.bookings[id]; ok {
		return b, true
	}
	b, ok := t.s.bookings[id]
	return b, ok
}

func (t *tx) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, ok := t.booking(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *tx) FindOpenBooking(ctx context.Context, rideID, riderID string) (*models.Booking, error) {
	for _, b := range t.allBookings() {
		if b.RideID == rideID && b.RiderID == riderID && b.Status != models.BookingStatusCancelled {
			return &b, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.ID == "" {
		b.ID = store.NewID()
	}
	t.bookings[b.ID] = *b
	t.created = append(t.created, b.ID)
	return nil
}

func (t *tx) SetBookingStatus(ctx context.Context, id string, from, to models.BookingStatus) error {
	b, ok := t.booking(id)
	if !ok {
		return store.ErrNotFound
	}
	if b.Status != from {
		return store.ErrConflict
	}
	b.Status = to
	t.bookings[id] = b
	return nil
}
