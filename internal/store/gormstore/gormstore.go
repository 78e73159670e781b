// Package gormstore implements store.Store on Postgres through gorm.
//
// Seat counters are changed with single conditional UPDATE statements, so
// the database row lock is what serializes concurrent reservations.
package gormstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chachabrian/unipool-backend/internal/apperrors"
	"github.com/chachabrian/unipool-backend/internal/models"
	"github.com/chachabrian/unipool-backend/internal/store"
)

// DefaultPollInterval is how often WatchNotifications re-reads the inbox
// when no local write has nudged it.
const DefaultPollInterval = 2 * time.Second

type Store struct {
	db           *gorm.DB
	pollInterval time.Duration

	mu     sync.Mutex
	nudges map[string]map[chan struct{}]struct{}
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

// New wraps an already migrated database.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:           db,
		pollInterval: DefaultPollInterval,
		nudges:       make(map[string]map[chan struct{}]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps gorm errors onto the store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrConflict
	}
	return err
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(ctx, &tx{db: gtx})
	})
}

// Rides

func (s *Store) CreateRide(ctx context.Context, ride *models.Ride) error {
	if ride.ID == "" {
		ride.ID = store.NewID()
	}
	if err := s.db.WithContext(ctx).Create(ride).Error; err != nil {
		return fmt.Errorf("gormstore: create ride: %w", translate(err))
	}
	return nil
}

func (s *Store) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var r models.Ride
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *Store) ListRides(ctx context.Context, q store.RideQuery) ([]models.Ride, error) {
	db := s.db.WithContext(ctx).Model(&models.Ride{})
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.DriverID != "" {
		db = db.Where("driver_id = ?", q.DriverID)
	}
	if q.Date != "" {
		db = db.Where("date = ?", q.Date)
	}
	if q.MinAvailable > 0 {
		db = db.Where("available_seats >= ?", q.MinAvailable)
	}
	rides := make([]models.Ride, 0)
	if err := db.Order("created_at DESC, id DESC").Find(&rides).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list rides: %w", err)
	}
	return rides, nil
}

// Requests and bookings

func (s *Store) GetRequest(ctx context.Context, id string) (*models.BookingRequest, error) {
	var r models.BookingRequest
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *Store) ListRequests(ctx context.Context, q store.RequestQuery) ([]models.BookingRequest, error) {
	db := s.db.WithContext(ctx).Model(&models.BookingRequest{})
	if q.RideID != "" {
		db = db.Where("ride_id = ?", q.RideID)
	}
	if q.RiderID != "" {
		db = db.Where("rider_id = ?", q.RiderID)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	reqs := make([]models.BookingRequest, 0)
	if err := db.Order("created_at ASC, id ASC").Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list requests: %w", err)
	}
	return reqs, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (s *Store) ListBookings(ctx context.Context, q store.BookingQuery) ([]models.Booking, error) {
	db := s.db.WithContext(ctx).Model(&models.Booking{})
	if q.RideID != "" {
		db = db.Where("ride_id = ?", q.RideID)
	}
	if q.RiderID != "" {
		db = db.Where("rider_id = ?", q.RiderID)
	}
	if q.DriverID != "" {
		db = db.Where("driver_id = ?", q.DriverID)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	bookings := make([]models.Booking, 0)
	if err := db.Order("booked_at DESC, id DESC").Find(&bookings).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list bookings: %w", err)
	}
	return bookings, nil
}

// Ratings

func (s *Store) CreateRating(ctx context.Context, r *models.Rating) error {
	if r.ID == "" {
		r.ID = store.NewID()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.ErrConflict
		}
		return fmt.Errorf("gormstore: create rating: %w", err)
	}
	return nil
}

func (s *Store) ListRatings(ctx context.Context, q store.RatingQuery) ([]models.Rating, error) {
	db := s.db.WithContext(ctx).Model(&models.Rating{})
	if q.RideID != "" {
		db = db.Where("ride_id = ?", q.RideID)
	}
	if q.RaterID != "" {
		db = db.Where("rater_id = ?", q.RaterID)
	}
	if q.RateeID != "" {
		db = db.Where("ratee_id = ?", q.RateeID)
	}
	ratings := make([]models.Rating, 0)
	if err := db.Order("created_at DESC, id DESC").Find(&ratings).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list ratings: %w", err)
	}
	return ratings, nil
}

// Notifications

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = store.NewID()
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("gormstore: create notification: %w", translate(err))
	}
	s.nudge(n.UserID)
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	if err := s.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &n, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	db := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		db = db.Where("read = ?", false)
	}
	list := make([]models.Notification, 0)
	if err := db.Order("created_at DESC, id DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list notifications: %w", err)
	}
	return list, nil
}

func (s *Store) MarkNotificationsRead(ctx context.Context, userID string, ids ...string) (int, error) {
	db := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false)
	if len(ids) > 0 {
		db = db.Where("id IN ?", ids)
	}
	res := db.Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("gormstore: mark read: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.nudge(userID)
	}
	return int(res.RowsAffected), nil
}

// WatchNotifications polls the user's inbox and calls fn whenever its
// contents change. Writes made through this Store wake the poller early.
func (s *Store) WatchNotifications(ctx context.Context, userID string, fn func([]models.Notification)) (func(), error) {
	list, err := s.ListNotifications(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	fn(list)
	last := fingerprint(list)

	ctx, cancel := context.WithCancel(ctx)
	kick := s.subscribe(userID)

	go func() {
		defer s.unsubscribe(userID, kick)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-kick:
			}
			list, err := s.ListNotifications(ctx, userID, false)
			if err != nil {
				// transient read errors are retried on the next tick
				continue
			}
			if fp := fingerprint(list); fp != last {
				last = fp
				fn(list)
			}
		}
	}()
	return cancel, nil
}

func fingerprint(list []models.Notification) [sha256.Size]byte {
	h := sha256.New()
	for _, n := range list {
		fmt.Fprintf(h, "%s:%t;", n.ID, n.Read)
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (s *Store) subscribe(userID string) chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nudges[userID] == nil {
		s.nudges[userID] = make(map[chan struct{}]struct{})
	}
	s.nudges[userID][ch] = struct{}{}
	return ch
}

func (s *Store) unsubscribe(userID string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nudges[userID], ch)
	if len(s.nudges[userID]) == 0 {
		delete(s.nudges, userID)
	}
}

func (s *Store) nudge(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.nudges[userID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Device tokens and preferences

func (s *Store) SaveDeviceToken(ctx context.Context, t *models.DeviceToken) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "updated_at"}),
	}).Create(t).Error
	if err != nil {
		return fmt.Errorf("gormstore: save device token: %w", err)
	}
	return nil
}

func (s *Store) DeleteDeviceToken(ctx context.Context, userID, token string) error {
	err := s.db.WithContext(ctx).Delete(&models.DeviceToken{}, "token = ? AND user_id = ?", token, userID).Error
	if err != nil {
		return fmt.Errorf("gormstore: delete device token: %w", err)
	}
	return nil
}

func (s *Store) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := s.db.WithContext(ctx).Model(&models.DeviceToken{}).
		Where("user_id = ?", userID).Order("token").Pluck("token", &tokens).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: device tokens: %w", err)
	}
	return tokens, nil
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	var p models.NotificationPreference
	if err := s.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Store) SavePreferences(ctx context.Context, p *models.NotificationPreference) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("gormstore: save preferences: %w", err)
	}
	return nil
}

// Chats

func (s *Store) OpenChat(ctx context.Context, c *models.Chat) (bool, error) {
	if c.ID == "" {
		c.ID = store.NewID()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_key"}},
		DoNothing: true,
	}).Create(c)
	if res.Error != nil {
		return false, fmt.Errorf("gormstore: open chat: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	var existing models.Chat
	if err := s.db.WithContext(ctx).First(&existing, "pair_key = ?", c.PairKey).Error; err != nil {
		return false, fmt.Errorf("gormstore: load chat: %w", translate(err))
	}
	*c = existing
	return false, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var c models.Chat
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *Store) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	chats := make([]models.Chat, 0)
	err := s.db.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", userID, userID).
		Order("last_message_at DESC, id DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list chats: %w", err)
	}
	return chats, nil
}

func (s *Store) AddMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = store.NewID()
	}
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		res := gtx.Model(&models.Chat{}).Where("id = ?", m.ChatID).Updates(map[string]any{
			"last_message":    m.Text,
			"last_message_at": m.CreatedAt,
		})
		if res.Error != nil {
			return fmt.Errorf("gormstore: touch chat: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		if err := gtx.Create(m).Error; err != nil {
			return fmt.Errorf("gormstore: add message: %w", translate(err))
		}
		return nil
	})
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	msgs := make([]models.Message, 0)
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) MarkMessagesRead(ctx context.Context, chatID, readerID string) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND read = ? AND sender_id <> ?", chatID, false, readerID).
		Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("gormstore: mark messages read: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// tx runs inside a gorm transaction. Rows read for a later decision are
// locked FOR UPDATE.
type tx struct {
	db *gorm.DB
}

func (t *tx) forUpdate() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *tx) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var r models.Ride
	if err := t.forUpdate().First(&r, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (t *tx) ReserveSeats(ctx context.Context, rideID string, n int) (*models.Ride, error) {
	res := t.db.Model(&models.Ride{}).
		Where("id = ? AND status = ? AND available_seats >= ?", rideID, models.RideStatusActive, n).
		Update("available_seats", gorm.Expr("available_seats - ?", n))
	if res.Error != nil {
		return nil, fmt.Errorf("gormstore: reserve seats: %w", res.Error)
	}

	ride, err := t.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 1 {
		return ride, nil
	}
	if ride.Status != models.RideStatusActive {
		return nil, &apperrors.RideNotActiveError{RideID: rideID, Status: string(ride.Status)}
	}
	return nil, &apperrors.InsufficientSeatsError{RideID: rideID, Requested: n, Available: ride.AvailableSeats}
}

func (t *tx) ReleaseSeats(ctx context.Context, rideID string, n int) (*models.Ride, bool, error) {
	ride, err := t.GetRide(ctx, rideID)
	if err != nil {
		return nil, false, err
	}
	clamped := ride.AvailableSeats+n > ride.TotalSeats

	err = t.db.Model(&models.Ride{}).Where("id = ?", rideID).
		Update("available_seats", gorm.Expr("LEAST(total_seats, available_seats + ?)", n)).Error
	if err != nil {
		return nil, false, fmt.Errorf("gormstore: release seats: %w", err)
	}
	ride.AvailableSeats = min(ride.TotalSeats, ride.AvailableSeats+n)
	return ride, clamped, nil
}

// conditional runs a guarded UPDATE and distinguishes a missing row from a
// failed guard.
func (t *tx) conditional(res *gorm.DB, model any, id, what string) error {
	if res.Error != nil {
		return fmt.Errorf("gormstore: %s: %w", what, translate(res.Error))
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := t.db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("gormstore: %s: %w", what, err)
	}
	if count == 0 {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (t *tx) SetRideStatus(ctx context.Context, rideID string, from, to models.RideStatus) error {
	res := t.db.Model(&models.Ride{}).
		Where("id = ? AND status = ?", rideID, from).
		Update("status", to)
	return t.conditional(res, &models.Ride{}, rideID, "set ride status")
}

func (t *tx) HasCommitments(ctx context.Context, rideID string) (bool, error) {
	var n int64
	err := t.db.Model(&models.BookingRequest{}).
		Where("ride_id = ? AND status = ?", rideID, models.RequestStatusAccepted).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("gormstore: count accepted requests: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	err = t.db.Model(&models.Booking{}).
		Where("ride_id = ? AND status = ?", rideID, models.BookingStatusConfirmed).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("gormstore: count confirmed bookings: %w", err)
	}
	return n > 0, nil
}

func (t *tx) DeleteRide(ctx context.Context, rideID string) error {
	res := t.db.Delete(&models.Ride{}, "id = ?", rideID)
	if res.Error != nil {
		return fmt.Errorf("gormstore: delete ride: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) GetRequest(ctx context.Context, id string) (*models.BookingRequest, error) {
	var r models.BookingRequest
	if err := t.forUpdate().First(&r, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (t *tx) FindOpenRequest(ctx context.Context, rideID, riderID string) (*models.BookingRequest, error) {
	var r models.BookingRequest
	err := t.forUpdate().
		Where("ride_id = ? AND rider_id = ? AND status IN ?", rideID, riderID,
			[]models.RequestStatus{models.RequestStatusPending, models.RequestStatusAccepted}).
		First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (t *tx) CreateRequest(ctx context.Context, req *models.BookingRequest) error {
	if req.ID == "" {
		req.ID = store.NewID()
	}
	if err := t.db.Create(req).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.ErrConflict
		}
		return fmt.Errorf("gormstore: create request: %w", err)
	}
	return nil
}

func (t *tx) DecideRequest(ctx context.Context, id string, to models.RequestStatus, at time.Time) error {
	res := t.db.Model(&models.BookingRequest{}).
		Where("id = ? AND status = ?", id, models.RequestStatusPending).
		Updates(map[string]any{"status": to, "decided_at": at})
	return t.conditional(res, &models.BookingRequest{}, id, "decide request")
}

func (t *tx) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := t.forUpdate().First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (t *tx) FindOpenBooking(ctx context.Context, rideID, riderID string) (*models.Booking, error) {
	var b models.Booking
	err := t.forUpdate().
		Where("ride_id = ? AND rider_id = ? AND status <> ?", rideID, riderID, models.BookingStatusCancelled).
		First(&b).Error
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (t *tx) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.ID == "" {
		b.ID = store.NewID()
	}
	if err := t.db.Create(b).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.ErrConflict
		}
		return fmt.Errorf("gormstore: create booking: %w", err)
	}
	return nil
}

func (t *tx) SetBookingStatus(ctx context.Context, id string, from, to models.BookingStatus) error {
	res := t.db.Model(&models.Booking{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return t.conditional(res, &models.Booking{}, id, "set booking status")
}
