package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chachabrian/mooveit-rides/internal/models"
)

// MemoryStore keeps everything in process memory. Each method runs under one
// mutex, so every operation is atomic exactly like a single conditional
// statement against a database. Used by tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu            sync.Mutex
	now           func() time.Time
	nextID        uint
	rides         map[uint]*models.Ride
	bookings      map[uint]*models.Booking
	notifications map[uint]*models.Notification
	users         map[uint]*models.User
	prefs         map[uint]*models.NotificationPreference
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		rides:         make(map[uint]*models.Ride),
		bookings:      make(map[uint]*models.Booking),
		notifications: make(map[uint]*models.Notification),
		users:         make(map[uint]*models.User),
		prefs:         make(map[uint]*models.NotificationPreference),
	}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) Close(context.Context) error { return nil }

// Rides

func (s *MemoryStore) CreateRide(_ context.Context, ride *models.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ride.ID = s.id()
	ride.CreatedAt = s.now()
	ride.UpdatedAt = ride.CreatedAt
	cp := *ride
	cp.Driver = nil
	s.rides[ride.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRide(_ context.Context, id uint) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ReserveSeats(_ context.Context, rideID uint, count int) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[rideID]
	if !ok || r.Status != models.RideStatusActive || r.AvailableSeats < count {
		return nil, ErrConditionFailed
	}
	r.AvailableSeats -= count
	r.UpdatedAt = s.now()
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ReleaseSeats(_ context.Context, rideID uint, count int) (*models.Ride, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[rideID]
	if !ok {
		return nil, false, ErrNotFound
	}
	clamped := r.AvailableSeats+count > r.TotalSeats
	r.AvailableSeats = min(r.AvailableSeats+count, r.TotalSeats)
	r.UpdatedAt = s.now()
	cp := *r
	return &cp, clamped, nil
}

func (s *MemoryStore) UpdateRideStatus(_ context.Context, rideID uint, from []models.RideStatus, to models.RideStatus) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[rideID]
	if !ok || !containsRideStatus(from, r.Status) {
		return nil, ErrConditionFailed
	}
	r.Status = to
	r.UpdatedAt = s.now()
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) DeleteRide(_ context.Context, rideID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rides[rideID]; !ok {
		return ErrNotFound
	}
	for _, b := range s.bookings {
		if b.RideID == rideID {
			return ErrConditionFailed
		}
	}
	delete(s.rides, rideID)
	return nil
}

func (s *MemoryStore) ListRides(_ context.Context, f RideFilter) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Ride
	for _, r := range s.rides {
		if f.DriverID != 0 && r.DriverID != f.DriverID {
			continue
		}
		if len(f.Statuses) > 0 && !containsRideStatus(f.Statuses, r.Status) {
			continue
		}
		if f.Origin != "" && !containsFold(r.Origin, f.Origin) {
			continue
		}
		if f.Destination != "" && !containsFold(r.Destination, f.Destination) {
			continue
		}
		if f.DepartsAfter != nil && !r.DepartureAt.After(*f.DepartsAfter) {
			continue
		}
		if f.DepartsBefore != nil && r.DepartureAt.After(*f.DepartsBefore) {
			continue
		}
		if f.MinSeats > 0 && r.AvailableSeats < f.MinSeats {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DepartureAt.Equal(out[j].DepartureAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DepartureAt.Before(out[j].DepartureAt)
	})
	return paginate(out, f.Page), nil
}

// Bookings

func (s *MemoryStore) CreateBooking(_ context.Context, booking *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if booking.Status.HoldsSeats() {
		for _, b := range s.bookings {
			if b.RideID == booking.RideID && b.PassengerID == booking.PassengerID && b.Status.HoldsSeats() {
				return ErrDuplicate
			}
		}
	}
	booking.ID = s.id()
	booking.CreatedAt = s.now()
	booking.UpdatedAt = booking.CreatedAt
	cp := *booking
	cp.Ride, cp.Passenger = nil, nil
	s.bookings[booking.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id uint) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.withRide(b), nil
}

func (s *MemoryStore) FindActiveBooking(_ context.Context, rideID, passengerID uint) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.bookings {
		if b.RideID == rideID && b.PassengerID == passengerID && b.Status.HoldsSeats() {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindBookingByPaymentReference(_ context.Context, reference string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reference == "" {
		return nil, ErrNotFound
	}
	for _, b := range s.bookings {
		if b.PaymentReference == reference {
			return s.withRide(b), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) TransitionBooking(_ context.Context, id uint, from []models.BookingStatus, to models.BookingStatus) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || !containsBookingStatus(from, b.Status) {
		return nil, ErrConditionFailed
	}
	if to.HoldsSeats() && !b.Status.HoldsSeats() {
		for _, other := range s.bookings {
			if other.ID != id && other.RideID == b.RideID && other.PassengerID == b.PassengerID && other.Status.HoldsSeats() {
				return nil, ErrDuplicate
			}
		}
	}
	now := s.now()
	b.Status = to
	b.UpdatedAt = now
	if to == models.BookingStatusCancelled {
		b.CancelledAt = &now
	}
	return s.withRide(b), nil
}

func (s *MemoryStore) UpdatePayment(_ context.Context, id uint, cond PaymentCondition, u PaymentUpdate) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrConditionFailed
	}
	if len(cond.BookingStatuses) > 0 && !containsBookingStatus(cond.BookingStatuses, b.Status) {
		return nil, ErrConditionFailed
	}
	if len(cond.PaymentStatuses) > 0 && !containsPaymentStatus(cond.PaymentStatuses, b.PaymentStatus) {
		return nil, ErrConditionFailed
	}
	if cond.Reference != nil && b.PaymentReference != *cond.Reference {
		return nil, ErrConditionFailed
	}

	b.PaymentStatus = u.Status
	if u.Reference != nil {
		b.PaymentReference = *u.Reference
	}
	if u.Receipt != nil {
		b.PaymentReceipt = *u.Receipt
	}
	if u.TransactionID != nil {
		b.PaymentTransactionID = *u.TransactionID
	}
	if u.FailureReason != nil {
		b.PaymentFailureReason = *u.FailureReason
	}
	if u.InitiatedAt != nil {
		t := *u.InitiatedAt
		b.PaymentInitiatedAt = &t
	}
	if u.PaidAt != nil {
		t := *u.PaidAt
		b.PaidAt = &t
	}
	b.UpdatedAt = s.now()
	return s.withRide(b), nil
}

func (s *MemoryStore) ListBookings(_ context.Context, f BookingFilter) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Booking
	for _, b := range s.bookings {
		if f.PassengerID != 0 && b.PassengerID != f.PassengerID {
			continue
		}
		if f.DriverID != 0 && b.DriverID != f.DriverID {
			continue
		}
		if f.RideID != 0 && b.RideID != f.RideID {
			continue
		}
		if len(f.Statuses) > 0 && !containsBookingStatus(f.Statuses, b.Status) {
			continue
		}
		out = append(out, *s.withRide(b))
	}
	sortBookingsNewestFirst(out)
	return paginate(out, f.Page), nil
}

func (s *MemoryStore) CountBookingsForRide(_ context.Context, rideID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, b := range s.bookings {
		if b.RideID == rideID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListStalePayments(_ context.Context, before time.Time) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Booking
	for _, b := range s.bookings {
		if b.Status != models.BookingStatusAccepted || b.PaymentStatus != models.PaymentStatusPending {
			continue
		}
		if b.PaymentReference == "" || b.PaymentInitiatedAt == nil || !b.PaymentInitiatedAt.Before(before) {
			continue
		}
		out = append(out, *b)
	}
	sortBookingsNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) withRide(b *models.Booking) *models.Booking {
	cp := *b
	if r, ok := s.rides[b.RideID]; ok {
		rc := *r
		cp.Ride = &rc
	}
	return &cp
}

// Notifications

func (s *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = s.id()
	n.CreatedAt = s.now()
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, recipientID uint, unreadOnly bool, page Page) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Notification
	for _, n := range s.notifications {
		if n.RecipientID != recipientID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, page), nil
}

func (s *MemoryStore) CountUnread(_ context.Context, recipientID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, note := range s.notifications {
		if note.RecipientID == recipientID && !note.Read {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id, recipientID uint) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return nil, ErrNotFound
	}
	if !n.Read {
		now := s.now()
		n.Read = true
		n.ReadAt = &now
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, recipientID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	now := s.now()
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			n.ReadAt = &now
			count++
		}
	}
	return count, nil
}

// Users

func (s *MemoryStore) GetUser(_ context.Context, id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == 0 {
		user.ID = s.id()
	}
	now := s.now()
	if existing, ok := s.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
		if user.FCMToken == "" {
			user.FCMToken = existing.FCMToken
		}
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) SetDeviceToken(_ context.Context, userID uint, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FCMToken = token
	u.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) GetPreferences(_ context.Context, userID uint) (*models.NotificationPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prefs[userID]
	if !ok {
		return models.DefaultPreferences(userID), nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SavePreferences(_ context.Context, prefs *models.NotificationPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.prefs[prefs.UserID]; ok {
		prefs.ID = existing.ID
		prefs.CreatedAt = existing.CreatedAt
	} else {
		prefs.ID = s.id()
		prefs.CreatedAt = now
	}
	prefs.UpdatedAt = now
	cp := *prefs
	s.prefs[prefs.UserID] = &cp
	return nil
}

// helpers shared by the in-process implementations

func containsRideStatus(list []models.RideStatus, s models.RideStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsBookingStatus(list []models.BookingStatus, s models.BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPaymentStatus(list []models.PaymentStatus, s models.PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func sortBookingsNewestFirst(list []models.Booking) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

func paginate[T any](list []T, page Page) []T {
	page = page.Normalize()
	if page.Offset >= len(list) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(list) {
		end = len(list)
	}
	return list[page.Offset:end]
}
