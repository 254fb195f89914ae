package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chachabrian/mooveit-rides/internal/models"
)

// GormStore implements Store on PostgreSQL through GORM. Seat and status
// changes are single conditional UPDATE statements, so concurrent requests
// are serialized by the database's row locks.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrDuplicate
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Rides

func (s *GormStore) CreateRide(ctx context.Context, ride *models.Ride) error {
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Create(ride).Error)
}

func (s *GormStore) GetRide(ctx context.Context, id uint) (*models.Ride, error) {
	var ride models.Ride
	if err := s.db.WithContext(ctx).First(&ride, id).Error; err != nil {
		return nil, translate(err)
	}
	return &ride, nil
}

func (s *GormStore) ReserveSeats(ctx context.Context, rideID uint, count int) (*models.Ride, error) {
	res := s.db.WithContext(ctx).Model(&models.Ride{}).
		Where("id = ? AND status = ? AND available_seats >= ?", rideID, models.RideStatusActive, count).
		Updates(map[string]interface{}{
			"available_seats": gorm.Expr("available_seats - ?", count),
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConditionFailed
	}
	return s.GetRide(ctx, rideID)
}

// ReleaseSeats adds count seats capped at total_seats in one UPDATE. The row
// is locked first so the pre-update value tells whether the cap applied.
func (s *GormStore) ReleaseSeats(ctx context.Context, rideID uint, count int) (*models.Ride, bool, error) {
	var (
		ride    models.Ride
		clamped bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var before models.Ride
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&before, rideID).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Ride{}).
			Where("id = ?", rideID).
			Updates(map[string]interface{}{
				"available_seats": gorm.Expr(s.least()+"(available_seats + ?, total_seats)", count),
				"updated_at":      time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		clamped = before.AvailableSeats+count > before.TotalSeats
		return tx.First(&ride, rideID).Error
	})
	if err != nil {
		return nil, false, translate(err)
	}
	return &ride, clamped, nil
}

// least is the two-argument minimum function of the connected dialect.
func (s *GormStore) least() string {
	if s.db.Dialector.Name() == "sqlite" {
		return "MIN"
	}
	return "LEAST"
}

func (s *GormStore) UpdateRideStatus(ctx context.Context, rideID uint, from []models.RideStatus, to models.RideStatus) (*models.Ride, error) {
	res := s.db.WithContext(ctx).Model(&models.Ride{}).
		Where("id = ? AND status IN ?", rideID, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConditionFailed
	}
	return s.GetRide(ctx, rideID)
}

func (s *GormStore) DeleteRide(ctx context.Context, rideID uint) error {
	db := s.db.WithContext(ctx)
	res := db.Unscoped().
		Where("id = ? AND NOT EXISTS (SELECT 1 FROM bookings WHERE bookings.ride_id = rides.id)", rideID).
		Delete(&models.Ride{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := s.GetRide(ctx, rideID); err != nil {
		return err
	}
	return ErrConditionFailed
}

func (s *GormStore) ListRides(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	page := f.Page.Normalize()
	query := s.db.WithContext(ctx).Model(&models.Ride{})

	if f.DriverID != 0 {
		query = query.Where("driver_id = ?", f.DriverID)
	}
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}
	if f.Origin != "" {
		query = query.Where("LOWER(origin) LIKE ?", "%"+strings.ToLower(f.Origin)+"%")
	}
	if f.Destination != "" {
		query = query.Where("LOWER(destination) LIKE ?", "%"+strings.ToLower(f.Destination)+"%")
	}
	if f.DepartsAfter != nil {
		query = query.Where("departure_at > ?", *f.DepartsAfter)
	}
	if f.DepartsBefore != nil {
		query = query.Where("departure_at <= ?", *f.DepartsBefore)
	}
	if f.MinSeats > 0 {
		query = query.Where("available_seats >= ?", f.MinSeats)
	}

	rides := []models.Ride{}
	err := query.Order("departure_at ASC").Order("id ASC").
		Limit(page.Limit).Offset(page.Offset).
		Find(&rides).Error
	return rides, translate(err)
}

// Bookings

func (s *GormStore) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Create(booking).Error)
}

func (s *GormStore) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	var booking models.Booking
	if err := s.db.WithContext(ctx).Preload("Ride").First(&booking, id).Error; err != nil {
		return nil, translate(err)
	}
	return &booking, nil
}

func (s *GormStore) FindActiveBooking(ctx context.Context, rideID, passengerID uint) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).
		Where("ride_id = ? AND passenger_id = ? AND status IN ?", rideID, passengerID, models.SeatHoldingStatuses).
		First(&booking).Error
	if err != nil {
		return nil, translate(err)
	}
	return &booking, nil
}

func (s *GormStore) FindBookingByPaymentReference(ctx context.Context, reference string) (*models.Booking, error) {
	if reference == "" {
		return nil, ErrNotFound
	}
	var booking models.Booking
	err := s.db.WithContext(ctx).Preload("Ride").
		Where("payment_reference = ?", reference).
		First(&booking).Error
	if err != nil {
		return nil, translate(err)
	}
	return &booking, nil
}

func (s *GormStore) TransitionBooking(ctx context.Context, id uint, from []models.BookingStatus, to models.BookingStatus) (*models.Booking, error) {
	now := time.Now()
	updates := map[string]interface{}{"status": to, "updated_at": now}
	if to == models.BookingStatusCancelled {
		updates["cancelled_at"] = now
	}

	res := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConditionFailed
	}
	return s.GetBooking(ctx, id)
}

func (s *GormStore) UpdatePayment(ctx context.Context, id uint, cond PaymentCondition, u PaymentUpdate) (*models.Booking, error) {
	query := s.db.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", id)
	if len(cond.BookingStatuses) > 0 {
		query = query.Where("status IN ?", cond.BookingStatuses)
	}
	if len(cond.PaymentStatuses) > 0 {
		query = query.Where("payment_status IN ?", cond.PaymentStatuses)
	}
	if cond.Reference != nil {
		query = query.Where("payment_reference = ?", *cond.Reference)
	}

	updates := map[string]interface{}{
		"payment_status": u.Status,
		"updated_at":     time.Now(),
	}
	if u.Reference != nil {
		updates["payment_reference"] = *u.Reference
	}
	if u.Receipt != nil {
		updates["payment_receipt"] = *u.Receipt
	}
	if u.TransactionID != nil {
		updates["payment_transaction_id"] = *u.TransactionID
	}
	if u.FailureReason != nil {
		updates["payment_failure_reason"] = *u.FailureReason
	}
	if u.InitiatedAt != nil {
		updates["payment_initiated_at"] = *u.InitiatedAt
	}
	if u.PaidAt != nil {
		updates["paid_at"] = *u.PaidAt
	}

	res := query.Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConditionFailed
	}
	return s.GetBooking(ctx, id)
}

func (s *GormStore) ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, error) {
	page := f.Page.Normalize()
	query := s.db.WithContext(ctx).Preload("Ride")

	if f.PassengerID != 0 {
		query = query.Where("passenger_id = ?", f.PassengerID)
	}
	if f.DriverID != 0 {
		query = query.Where("driver_id = ?", f.DriverID)
	}
	if f.RideID != 0 {
		query = query.Where("ride_id = ?", f.RideID)
	}
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}

	bookings := []models.Booking{}
	err := query.Order("created_at DESC").Order("id DESC").
		Limit(page.Limit).Offset(page.Offset).
		Find(&bookings).Error
	return bookings, translate(err)
}

func (s *GormStore) CountBookingsForRide(ctx context.Context, rideID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Unscoped().Model(&models.Booking{}).
		Where("ride_id = ?", rideID).
		Count(&n).Error
	return n, translate(err)
}

func (s *GormStore) ListStalePayments(ctx context.Context, before time.Time) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := s.db.WithContext(ctx).
		Where("status = ? AND payment_status = ? AND payment_reference <> '' AND payment_initiated_at < ?",
			models.BookingStatusAccepted, models.PaymentStatusPending, before).
		Order("created_at DESC").
		Find(&bookings).Error
	return bookings, translate(err)
}

// Notifications

func (s *GormStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	return translate(s.db.WithContext(ctx).Create(n).Error)
}

func (s *GormStore) ListNotifications(ctx context.Context, recipientID uint, unreadOnly bool, page Page) ([]models.Notification, error) {
	page = page.Normalize()
	query := s.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		query = query.Where("read = ?", false)
	}

	list := []models.Notification{}
	err := query.Order("created_at DESC").Order("id DESC").
		Limit(page.Limit).Offset(page.Offset).
		Find(&list).Error
	return list, translate(err)
}

func (s *GormStore) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false).
		Count(&n).Error
	return n, translate(err)
}

func (s *GormStore) MarkNotificationRead(ctx context.Context, id, recipientID uint) (*models.Notification, error) {
	db := s.db.WithContext(ctx)
	err := db.Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ? AND read = ?", id, recipientID, false).
		Updates(map[string]interface{}{"read": true, "read_at": time.Now()}).Error
	if err != nil {
		return nil, translate(err)
	}

	var n models.Notification
	if err := db.Where("id = ? AND recipient_id = ?", id, recipientID).First(&n).Error; err != nil {
		return nil, translate(err)
	}
	return &n, nil
}

func (s *GormStore) MarkAllNotificationsRead(ctx context.Context, recipientID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false).
		Updates(map[string]interface{}{"read": true, "read_at": time.Now()})
	return res.RowsAffected, translate(res.Error)
}

// Users

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) UpsertUser(ctx context.Context, user *models.User) error {
	return translate(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "phone_number", "role", "updated_at"}),
	}).Create(user).Error)
}

func (s *GormStore) SetDeviceToken(ctx context.Context, userID uint, token string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("fcm_token", token)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetPreferences(ctx context.Context, userID uint) (*models.NotificationPreference, error) {
	var prefs models.NotificationPreference
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&prefs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, translate(err)
	}
	return &prefs, nil
}

func (s *GormStore) SavePreferences(ctx context.Context, prefs *models.NotificationPreference) error {
	// user_id is the conflict target; the surrogate key comes back from the row.
	prefs.ID = 0
	return translate(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"push_enabled", "booking_alerts", "ride_status_alerts",
			"payment_alerts", "sms_enabled", "updated_at",
		}),
	}).Create(prefs).Error)
}
