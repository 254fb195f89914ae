// Package repository holds the persistence contracts used by the booking
// core together with their PostgreSQL (GORM), MongoDB and in-memory
// implementations.
//
// Every mutating method is a single atomic store operation. Conditional
// updates report ErrConditionFailed when the guarded predicate did not hold,
// which callers diagnose by re-reading the record.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/chachabrian/mooveit-rides/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate record")
	ErrConditionFailed = errors.New("update condition not met")
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Page is a limit/offset window. Zero values mean the defaults.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type RideFilter struct {
	DriverID      uint
	Statuses      []models.RideStatus
	Origin        string
	Destination   string
	DepartsAfter  *time.Time
	DepartsBefore *time.Time
	MinSeats      int
	Page          Page
}

type BookingFilter struct {
	PassengerID uint
	DriverID    uint
	RideID      uint
	Statuses    []models.BookingStatus
	Page        Page
}

// PaymentCondition guards a payment update. Empty slices and a nil
// Reference match anything; a Reference pointing at "" requires no reference.
type PaymentCondition struct {
	BookingStatuses []models.BookingStatus
	PaymentStatuses []models.PaymentStatus
	Reference       *string
}

// PaymentUpdate lists the payment fields to set. Nil pointers are left as is.
type PaymentUpdate struct {
	Status        models.PaymentStatus
	Reference     *string
	Receipt       *string
	TransactionID *string
	FailureReason *string
	InitiatedAt   *time.Time
	PaidAt        *time.Time
}

type RideStore interface {
	CreateRide(ctx context.Context, ride *models.Ride) error
	GetRide(ctx context.Context, id uint) (*models.Ride, error)
	// ReserveSeats decrements available seats by count only if the ride is
	// active and has at least count seats left.
	ReserveSeats(ctx context.Context, rideID uint, count int) (*models.Ride, error)
	// ReleaseSeats increments available seats by count, never past total seats.
	// clamped reports whether the cap was hit.
	ReleaseSeats(ctx context.Context, rideID uint, count int) (ride *models.Ride, clamped bool, err error)
	UpdateRideStatus(ctx context.Context, rideID uint, from []models.RideStatus, to models.RideStatus) (*models.Ride, error)
	// DeleteRide removes a ride permanently; it fails with ErrConditionFailed
	// when any booking references it.
	DeleteRide(ctx context.Context, rideID uint) error
	ListRides(ctx context.Context, filter RideFilter) ([]models.Ride, error)
}

type BookingStore interface {
	// CreateBooking fails with ErrDuplicate when the passenger already holds a
	// pending or accepted booking on the ride.
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id uint) (*models.Booking, error)
	FindActiveBooking(ctx context.Context, rideID, passengerID uint) (*models.Booking, error)
	FindBookingByPaymentReference(ctx context.Context, reference string) (*models.Booking, error)
	// TransitionBooking moves a booking to status to if its current status is
	// one of from.
	TransitionBooking(ctx context.Context, id uint, from []models.BookingStatus, to models.BookingStatus) (*models.Booking, error)
	// UpdatePayment applies update only while cond holds.
	UpdatePayment(ctx context.Context, id uint, cond PaymentCondition, update PaymentUpdate) (*models.Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error)
	CountBookingsForRide(ctx context.Context, rideID uint) (int64, error)
	// ListStalePayments returns accepted bookings whose payment has been pending
	// since before the cutoff.
	ListStalePayments(ctx context.Context, initiatedBefore time.Time) ([]models.Booking, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, recipientID uint, unreadOnly bool, page Page) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID uint) (int64, error)
	// MarkNotificationRead fails with ErrNotFound if the notification does not
	// belong to recipientID.
	MarkNotificationRead(ctx context.Context, id, recipientID uint) (*models.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID uint) (int64, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	// UpsertUser creates the user mirror or refreshes its role/contact fields.
	UpsertUser(ctx context.Context, user *models.User) error
	SetDeviceToken(ctx context.Context, userID uint, token string) error
	GetPreferences(ctx context.Context, userID uint) (*models.NotificationPreference, error)
	SavePreferences(ctx context.Context, prefs *models.NotificationPreference) error
}

// Store is the full persistence surface used by the services.
type Store interface {
	RideStore
	BookingStore
	NotificationStore
	UserStore
	Close(ctx context.Context) error
}
