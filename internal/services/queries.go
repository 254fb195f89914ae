package services

import (
	"context"
	"time"

	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/repository"
)

// RideSearch narrows AvailableRides. Empty fields match everything.
type RideSearch struct {
	Origin      string
	Destination string
	Date        *time.Time
	Seats       int
	Page        repository.Page
}

// QueryService serves read-only views. Bookings come newest first.
type QueryService struct {
	store repository.Store
	now   func() time.Time
}

func NewQueryService(store repository.Store) *QueryService {
	return &QueryService{store: store, now: time.Now}
}

func (q *QueryService) PassengerBookings(ctx context.Context, passengerID uint, statuses []models.BookingStatus, page repository.Page) ([]models.Booking, error) {
	return q.bookings(ctx, "PassengerBookings", repository.BookingFilter{PassengerID: passengerID, Statuses: statuses, Page: page})
}

func (q *QueryService) DriverBookings(ctx context.Context, driverID uint, statuses []models.BookingStatus, page repository.Page) ([]models.Booking, error) {
	return q.bookings(ctx, "DriverBookings", repository.BookingFilter{DriverID: driverID, Statuses: statuses, Page: page})
}

// PendingRequests lists bookings awaiting the driver's decision.
func (q *QueryService) PendingRequests(ctx context.Context, driverID uint, page repository.Page) ([]models.Booking, error) {
	return q.bookings(ctx, "PendingRequests", repository.BookingFilter{
		DriverID: driverID,
		Statuses: []models.BookingStatus{models.BookingStatusPending},
		Page:     page,
	})
}

func (q *QueryService) bookings(ctx context.Context, op string, f repository.BookingFilter) ([]models.Booking, error) {
	f.Page = f.Page.Normalize()
	out, err := q.store.ListBookings(ctx, f)
	if err != nil {
		return nil, upstream(op, err)
	}
	return out, nil
}

// GetBooking returns a booking to its passenger or driver only.
func (q *QueryService) GetBooking(ctx context.Context, bookingID, actorID uint) (*models.Booking, error) {
	const op = "GetBooking"

	b, err := q.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeError(op, "booking", err)
	}
	if !b.IsParty(actorID) {
		return nil, newError(op, KindUnauthorized, "not a party to this booking")
	}
	return b, nil
}

// AvailableRides lists active rides with free seats that have not departed,
// soonest first.
func (q *QueryService) AvailableRides(ctx context.Context, search RideSearch) ([]models.Ride, error) {
	now := q.now()
	f := repository.RideFilter{
		Statuses:     []models.RideStatus{models.RideStatusActive},
		Origin:       search.Origin,
		Destination:  search.Destination,
		DepartsAfter: &now,
		MinSeats:     max(search.Seats, 1),
		Page:         search.Page.Normalize(),
	}
	if search.Date != nil {
		start := time.Date(search.Date.Year(), search.Date.Month(), search.Date.Day(), 0, 0, 0, 0, search.Date.Location())
		end := start.AddDate(0, 0, 1)
		if start.After(now) {
			f.DepartsAfter = &start
		}
		f.DepartsBefore = &end
	}

	rides, err := q.store.ListRides(ctx, f)
	if err != nil {
		return nil, upstream("AvailableRides", err)
	}
	return rides, nil
}

func (q *QueryService) DriverRides(ctx context.Context, driverID uint, statuses []models.RideStatus, page repository.Page) ([]models.Ride, error) {
	rides, err := q.store.ListRides(ctx, repository.RideFilter{DriverID: driverID, Statuses: statuses, Page: page.Normalize()})
	if err != nil {
		return nil, upstream("DriverRides", err)
	}
	return rides, nil
}

func (q *QueryService) Notifications(ctx context.Context, recipientID uint, unreadOnly bool, page repository.Page) ([]models.Notification, error) {
	out, err := q.store.ListNotifications(ctx, recipientID, unreadOnly, page.Normalize())
	if err != nil {
		return nil, upstream("Notifications", err)
	}
	return out, nil
}

func (q *QueryService) UnreadCount(ctx context.Context, recipientID uint) (int64, error) {
	n, err := q.store.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, upstream("UnreadCount", err)
	}
	return n, nil
}

// MarkNotificationRead fails with NotFound for someone else's notification.
func (q *QueryService) MarkNotificationRead(ctx context.Context, id, recipientID uint) (*models.Notification, error) {
	n, err := q.store.MarkNotificationRead(ctx, id, recipientID)
	if err != nil {
		return nil, storeError("MarkNotificationRead", "notification", err)
	}
	return n, nil
}

func (q *QueryService) MarkAllNotificationsRead(ctx context.Context, recipientID uint) (int64, error) {
	n, err := q.store.MarkAllNotificationsRead(ctx, recipientID)
	if err != nil {
		return 0, upstream("MarkAllNotificationsRead", err)
	}
	return n, nil
}

// Preferences returns the stored push preferences or the defaults.
func (q *QueryService) Preferences(ctx context.Context, userID uint) (*models.NotificationPreference, error) {
	prefs, err := q.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, upstream("Preferences", err)
	}
	return prefs, nil
}

func (q *QueryService) SavePreferences(ctx context.Context, prefs *models.NotificationPreference) error {
	if err := q.store.SavePreferences(ctx, prefs); err != nil {
		return upstream("SavePreferences", err)
	}
	return nil
}

// DeviceRegistration carries the contact details push delivery needs.
type DeviceRegistration struct {
	Token       string `json:"token" binding:"required"`
	PhoneNumber string `json:"phoneNumber"`
	Username    string `json:"username"`
}

// RegisterDevice refreshes the caller's user mirror and stores the FCM token
// used for push delivery.
func (q *QueryService) RegisterDevice(ctx context.Context, p models.Principal, reg DeviceRegistration) error {
	const op = "RegisterDevice"

	if reg.Token == "" {
		return newError(op, KindValidation, "token is required")
	}
	user := &models.User{Username: reg.Username, PhoneNumber: reg.PhoneNumber, Role: p.Role}
	user.ID = p.UserID
	if err := q.store.UpsertUser(ctx, user); err != nil {
		return upstream(op, err)
	}
	if err := q.store.SetDeviceToken(ctx, p.UserID, reg.Token); err != nil {
		return storeError(op, "user", err)
	}
	return nil
}
