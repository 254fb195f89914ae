package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/chachabrian/mooveit-rides/internal/models"
)

// runStoreContract exercises the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("GivenRide_WhenReservingPastCapacity_ThenConditionFails", func(t *testing.T) {
		store := newStore(t)
		ride := seedRide(t, store, 7, 3)

		got, err := store.ReserveSeats(ctx, ride.ID, 2)
		if err != nil {
			t.Fatalf("ReserveSeats: %v", err)
		}
		if got.AvailableSeats != 1 {
			t.Errorf("expected 1 seat left, got %d", got.AvailableSeats)
		}

		if _, err := store.ReserveSeats(ctx, ride.ID, 2); !errors.Is(err, ErrConditionFailed) {
			t.Errorf("expected ErrConditionFailed, got %v", err)
		}
		if _, err := store.ReserveSeats(ctx, 9999, 1); !errors.Is(err, ErrConditionFailed) {
			t.Errorf("expected ErrConditionFailed for missing ride, got %v", err)
		}
	})

	t.Run("GivenInactiveRide_WhenReserving_ThenConditionFails", func(t *testing.T) {
		store := newStore(t)
		ride := seedRide(t, store, 7, 3)
		if _, err := store.UpdateRideStatus(ctx, ride.ID, []models.RideStatus{models.RideStatusActive}, models.RideStatusCancelled); err != nil {
			t.Fatalf("UpdateRideStatus: %v", err)
		}

		if _, err := store.ReserveSeats(ctx, ride.ID, 1); !errors.Is(err, ErrConditionFailed) {
			t.Errorf("expected ErrConditionFailed, got %v", err)
		}
		if _, err := store.UpdateRideStatus(ctx, ride.ID, []models.RideStatus{models.RideStatusActive}, models.RideStatusCompleted); !errors.Is(err, ErrConditionFailed) {
			t.Errorf("expected ErrConditionFailed on second status change, got %v", err)
		}
	})

	t.Run("GivenReservedSeats_WhenReleasingTooMany_ThenClampedAtTotal", func(t *testing.T) {
		store := newStore(t)
		ride := seedRide(t, store, 7, 4)
		if _, err := store.ReserveSeats(ctx, ride.ID, 2); err != nil {
			t.Fatalf("ReserveSeats: %v", err)
		}

		got, clamped, err := store.ReleaseSeats(ctx, ride.ID, 1)
		if err != nil {
			t.Fatalf("ReleaseSeats: %v", err)
		}
		if clamped || got.AvailableSeats != 3 {
			t.Errorf("expected 3 seats unclamped, got %d clamped=%v", got.AvailableSeats, clamped)
		}

		got, clamped, err = store.ReleaseSeats(ctx, ride.ID, 5)
		if err != nil {
			t.Fatalf("ReleaseSeats: %v", err)
		}
		if !clamped || got.AvailableSeats != 4 {
			t.Errorf("expected clamp at 4, got %d clamped=%v", got.AvailableSeats, clamped)
		}

		if _, _, err := store.ReleaseSeats(ctx, 9999, 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GivenConcurrentReservations_WhenCapacityIsShort_ThenOnlyCapacitySucceeds", func(t *testing.T) {
		store := newStore(t)
		ride := seedRide(t, store, 7, 3)

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.ReserveSeats(ctx, ride.ID, 1); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if succeeded != 3 {
			t.Errorf("expected 3 successful reservations, got %d", succeeded)
		}
		got, err := store.GetRide(ctx, ride.ID)
		if err != nil {
			t.Fatalf("GetRide: %v", err)
		}
		if got.AvailableSeats != 0 {
			t.Errorf("expected 0 seats left, got %d", got.AvailableSeats)
		}
	})

	t.Run("GivenLiveBooking_WhenSamePassengerBooksAgain_ThenDuplicate", func(t *testing.T) {
		store := newStore(t)
		ride := seedRide(t, store, 7, 4)
		first := seedBooking(t, store, ride, 11, models.BookingStatusPending)

		dup := &models.Booking{RideID: ride.ID, PassengerID: 11, DriverID: 7, SeatsBooked: 1, Status: models.BookingStatusPending}
		if err := store.CreateBooking(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		found, err := store.FindActiveBooking(ctx, ride.ID, 11)
		if err != nil {
			t.Fatalf("FindActiveBooking: %v", err)
		}
		if found.ID != first.ID {
			t.Errorf("expected active booking %d, got %d", first.ID, found.ID)
		}

		if _, err := store.TransitionBooking(ctx, first.ID, []models.BookingStatus{models.BookingStatusPending}, models.BookingStatusCancelled); err != nil {
			t.Fatalf("TransitionBooking: %v", err)
		}
		again := &models.Booking{RideID: ride.ID, PassengerID: 11, DriverID: 7, SeatsBooked: 1, Status: models.BookingStatusPending}
		if err := store.CreateBooking(ctx, again); err != nil {
			t.Errorf("expected rebooking after cancel to succeed, got %v", err)
		}
	})

	t.Run("GivenBooking_WhenTransitionSourceMismatches_ThenConditionFails", func(t *testing.T) {
		store := newStore(t)
		ride := seedRide(t, store, 7, 4)
		b := seedBooking(t, store, ride, 12, models.BookingStatusPending)

		accepted, err := store.TransitionBooking(ctx, b.ID, []models.BookingStatus{models.BookingStatusPending}, models.BookingStatusAccepted)
		if err != nil {
			t.Fatalf("TransitionBooking: %v", err)
		}
		if accepted.Status != models.BookingStatusAccepted {
			t.Errorf("expected accepted, got %s", accepted.Status)
		}
		if accepted.Ride == nil || accepted.Ride.ID != ride.ID {
			t.Error("expected ride to be attached")
		}

		if _, err := store.TransitionBooking(ctx, b.ID, []models.BookingStatus{models.BookingStatusPending}, models.BookingStatusDeclined); !errors.Is(err, ErrConditionFailed) {
			t.Errorf("expected ErrConditionFailed, got %v", err)
		}

		cancelled, err := store.TransitionBooking(ctx, b.ID, models.SourcesFor(models.BookingStatusCancelled), models.BookingStatusCancelled)
		if err != nil {
			t.Fatalf("TransitionBooking: %v", err)
		}
		if cancelled.CancelledAt == nil {
			t.Error("expected CancelledAt to be set")
		}
	})

	t.Run("GivenPayment_WhenConditionHolds_ThenUpdatedOnce", func(t *testing.T) {
		store := newStore(t)
		ride := seedRide(t, store, 7, 4)
		b := seedBooking(t, store, ride, 13, models.BookingStatusAccepted)

		ref := "ws_CO_123"
		initiated := time.Now().Add(-time.Hour)
		empty := ""
		_, err := store.UpdatePayment(ctx, b.ID,
			PaymentCondition{BookingStatuses: []models.BookingStatus{models.BookingStatusAccepted}, Reference: &empty},
			PaymentUpdate{Status: models.PaymentStatusPending, Reference: &ref, InitiatedAt: &initiated},
		)
		if err != nil {
			t.Fatalf("UpdatePayment: %v", err)
		}

		found, err := store.FindBookingByPaymentReference(ctx, ref)
		if err != nil {
			t.Fatalf("FindBookingByPaymentReference: %v", err)
		}
		if found.ID != b.ID {
			t.Errorf("expected booking %d, got %d", b.ID, found.ID)
		}

		stale, err := store.ListStalePayments(ctx, time.Now().Add(-time.Minute))
		if err != nil {
			t.Fatalf("ListStalePayments: %v", err)
		}
		if len(stale) != 1 || stale[0].ID != b.ID {
			t.Errorf("expected booking %d to be stale, got %v", b.ID, stale)
		}

		receipt := "RCP1"
		paid := PaymentCondition{PaymentStatuses: []models.PaymentStatus{models.PaymentStatusPending}, Reference: &ref}
		got, err := store.UpdatePayment(ctx, b.ID, paid, PaymentUpdate{Status: models.PaymentStatusPaid, Receipt: &receipt})
		if err != nil {
			t.Fatalf("UpdatePayment: %v", err)
		}
		if got.PaymentStatus != models.PaymentStatusPaid || got.PaymentReceipt != receipt {
			t.Errorf("unexpected payment state %s/%s", got.PaymentStatus, got.PaymentReceipt)
		}

		if _, err := store.UpdatePayment(ctx, b.ID, paid, PaymentUpdate{Status: models.PaymentStatusPaid}); !errors.Is(err, ErrConditionFailed) {
			t.Errorf("expected ErrConditionFailed on replay, got %v", err)
		}
	})

	t.Run("GivenBookings_WhenListing_ThenFilteredNewestFirst", func(t *testing.T) {
		store := newStore(t)
		ride := seedRide(t, store, 7, 6)
		b1 := seedBooking(t, store, ride, 21, models.BookingStatusPending)
		b2 := seedBooking(t, store, ride, 22, models.BookingStatusPending)
		other := seedRide(t, store, 8, 2)
		seedBooking(t, store, other, 21, models.BookingStatusPending)

		list, err := store.ListBookings(ctx, BookingFilter{DriverID: 7})
		if err != nil {
			t.Fatalf("ListBookings: %v", err)
		}
		if len(list) != 2 || list[0].ID != b2.ID || list[1].ID != b1.ID {
			t.Fatalf("unexpected driver bookings: %+v", list)
		}

		list, err = store.ListBookings(ctx, BookingFilter{PassengerID: 21, Page: Page{Limit: 1}})
		if err != nil {
			t.Fatalf("ListBookings: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected page of 1, got %d", len(list))
		}

		n, err := store.CountBookingsForRide(ctx, ride.ID)
		if err != nil {
			t.Fatalf("CountBookingsForRide: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 bookings, got %d", n)
		}
	})

	t.Run("GivenRides_WhenListing_ThenFilteredByDepartureOrder", func(t *testing.T) {
		store := newStore(t)
		later := seedRideAt(t, store, 7, 3, "Nairobi CBD", "Nakuru", time.Now().Add(48*time.Hour))
		sooner := seedRideAt(t, store, 8, 3, "nairobi westlands", "Mombasa", time.Now().Add(24*time.Hour))
		seedRideAt(t, store, 9, 3, "Kisumu", "Nakuru", time.Now().Add(12*time.Hour))

		list, err := store.ListRides(ctx, RideFilter{Origin: "NAIROBI", Statuses: []models.RideStatus{models.RideStatusActive}})
		if err != nil {
			t.Fatalf("ListRides: %v", err)
		}
		if len(list) != 2 || list[0].ID != sooner.ID || list[1].ID != later.ID {
			t.Fatalf("unexpected rides: %+v", list)
		}

		list, err = store.ListRides(ctx, RideFilter{DriverID: 9, MinSeats: 4})
		if err != nil {
			t.Fatalf("ListRides: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("expected no ride with 4 seats, got %d", len(list))
		}
	})

	t.Run("GivenRideWithBooking_WhenDeleting_ThenRefused", func(t *testing.T) {
		store := newStore(t)
		booked := seedRide(t, store, 7, 3)
		seedBooking(t, store, booked, 31, models.BookingStatusPending)
		empty := seedRide(t, store, 7, 3)

		if err := store.DeleteRide(ctx, booked.ID); !errors.Is(err, ErrConditionFailed) {
			t.Errorf("expected ErrConditionFailed, got %v", err)
		}
		if _, err := store.ReserveSeats(ctx, booked.ID, 1); err != nil {
			t.Errorf("expected refused delete to leave the ride bookable, got %v", err)
		}
		if err := store.DeleteRide(ctx, empty.ID); err != nil {
			t.Fatalf("DeleteRide: %v", err)
		}
		if _, err := store.GetRide(ctx, empty.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := store.DeleteRide(ctx, empty.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing ride, got %v", err)
		}
	})

	t.Run("GivenNotifications_WhenMarkingRead_ThenOnlyRecipientMayMark", func(t *testing.T) {
		store := newStore(t)
		var ids []uint
		for i := 0; i < 3; i++ {
			n := &models.Notification{
				RecipientID:   41,
				RecipientRole: models.UserRoleDriver,
				Type:          models.NotificationBookingCreated,
				Title:         "New booking",
			}
			if err := store.CreateNotification(ctx, n); err != nil {
				t.Fatalf("CreateNotification: %v", err)
			}
			ids = append(ids, n.ID)
		}

		list, err := store.ListNotifications(ctx, 41, false, Page{})
		if err != nil {
			t.Fatalf("ListNotifications: %v", err)
		}
		if len(list) != 3 || list[0].ID != ids[2] {
			t.Fatalf("expected newest first, got %+v", list)
		}

		if _, err := store.MarkNotificationRead(ctx, ids[0], 99); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for foreign recipient, got %v", err)
		}
		read, err := store.MarkNotificationRead(ctx, ids[0], 41)
		if err != nil {
			t.Fatalf("MarkNotificationRead: %v", err)
		}
		if !read.Read || read.ReadAt == nil {
			t.Error("expected notification to be read")
		}

		unread, err := store.CountUnread(ctx, 41)
		if err != nil {
			t.Fatalf("CountUnread: %v", err)
		}
		if unread != 2 {
			t.Errorf("expected 2 unread, got %d", unread)
		}

		marked, err := store.MarkAllNotificationsRead(ctx, 41)
		if err != nil {
			t.Fatalf("MarkAllNotificationsRead: %v", err)
		}
		if marked != 2 {
			t.Errorf("expected 2 marked, got %d", marked)
		}
		list, err = store.ListNotifications(ctx, 41, true, Page{})
		if err != nil {
			t.Fatalf("ListNotifications: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("expected no unread notifications, got %d", len(list))
		}
	})

	t.Run("GivenUser_WhenSavingPreferences_ThenFalseTogglesPersist", func(t *testing.T) {
		store := newStore(t)
		if err := store.UpsertUser(ctx, &models.User{Model: modelWithID(51), Username: "wanjiku", Role: models.UserRolePassenger}); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
		if err := store.SetDeviceToken(ctx, 51, "fcm-token"); err != nil {
			t.Fatalf("SetDeviceToken: %v", err)
		}
		if err := store.SetDeviceToken(ctx, 52, "fcm-token"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown user, got %v", err)
		}
		user, err := store.GetUser(ctx, 51)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if user.FCMToken != "fcm-token" || user.Role != models.UserRolePassenger {
			t.Errorf("unexpected user %+v", user)
		}

		prefs, err := store.GetPreferences(ctx, 51)
		if err != nil {
			t.Fatalf("GetPreferences: %v", err)
		}
		if !prefs.PushEnabled || !prefs.SMSEnabled {
			t.Error("expected defaults to enable everything")
		}

		prefs.SMSEnabled = false
		prefs.PaymentAlerts = false
		if err := store.SavePreferences(ctx, prefs); err != nil {
			t.Fatalf("SavePreferences: %v", err)
		}
		saved, err := store.GetPreferences(ctx, 51)
		if err != nil {
			t.Fatalf("GetPreferences: %v", err)
		}
		if saved.SMSEnabled || saved.PaymentAlerts || !saved.BookingAlerts {
			t.Errorf("unexpected saved preferences %+v", saved)
		}
	})
}

func seedRide(t *testing.T, store Store, driverID uint, seats int) *models.Ride {
	t.Helper()
	return seedRideAt(t, store, driverID, seats, "Nairobi", "Nakuru", time.Now().Add(24*time.Hour))
}

func seedRideAt(t *testing.T, store Store, driverID uint, seats int, origin, destination string, departure time.Time) *models.Ride {
	t.Helper()
	ride := &models.Ride{
		DriverID:       driverID,
		Origin:         origin,
		Destination:    destination,
		DepartureAt:    departure,
		PricePerSeat:   500,
		TotalSeats:     seats,
		AvailableSeats: seats,
		Status:         models.RideStatusActive,
	}
	if err := store.CreateRide(context.Background(), ride); err != nil {
		t.Fatalf("Failed to seed ride: %v", err)
	}
	return ride
}

func seedBooking(t *testing.T, store Store, ride *models.Ride, passengerID uint, status models.BookingStatus) *models.Booking {
	t.Helper()
	b := &models.Booking{
		RideID:        ride.ID,
		PassengerID:   passengerID,
		DriverID:      ride.DriverID,
		SeatsBooked:   1,
		Status:        status,
		TotalAmount:   ride.PricePerSeat,
		PaymentStatus: models.PaymentStatusPending,
	}
	if err := store.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("Failed to seed booking: %v", err)
	}
	return b
}

func modelWithID(id uint) gorm.Model {
	return gorm.Model{ID: id}
}
