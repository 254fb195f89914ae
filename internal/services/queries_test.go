package services

import (
	"context"
	"testing"

	"github.com/chachabrian/mooveit-rides/internal/config"
	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/repository"
)

func TestQueryService(t *testing.T) {
	ctx := context.Background()

	t.Run("GivenRides_WhenSearching_ThenOnlyBookableMatchesReturned", func(t *testing.T) {
		f := newFixture(t, config.FlowRequest)
		open := f.postRide(t, 3, 100)
		full := f.postRide(t, 1, 100)
		f.book(t, full.ID, passengerID, 1)
		cancelled := f.postRide(t, 3, 100)
		if _, _, err := f.bookings.CancelRide(ctx, cancelled.ID, driverID); err != nil {
			t.Fatalf("CancelRide: %v", err)
		}

		rides, err := f.queries.AvailableRides(ctx, RideSearch{Origin: "nairobi"})
		if err != nil {
			t.Fatalf("AvailableRides: %v", err)
		}
		if len(rides) != 1 || rides[0].ID != open.ID {
			t.Errorf("expected only ride %d, got %+v", open.ID, rides)
		}

		rides, _ = f.queries.AvailableRides(ctx, RideSearch{Seats: 4})
		if len(rides) != 0 {
			t.Errorf("no ride has 4 free seats, got %d", len(rides))
		}
		rides, _ = f.queries.AvailableRides(ctx, RideSearch{Destination: "Mombasa"})
		if len(rides) != 0 {
			t.Errorf("expected no rides to Mombasa, got %d", len(rides))
		}

		mine, err := f.queries.DriverRides(ctx, driverID, nil, repository.Page{})
		if err != nil || len(mine) != 3 {
			t.Errorf("expected 3 driver rides, got %d (%v)", len(mine), err)
		}
	})

	t.Run("GivenBookings_WhenListing_ThenScopedToCaller", func(t *testing.T) {
		f := newFixture(t, config.FlowRequest)
		ride := f.postRide(t, 4, 100)
		b1 := f.book(t, ride.ID, passengerID, 1)
		b2 := f.book(t, ride.ID, passenger2ID, 1)
		if _, err := f.bookings.AcceptBooking(ctx, b2.ID, driverID); err != nil {
			t.Fatalf("AcceptBooking: %v", err)
		}

		mine, _ := f.queries.PassengerBookings(ctx, passengerID, nil, repository.Page{})
		if len(mine) != 1 || mine[0].ID != b1.ID {
			t.Errorf("unexpected passenger bookings %+v", mine)
		}
		pending, _ := f.queries.PendingRequests(ctx, driverID, repository.Page{})
		if len(pending) != 1 || pending[0].ID != b1.ID {
			t.Errorf("unexpected pending requests %+v", pending)
		}
		all, _ := f.queries.DriverBookings(ctx, driverID, nil, repository.Page{})
		if len(all) != 2 || all[0].ID != b2.ID {
			t.Errorf("expected newest first, got %+v", all)
		}
		page, _ := f.queries.DriverBookings(ctx, driverID, nil, repository.Page{Limit: 1, Offset: 1})
		if len(page) != 1 || page[0].ID != b1.ID {
			t.Errorf("unexpected second page %+v", page)
		}

		if _, err := f.queries.GetBooking(ctx, b1.ID, driverID); err != nil {
			t.Errorf("driver should see the booking: %v", err)
		}
		_, err := f.queries.GetBooking(ctx, b1.ID, passenger2ID)
		assertKind(t, err, KindUnauthorized)
		_, err = f.queries.GetBooking(ctx, 999, passengerID)
		assertKind(t, err, KindNotFound)
	})

	t.Run("GivenNotifications_WhenMarkedRead_ThenOnlyRecipientCanChangeThem", func(t *testing.T) {
		f := newFixture(t, config.FlowRequest)
		ride := f.postRide(t, 4, 100)
		f.book(t, ride.ID, passengerID, 1)
		f.book(t, ride.ID, passenger2ID, 1)

		notes, _ := f.queries.Notifications(ctx, driverID, true, repository.Page{})
		if len(notes) != 2 {
			t.Fatalf("expected 2 unread notifications, got %d", len(notes))
		}

		_, err := f.queries.MarkNotificationRead(ctx, notes[0].ID, passengerID)
		assertKind(t, err, KindNotFound)

		read, err := f.queries.MarkNotificationRead(ctx, notes[0].ID, driverID)
		if err != nil {
			t.Fatalf("MarkNotificationRead: %v", err)
		}
		if !read.Read || read.ReadAt == nil {
			t.Errorf("expected read notification, got %+v", read)
		}
		if n, _ := f.queries.UnreadCount(ctx, driverID); n != 1 {
			t.Errorf("expected 1 unread, got %d", n)
		}
		if n, _ := f.queries.MarkAllNotificationsRead(ctx, driverID); n != 1 {
			t.Errorf("expected 1 marked, got %d", n)
		}
		if n, _ := f.queries.UnreadCount(ctx, driverID); n != 0 {
			t.Errorf("expected 0 unread, got %d", n)
		}
	})

	t.Run("GivenNewDevice_WhenRegistered_ThenTokenAndContactStored", func(t *testing.T) {
		f := newFixture(t, config.FlowRequest)
		p := models.Principal{UserID: passengerID, Role: models.UserRolePassenger}

		err := f.queries.RegisterDevice(ctx, p, DeviceRegistration{Token: "fcm-abc", PhoneNumber: "0712345678"})
		if err != nil {
			t.Fatalf("RegisterDevice: %v", err)
		}
		user, err := f.store.GetUser(ctx, passengerID)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if user.FCMToken != "fcm-abc" || user.PhoneNumber != "0712345678" || user.Role != models.UserRolePassenger {
			t.Errorf("unexpected user %+v", user)
		}
		assertKind(t, f.queries.RegisterDevice(ctx, p, DeviceRegistration{}), KindValidation)

		prefs, _ := f.queries.Preferences(ctx, passengerID)
		if !prefs.PushEnabled {
			t.Error("default preferences should enable push")
		}
		prefs.SMSEnabled = false
		if err := f.queries.SavePreferences(ctx, prefs); err != nil {
			t.Fatalf("SavePreferences: %v", err)
		}
		if got, _ := f.queries.Preferences(ctx, passengerID); got.SMSEnabled {
			t.Error("sms preference not saved")
		}
	})
}
