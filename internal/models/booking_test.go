package models

import "testing"

func TestBookingStatus_Transitions(t *testing.T) {
	cases := []struct {
		from BookingStatus
		to   BookingStatus
		want bool
	}{
		{BookingStatusPending, BookingStatusAccepted, true},
		{BookingStatusPending, BookingStatusDeclined, true},
		{BookingStatusPending, BookingStatusCancelled, true},
		{BookingStatusPending, BookingStatusCompleted, false},
		{BookingStatusAccepted, BookingStatusCompleted, true},
		{BookingStatusAccepted, BookingStatusCancelled, true},
		{BookingStatusAccepted, BookingStatusDeclined, false},
		{BookingStatusAccepted, BookingStatusPending, false},
		{BookingStatusDeclined, BookingStatusAccepted, false},
		{BookingStatusCancelled, BookingStatusPending, false},
		{BookingStatusCompleted, BookingStatusCancelled, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestBookingStatus_TerminalAndHolding(t *testing.T) {
	terminal := map[BookingStatus]bool{
		BookingStatusPending:   false,
		BookingStatusAccepted:  false,
		BookingStatusDeclined:  true,
		BookingStatusCompleted: true,
		BookingStatusCancelled: true,
	}
	for s, want := range terminal {
		if s.IsTerminal() != want {
			t.Errorf("%s: IsTerminal expected %v", s, want)
		}
		if s.HoldsSeats() == want {
			t.Errorf("%s: HoldsSeats expected %v", s, !want)
		}
	}

	if !BookingStatus("bogus").IsTerminal() {
		t.Error("unknown status should be treated as terminal")
	}
}

func TestSourcesFor(t *testing.T) {
	got := SourcesFor(BookingStatusCancelled)
	if len(got) != 2 || got[0] != BookingStatusPending || got[1] != BookingStatusAccepted {
		t.Fatalf("unexpected sources for cancelled: %v", got)
	}

	got = SourcesFor(BookingStatusAccepted)
	if len(got) != 1 || got[0] != BookingStatusPending {
		t.Fatalf("unexpected sources for accepted: %v", got)
	}
}

func TestUserRole_DerivedDriverFlag(t *testing.T) {
	u := User{Role: UserRoleDriver}
	if !u.IsDriver() {
		t.Error("driver role should report IsDriver")
	}
	u.Role = UserRolePassenger
	if u.IsDriver() {
		t.Error("passenger role should not report IsDriver")
	}
	if UserRole("pilot").Valid() {
		t.Error("unknown role should be invalid")
	}
}

func TestNotificationPreference_Allows(t *testing.T) {
	p := DefaultPreferences(1)
	if !p.Allows(NotificationBookingCreated) {
		t.Error("defaults should allow booking alerts")
	}

	p.PaymentAlerts = false
	if p.Allows(NotificationPaymentReceived) {
		t.Error("payment alerts disabled but push allowed")
	}
	if !p.Allows(NotificationBookingAccepted) {
		t.Error("booking alerts should be unaffected by payment toggle")
	}

	p.PushEnabled = false
	if p.Allows(NotificationBookingAccepted) {
		t.Error("push disabled should block everything")
	}
}
