package models

import (
	"time"

	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusAccepted  BookingStatus = "accepted"
	BookingStatusDeclined  BookingStatus = "declined"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusAccepted, BookingStatusDeclined, BookingStatusCancelled},
	BookingStatusAccepted:  {BookingStatusCompleted, BookingStatusCancelled},
	BookingStatusDeclined:  {},
	BookingStatusCompleted: {},
	BookingStatusCancelled: {},
}

// SeatHoldingStatuses are the statuses whose seats count against a ride's capacity.
var SeatHoldingStatuses = []BookingStatus{BookingStatusPending, BookingStatusAccepted}

func (s BookingStatus) Valid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range bookingTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	next, ok := bookingTransitions[s]
	return !ok || len(next) == 0
}

// HoldsSeats reports whether a booking in this status occupies ride capacity.
func (s BookingStatus) HoldsSeats() bool {
	return s == BookingStatusPending || s == BookingStatusAccepted
}

// SourcesFor lists the statuses from which target can be reached.
func SourcesFor(target BookingStatus) []BookingStatus {
	var out []BookingStatus
	for _, from := range []BookingStatus{
		BookingStatusPending,
		BookingStatusAccepted,
		BookingStatusDeclined,
		BookingStatusCompleted,
		BookingStatusCancelled,
	} {
		if from.CanTransitionTo(target) {
			out = append(out, from)
		}
	}
	return out
}

// Booking is a passenger's hold on seats of a ride.
// At most one booking per (ride, passenger) may be pending or accepted; the
// migration enforces this with a partial unique index.
type Booking struct {
	gorm.Model
	RideID      uint          `json:"rideId" gorm:"not null;index"`
	Ride        *Ride         `json:"ride,omitempty" gorm:"foreignKey:RideID"`
	PassengerID uint          `json:"passengerId" gorm:"not null;index"`
	Passenger   *User         `json:"passenger,omitempty" gorm:"foreignKey:PassengerID"`
	DriverID    uint          `json:"driverId" gorm:"not null;index"`
	SeatsBooked int           `json:"seatsBooked" gorm:"not null;check:seats_booked >= 1"`
	Status      BookingStatus `json:"status" gorm:"not null;default:'pending';index"`
	TotalAmount float64       `json:"totalAmount" gorm:"not null"`
	Message     string        `json:"message,omitempty"`
	CancelledAt *time.Time    `json:"cancelledAt,omitempty"`

	PaymentStatus        PaymentStatus `json:"paymentStatus" gorm:"not null;default:'pending'"`
	PaymentReference     string        `json:"paymentReference,omitempty" gorm:"index"`
	PaymentReceipt       string        `json:"paymentReceipt,omitempty"`
	PaymentTransactionID string        `json:"paymentTransactionId,omitempty"`
	PaymentFailureReason string        `json:"paymentFailureReason,omitempty"`
	PaymentInitiatedAt   *time.Time    `json:"paymentInitiatedAt,omitempty"`
	PaidAt               *time.Time    `json:"paidAt,omitempty"`
}

func (b *Booking) IsParty(userID uint) bool {
	return b.PassengerID == userID || b.DriverID == userID
}
