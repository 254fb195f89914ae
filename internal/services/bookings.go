package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chachabrian/mooveit-rides/internal/config"
	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/repository"
	"github.com/chachabrian/mooveit-rides/pkg/utils"
)

type CreateBookingInput struct {
	RideID  uint   `json:"rideId" binding:"required" validate:"required"`
	Seats   int    `json:"seats" binding:"required" validate:"min=1,max=8"`
	Message string `json:"message" validate:"max=500"`
}

// BookingService runs the booking state machine:
//
//	pending  -> accepted | declined | cancelled
//	accepted -> completed | cancelled
//
// Seats are reserved when a booking is created and returned when a pending
// or accepted booking is declined or cancelled.
type BookingService struct {
	store     repository.Store
	inventory *Inventory
	notifier  *Notifier
	flow      string
	log       logrus.FieldLogger
}

// NewBookingService builds the lifecycle. flow is config.FlowRequest or
// config.FlowInstant.
func NewBookingService(store repository.Store, inventory *Inventory, notifier *Notifier, flow string, log logrus.FieldLogger) *BookingService {
	if flow != config.FlowInstant {
		flow = config.FlowRequest
	}
	return &BookingService{store: store, inventory: inventory, notifier: notifier, flow: flow, log: log}
}

func (s *BookingService) CreateBooking(ctx context.Context, passengerID uint, in CreateBookingInput) (*models.Booking, error) {
	const op = "CreateBooking"

	in.Message = strings.TrimSpace(in.Message)
	if err := validate.Struct(in); err != nil {
		return nil, validationError(op, err)
	}

	ride, err := s.store.GetRide(ctx, in.RideID)
	if err != nil {
		return nil, storeError(op, "ride", err)
	}
	if ride.DriverID == passengerID {
		return nil, newError(op, KindSelfBookingForbidden, "you cannot book your own ride")
	}
	if _, err := s.store.FindActiveBooking(ctx, ride.ID, passengerID); err == nil {
		return nil, newError(op, KindDuplicateBooking, "you already have an active booking for this ride")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, upstream(op, err)
	}
	if in.Seats > ride.TotalSeats {
		return nil, newError(op, KindValidation, fmt.Sprintf("ride only has %d seat(s)", ride.TotalSeats))
	}

	ride, err = s.inventory.ReserveSeats(ctx, ride.ID, in.Seats)
	if err != nil {
		return nil, err
	}

	status := models.BookingStatusPending
	if s.flow == config.FlowInstant {
		status = models.BookingStatusAccepted
	}
	booking := &models.Booking{
		RideID:        ride.ID,
		PassengerID:   passengerID,
		DriverID:      ride.DriverID,
		SeatsBooked:   in.Seats,
		Status:        status,
		TotalAmount:   utils.SeatFare(ride.PricePerSeat, in.Seats),
		Message:       in.Message,
		PaymentStatus: models.PaymentStatusPending,
	}

	fields := logrus.Fields{"ride_id": ride.ID, "passenger_id": passengerID, "seats": in.Seats}
	if err := s.store.CreateBooking(ctx, booking); err != nil {
		if _, relErr := s.inventory.ReleaseSeats(context.WithoutCancel(ctx), ride.ID, in.Seats); relErr != nil {
			s.log.WithFields(fields).WithError(relErr).Error("Releasing seats after failed booking insert")
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, newError(op, KindDuplicateBooking, "you already have an active booking for this ride")
		}
		return nil, upstream(op, err)
	}
	if err := s.abandonIfRideClosed(ctx, op, booking, fields); err != nil {
		return nil, err
	}
	booking.Ride = ride
	s.log.WithFields(fields).WithFields(logrus.Fields{"booking_id": booking.ID, "status": status}).Info("Booking created")

	typ, title := models.NotificationBookingCreated, "New Booking Request"
	msg := fmt.Sprintf("%d seat(s) requested on your ride from %s to %s", in.Seats, ride.Origin, ride.Destination)
	if status == models.BookingStatusAccepted {
		typ, title = models.NotificationBookingConfirmed, "New Booking"
		msg = fmt.Sprintf("%d seat(s) booked on your ride from %s to %s", in.Seats, ride.Origin, ride.Destination)
	}
	s.notify(ctx, DriverRecipient(ride.DriverID), typ, title, msg, booking)
	return booking, nil
}

func (s *BookingService) AcceptBooking(ctx context.Context, bookingID, actorID uint) (*models.Booking, error) {
	const op = "AcceptBooking"

	current, err := s.loadForDriver(ctx, op, bookingID, actorID)
	if err != nil {
		return nil, err
	}
	ride, err := s.store.GetRide(ctx, current.RideID)
	if err != nil {
		return nil, storeError(op, "ride", err)
	}
	if ride.Status != models.RideStatusActive {
		return nil, newError(op, KindRideNotActive, fmt.Sprintf("ride is %s", ride.Status))
	}
	booking, _, err := s.transition(ctx, op, bookingID, models.BookingStatusAccepted)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, PassengerRecipient(booking.PassengerID), models.NotificationBookingAccepted, "Booking Accepted",
		fmt.Sprintf("Your booking #%d was accepted. Complete payment to confirm your seat(s).", booking.ID), booking)
	return booking, nil
}

func (s *BookingService) DeclineBooking(ctx context.Context, bookingID, actorID uint) (*models.Booking, error) {
	const op = "DeclineBooking"

	if _, err := s.loadForDriver(ctx, op, bookingID, actorID); err != nil {
		return nil, err
	}
	booking, prior, err := s.transition(ctx, op, bookingID, models.BookingStatusDeclined)
	if err != nil {
		return nil, err
	}
	if err := s.releaseOrRevert(ctx, op, booking, prior); err != nil {
		return nil, err
	}

	s.notify(ctx, PassengerRecipient(booking.PassengerID), models.NotificationBookingDeclined, "Booking Declined",
		fmt.Sprintf("Your booking #%d was declined by the driver.", booking.ID), booking)
	return booking, nil
}

func (s *BookingService) CancelBooking(ctx context.Context, bookingID, actorID uint) (*models.Booking, error) {
	const op = "CancelBooking"

	current, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeError(op, "booking", err)
	}
	if current.PassengerID != actorID {
		return nil, newError(op, KindUnauthorized, "only the passenger can cancel this booking")
	}
	booking, prior, err := s.transition(ctx, op, bookingID, models.BookingStatusCancelled)
	if err != nil {
		return nil, err
	}
	if err := s.releaseOrRevert(ctx, op, booking, prior); err != nil {
		return nil, err
	}
	booking = s.refundIfPaid(ctx, booking)

	msg := fmt.Sprintf("Booking #%d for %d seat(s) was cancelled.", booking.ID, booking.SeatsBooked)
	s.notify(ctx, DriverRecipient(booking.DriverID), models.NotificationBookingCancelled, "Booking Cancelled", msg, booking)
	s.notify(ctx, PassengerRecipient(booking.PassengerID), models.NotificationBookingCancelled, "Booking Cancelled", msg, booking)
	return booking, nil
}

// CompleteBooking closes an accepted booking after the trip. Its seats stay
// consumed.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID, actorID uint) (*models.Booking, error) {
	const op = "CompleteBooking"

	if _, err := s.loadForDriver(ctx, op, bookingID, actorID); err != nil {
		return nil, err
	}
	booking, _, err := s.transition(ctx, op, bookingID, models.BookingStatusCompleted)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, PassengerRecipient(booking.PassengerID), models.NotificationBookingCompleted, "Trip Completed",
		fmt.Sprintf("Your booking #%d is complete. Thanks for riding!", booking.ID), booking)
	return booking, nil
}

// CancelRide cancels the ride and every booking still holding seats on it.
func (s *BookingService) CancelRide(ctx context.Context, rideID, actorID uint) (*models.Ride, []models.Booking, error) {
	ride, holding, err := s.inventory.CancelRide(ctx, rideID, actorID)
	if err != nil {
		return ride, nil, err
	}
	return ride, s.CascadeCancelForRide(ctx, ride, holding), nil
}

// CascadeCancelForRide force-cancels the given bookings of a cancelled ride.
// Seats are not released because the ride no longer takes bookings.
func (s *BookingService) CascadeCancelForRide(ctx context.Context, ride *models.Ride, bookings []models.Booking) []models.Booking {
	cancelled := make([]models.Booking, 0, len(bookings))
	for _, b := range bookings {
		updated, err := s.store.TransitionBooking(ctx, b.ID, models.SeatHoldingStatuses, models.BookingStatusCancelled)
		if errors.Is(err, repository.ErrConditionFailed) {
			continue
		}
		if err != nil {
			s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "booking_id": b.ID}).WithError(err).Error("Cascade cancel failed")
			continue
		}
		updated = s.refundIfPaid(ctx, updated)
		cancelled = append(cancelled, *updated)

		s.notify(ctx, PassengerRecipient(updated.PassengerID), models.NotificationRideCancelled, "Ride Cancelled",
			fmt.Sprintf("The ride from %s to %s on %s was cancelled by the driver.",
				ride.Origin, ride.Destination, ride.DepartureAt.Format(time.RFC1123)), updated)
	}

	s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "cancelled": len(cancelled)}).Info("Ride bookings cancelled")
	return cancelled
}

// CompleteRide completes the ride, its accepted bookings, and declines any
// request the driver never answered.
func (s *BookingService) CompleteRide(ctx context.Context, rideID, actorID uint) (*models.Ride, []models.Booking, error) {
	ride, holding, err := s.inventory.CompleteRide(ctx, rideID, actorID)
	if err != nil {
		return ride, nil, err
	}

	settled := make([]models.Booking, 0, len(holding))
	for _, b := range holding {
		to, typ, title := models.BookingStatusCompleted, models.NotificationBookingCompleted, "Trip Completed"
		msg := fmt.Sprintf("Your trip from %s to %s is complete.", ride.Origin, ride.Destination)
		if b.Status == models.BookingStatusPending {
			to, typ, title = models.BookingStatusDeclined, models.NotificationBookingDeclined, "Booking Declined"
			msg = fmt.Sprintf("The ride from %s to %s has ended before your request was answered.", ride.Origin, ride.Destination)
		}

		updated, err := s.store.TransitionBooking(ctx, b.ID, []models.BookingStatus{b.Status}, to)
		if errors.Is(err, repository.ErrConditionFailed) {
			continue
		}
		if err != nil {
			s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "booking_id": b.ID}).WithError(err).Error("Settling booking on ride completion failed")
			continue
		}
		settled = append(settled, *updated)
		s.notify(ctx, PassengerRecipient(updated.PassengerID), typ, title, msg, updated)
	}
	return ride, settled, nil
}

// abandonIfRideClosed cancels a just-inserted booking whose ride was closed
// after its seats were reserved. The closing cascade only sees bookings that
// existed when it listed them.
func (s *BookingService) abandonIfRideClosed(ctx context.Context, op string, booking *models.Booking, fields logrus.Fields) error {
	ride, err := s.store.GetRide(ctx, booking.RideID)
	if err != nil {
		s.log.WithFields(fields).WithError(err).Warn("Re-reading ride after booking insert failed")
		return nil
	}
	if ride.Status == models.RideStatusActive {
		return nil
	}

	_, err = s.store.TransitionBooking(context.WithoutCancel(ctx), booking.ID, models.SeatHoldingStatuses, models.BookingStatusCancelled)
	if err != nil && !errors.Is(err, repository.ErrConditionFailed) {
		s.log.WithFields(fields).WithField("booking_id", booking.ID).WithError(err).Error("Cancelling booking on closed ride failed")
		return upstream(op, err)
	}
	s.log.WithFields(fields).WithField("booking_id", booking.ID).Warn("Ride closed during booking; booking cancelled")
	return newError(op, KindRideNotActive, fmt.Sprintf("ride is %s", ride.Status))
}

func (s *BookingService) loadForDriver(ctx context.Context, op string, bookingID, actorID uint) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeError(op, "booking", err)
	}
	if booking.DriverID != actorID {
		return nil, newError(op, KindUnauthorized, "only the ride's driver can do this")
	}
	return booking, nil
}

// transition applies one conditional status change and reports the status it
// replaced. Sources are tried one at a time in lifecycle order; a booking
// never moves backwards, so a source that fails once cannot match later. A
// lost race is diagnosed by re-reading the booking.
func (s *BookingService) transition(ctx context.Context, op string, bookingID uint, to models.BookingStatus) (*models.Booking, models.BookingStatus, error) {
	for _, from := range models.SourcesFor(to) {
		booking, err := s.store.TransitionBooking(ctx, bookingID, []models.BookingStatus{from}, to)
		if err == nil {
			s.log.WithFields(logrus.Fields{"booking_id": bookingID, "from": from, "status": to}).Info("Booking status changed")
			return booking, from, nil
		}
		if !errors.Is(err, repository.ErrConditionFailed) {
			return nil, "", storeError(op, "booking", err)
		}
	}

	current, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, "", storeError(op, "booking", err)
	}
	return nil, "", newError(op, KindInvalidState, fmt.Sprintf("cannot move a %s booking to %s", current.Status, to))
}

// releaseOrRevert returns the booking's seats. If that fails the status
// change is undone so seats and status stay consistent.
func (s *BookingService) releaseOrRevert(ctx context.Context, op string, booking *models.Booking, prior models.BookingStatus) error {
	_, err := s.inventory.ReleaseSeats(ctx, booking.RideID, booking.SeatsBooked)
	if err == nil {
		return nil
	}

	fields := logrus.Fields{"booking_id": booking.ID, "ride_id": booking.RideID}
	s.log.WithFields(fields).WithError(err).Error("Releasing seats failed; reverting booking status")
	if _, rerr := s.store.TransitionBooking(context.WithoutCancel(ctx), booking.ID, []models.BookingStatus{booking.Status}, prior); rerr != nil {
		s.log.WithFields(fields).WithError(rerr).Error("Reverting booking status failed")
	}
	return upstream(op, err)
}

func (s *BookingService) refundIfPaid(ctx context.Context, booking *models.Booking) *models.Booking {
	if booking.PaymentStatus != models.PaymentStatusPaid {
		return booking
	}
	refunded, err := s.store.UpdatePayment(ctx, booking.ID,
		repository.PaymentCondition{PaymentStatuses: []models.PaymentStatus{models.PaymentStatusPaid}},
		repository.PaymentUpdate{Status: models.PaymentStatusRefunded})
	if err != nil {
		s.log.WithField("booking_id", booking.ID).WithError(err).Error("Marking payment refunded failed")
		return booking
	}
	return refunded
}

func (s *BookingService) notify(ctx context.Context, to Recipient, typ models.NotificationType, title, msg string, b *models.Booking) {
	if _, err := s.notifier.Notify(ctx, to, typ, title, msg, BookingRefs(b)); err != nil {
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "type": typ}).WithError(err).Error("Failed to create notification")
	}
}
