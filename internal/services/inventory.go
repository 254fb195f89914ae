package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/repository"
)

var validate = validator.New()

type CreateRideInput struct {
	Origin       string    `json:"origin" binding:"required" validate:"required,max=255"`
	Destination  string    `json:"destination" binding:"required" validate:"required,max=255"`
	DepartureAt  time.Time `json:"departureAt" binding:"required" validate:"required"`
	PricePerSeat float64   `json:"pricePerSeat" validate:"gte=0"`
	TotalSeats   int       `json:"totalSeats" binding:"required" validate:"min=1,max=8"`
}

// validationError flattens validator errors into one readable message.
func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newError(op, KindValidation, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return newError(op, KindValidation, strings.Join(msgs, "; "))
}

// Inventory owns ride capacity. Available seats only change through
// ReserveSeats and ReleaseSeats.
type Inventory struct {
	store repository.Store
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewInventory(store repository.Store, log logrus.FieldLogger) *Inventory {
	return &Inventory{store: store, log: log, now: time.Now}
}

func (inv *Inventory) CreateRide(ctx context.Context, driver models.Principal, in CreateRideInput) (*models.Ride, error) {
	const op = "CreateRide"

	if !driver.IsDriver() {
		return nil, newError(op, KindUnauthorized, "only drivers can post rides")
	}
	in.Origin = strings.TrimSpace(in.Origin)
	in.Destination = strings.TrimSpace(in.Destination)
	if err := validate.Struct(in); err != nil {
		return nil, validationError(op, err)
	}
	if !in.DepartureAt.After(inv.now()) {
		return nil, newError(op, KindValidation, "departure must be in the future")
	}

	ride := &models.Ride{
		DriverID:       driver.UserID,
		Origin:         in.Origin,
		Destination:    in.Destination,
		DepartureAt:    in.DepartureAt,
		PricePerSeat:   in.PricePerSeat,
		TotalSeats:     in.TotalSeats,
		AvailableSeats: in.TotalSeats,
		Status:         models.RideStatusActive,
	}
	if err := inv.store.CreateRide(ctx, ride); err != nil {
		return nil, upstream(op, err)
	}

	inv.log.WithFields(logrus.Fields{
		"ride_id":   ride.ID,
		"driver_id": driver.UserID,
		"seats":     ride.TotalSeats,
	}).Info("Ride created")
	return ride, nil
}

// ReserveSeats takes count seats from an active ride in one conditional
// update.
func (inv *Inventory) ReserveSeats(ctx context.Context, rideID uint, count int) (*models.Ride, error) {
	const op = "ReserveSeats"

	if count < 1 {
		return nil, newError(op, KindValidation, "seat count must be at least 1")
	}
	ride, err := inv.store.ReserveSeats(ctx, rideID, count)
	if err == nil {
		return ride, nil
	}
	if !errors.Is(err, repository.ErrConditionFailed) {
		return nil, storeError(op, "ride", err)
	}

	current, err := inv.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, storeError(op, "ride", err)
	}
	if current.Status != models.RideStatusActive {
		return nil, newError(op, KindRideNotActive, fmt.Sprintf("ride is %s", current.Status))
	}
	return nil, newError(op, KindInsufficientCapacity,
		fmt.Sprintf("only %d seat(s) available", current.AvailableSeats))
}

// ReleaseSeats returns count seats to the ride, never above its capacity.
func (inv *Inventory) ReleaseSeats(ctx context.Context, rideID uint, count int) (*models.Ride, error) {
	const op = "ReleaseSeats"

	ride, clamped, err := inv.store.ReleaseSeats(ctx, rideID, count)
	if err != nil {
		return nil, storeError(op, "ride", err)
	}
	if clamped {
		inv.log.WithFields(logrus.Fields{
			"ride_id":     rideID,
			"count":       count,
			"total_seats": ride.TotalSeats,
		}).Warn("Seat release clamped at capacity; possible double release")
	}
	return ride, nil
}

// CancelRide marks an active ride cancelled and returns the bookings that
// were still holding seats.
func (inv *Inventory) CancelRide(ctx context.Context, rideID, actorID uint) (*models.Ride, []models.Booking, error) {
	return inv.closeRide(ctx, "CancelRide", rideID, actorID, models.RideStatusCancelled)
}

// CompleteRide marks an active ride completed and returns its seat-holding
// bookings.
func (inv *Inventory) CompleteRide(ctx context.Context, rideID, actorID uint) (*models.Ride, []models.Booking, error) {
	return inv.closeRide(ctx, "CompleteRide", rideID, actorID, models.RideStatusCompleted)
}

func (inv *Inventory) closeRide(ctx context.Context, op string, rideID, actorID uint, to models.RideStatus) (*models.Ride, []models.Booking, error) {
	ride, err := inv.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, nil, storeError(op, "ride", err)
	}
	if ride.DriverID != actorID {
		return nil, nil, newError(op, KindUnauthorized, "only the ride's driver can do this")
	}
	if ride.Status.IsTerminal() {
		return nil, nil, newError(op, KindAlreadyTerminal, fmt.Sprintf("ride is already %s", ride.Status))
	}

	ride, err = inv.store.UpdateRideStatus(ctx, rideID, []models.RideStatus{models.RideStatusActive}, to)
	if errors.Is(err, repository.ErrConditionFailed) {
		return nil, nil, newError(op, KindAlreadyTerminal, "ride is no longer active")
	}
	if err != nil {
		return nil, nil, storeError(op, "ride", err)
	}

	holding, err := inv.store.ListBookings(ctx, repository.BookingFilter{
		RideID:   rideID,
		Statuses: models.SeatHoldingStatuses,
		Page:     repository.Page{Limit: repository.MaxLimit},
	})
	if err != nil {
		return ride, nil, upstream(op, err)
	}

	inv.log.WithFields(logrus.Fields{
		"ride_id":  rideID,
		"status":   to,
		"bookings": len(holding),
	}).Info("Ride closed")
	return ride, holding, nil
}

// DeleteRide permanently removes a ride that never had a booking.
func (inv *Inventory) DeleteRide(ctx context.Context, rideID, actorID uint) error {
	const op = "DeleteRide"

	ride, err := inv.store.GetRide(ctx, rideID)
	if err != nil {
		return storeError(op, "ride", err)
	}
	if ride.DriverID != actorID {
		return newError(op, KindUnauthorized, "only the ride's driver can delete it")
	}

	err = inv.store.DeleteRide(ctx, rideID)
	if errors.Is(err, repository.ErrConditionFailed) {
		return newError(op, KindInvalidState, "rides with bookings cannot be deleted; cancel instead")
	}
	if err != nil {
		return storeError(op, "ride", err)
	}
	inv.log.WithField("ride_id", rideID).Info("Ride deleted")
	return nil
}
