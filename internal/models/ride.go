package models

import (
	"time"

	"gorm.io/gorm"
)

type RideStatus string

const (
	RideStatusActive    RideStatus = "active"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
)

// MaxSeatsPerRide is the largest capacity a driver may offer.
const MaxSeatsPerRide = 8

func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// Ride is a driver-posted offer with a fixed seat capacity.
// AvailableSeats is only ever changed through the store's ReserveSeats and
// ReleaseSeats operations.
type Ride struct {
	gorm.Model
	DriverID       uint       `json:"driverId" gorm:"not null;index"`
	Driver         *User      `json:"driver,omitempty" gorm:"foreignKey:DriverID"`
	Origin         string     `json:"origin" gorm:"not null"`
	Destination    string     `json:"destination" gorm:"not null"`
	DepartureAt    time.Time  `json:"departureAt" gorm:"not null;index"`
	PricePerSeat   float64    `json:"pricePerSeat" gorm:"not null;check:price_per_seat >= 0"`
	TotalSeats     int        `json:"totalSeats" gorm:"not null;check:total_seats BETWEEN 1 AND 8"`
	AvailableSeats int        `json:"availableSeats" gorm:"not null;check:available_seats >= 0 AND available_seats <= total_seats"`
	Status         RideStatus `json:"status" gorm:"not null;default:'active';index"`
}

// SeatsTaken is the number of seats held by live bookings.
func (r *Ride) SeatsTaken() int {
	return r.TotalSeats - r.AvailableSeats
}
