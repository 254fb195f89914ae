package models

import (
	"time"
)

type NotificationType string

const (
	NotificationBookingCreated   NotificationType = "booking_created"
	NotificationBookingConfirmed NotificationType = "booking_confirmed"
	NotificationBookingAccepted  NotificationType = "booking_accepted"
	NotificationBookingDeclined  NotificationType = "booking_declined"
	NotificationBookingCancelled NotificationType = "booking_cancelled"
	NotificationBookingCompleted NotificationType = "booking_completed"
	NotificationRideCancelled    NotificationType = "ride_cancelled"
	NotificationPaymentReceived  NotificationType = "payment_received"
	NotificationPaymentFailed    NotificationType = "payment_failed"
)

// Notification is an addressed message produced by a booking transition.
// Only the recipient may change it, and only by marking it read.
type Notification struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	RecipientID   uint             `gorm:"not null;index" json:"recipientId"`
	RecipientRole UserRole         `gorm:"not null" json:"recipientRole"`
	Type          NotificationType `gorm:"not null" json:"type"`
	Title         string           `gorm:"not null" json:"title"`
	Message       string           `json:"message"`
	RideID        *uint            `json:"rideId,omitempty"`
	BookingID     *uint            `json:"bookingId,omitempty"`
	Read          bool             `gorm:"not null;default:false;index" json:"read"`
	ReadAt        *time.Time       `json:"readAt,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// TableName specifies the table name for Notification
func (Notification) TableName() string {
	return "notifications"
}
