package models

import (
	"time"
)

// NotificationPreference represents user notification preferences.
// They gate the push channels (FCM, SMS); the stored notification and the
// live websocket event are always produced.
type NotificationPreference struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// General push notification toggle
	PushEnabled bool `gorm:"column:push_enabled;not null" json:"pushEnabled"`

	BookingAlerts    bool `gorm:"column:booking_alerts;not null" json:"bookingAlerts"`
	RideStatusAlerts bool `gorm:"column:ride_status_alerts;not null" json:"rideStatusAlerts"`
	PaymentAlerts    bool `gorm:"column:payment_alerts;not null" json:"paymentAlerts"`

	SMSEnabled bool `gorm:"column:sms_enabled;not null" json:"smsEnabled"`
}

// TableName specifies the table name for NotificationPreference
func (NotificationPreference) TableName() string {
	return "notification_preferences"
}

// DefaultPreferences returns default notification preferences for a new user
func DefaultPreferences(userID uint) *NotificationPreference {
	return &NotificationPreference{
		UserID:           userID,
		PushEnabled:      true,
		BookingAlerts:    true,
		RideStatusAlerts: true,
		PaymentAlerts:    true,
		SMSEnabled:       true,
	}
}

// Allows reports whether a push of the given type may be sent.
func (p *NotificationPreference) Allows(t NotificationType) bool {
	if !p.PushEnabled {
		return false
	}
	switch t {
	case NotificationRideCancelled:
		return p.RideStatusAlerts
	case NotificationPaymentReceived, NotificationPaymentFailed:
		return p.PaymentAlerts
	default:
		return p.BookingAlerts
	}
}
