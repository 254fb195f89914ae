package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/chachabrian/mooveit-rides/internal/models"
)

// RunMigrations creates or updates the schema. The statements are valid on
// both PostgreSQL and SQLite.
func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Ride{},
		&models.Booking{},
		&models.Notification{},
		&models.NotificationPreference{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	statements := []string{
		// One live booking per passenger and ride.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_pair
			ON bookings (ride_id, passenger_id)
			WHERE status IN ('pending', 'accepted') AND deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_stale_payments
			ON bookings (payment_initiated_at)
			WHERE payment_status = 'pending' AND payment_reference <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_unread
			ON notifications (recipient_id, created_at)
			WHERE read = false`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %q: %w", firstLine(stmt), err)
		}
	}

	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
