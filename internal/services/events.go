package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chachabrian/mooveit-rides/internal/models"
)

// ErrChannelNotInitialized is returned when an event is published before a
// real-time channel was configured.
var ErrChannelNotInitialized = errors.New("real-time channel not initialized")

// Event is the payload delivered on a recipient's topic.
type Event struct {
	ID             string                  `json:"id"`
	Type           models.NotificationType `json:"type"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	RideID         *uint                   `json:"rideId,omitempty"`
	BookingID      *uint                   `json:"bookingId,omitempty"`
	NotificationID uint                    `json:"notificationId"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// Publisher delivers events to a topic such as "driver:12".
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// Topic returns the "<role>:<id>" topic for a user.
func Topic(role models.UserRole, userID uint) string {
	return fmt.Sprintf("%s:%d", role, userID)
}

func DriverTopic(userID uint) string    { return Topic(models.UserRoleDriver, userID) }
func PassengerTopic(userID uint) string { return Topic(models.UserRolePassenger, userID) }

// ParseTopic splits a topic into role and user id.
func ParseTopic(topic string) (models.UserRole, uint, error) {
	role, id, ok := strings.Cut(topic, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed topic %q", topic)
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || !models.UserRole(role).Valid() {
		return "", 0, fmt.Errorf("malformed topic %q", topic)
	}
	return models.UserRole(role), uint(n), nil
}

// MultiPublisher publishes to every publisher and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, topic string, event Event) error {
	if len(m) == 0 {
		return ErrChannelNotInitialized
	}
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
