package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/internal/repository"
)

const pushTimeout = 15 * time.Second

// Recipient addresses a notification to a user in a role.
type Recipient struct {
	UserID uint
	Role   models.UserRole
}

func DriverRecipient(id uint) Recipient    { return Recipient{UserID: id, Role: models.UserRoleDriver} }
func PassengerRecipient(id uint) Recipient { return Recipient{UserID: id, Role: models.UserRolePassenger} }

// Refs points a notification back at the ride and booking that caused it.
type Refs struct {
	RideID    *uint
	BookingID *uint
}

func BookingRefs(b *models.Booking) Refs {
	rideID, bookingID := b.RideID, b.ID
	return Refs{RideID: &rideID, BookingID: &bookingID}
}

// Pusher is an out-of-band delivery channel such as FCM or SMS. A pusher
// checks the recipient's preferences itself and returns nil when it skips.
type Pusher interface {
	Name() string
	Push(ctx context.Context, user *models.User, prefs *models.NotificationPreference, n *models.Notification) error
}

type notifierStore interface {
	repository.NotificationStore
	repository.UserStore
}

// Notifier persists a notification, publishes it on the recipient's
// real-time topic and hands it to the push channels. Only persistence
// errors are returned.
type Notifier struct {
	store     notifierStore
	publisher Publisher
	pushers   []Pusher
	log       logrus.FieldLogger
	pending   sync.WaitGroup
}

// NewNotifier wires the fan-out. publisher may be nil, in which case live
// events are dropped with ErrChannelNotInitialized.
func NewNotifier(store notifierStore, publisher Publisher, log logrus.FieldLogger, pushers ...Pusher) *Notifier {
	return &Notifier{store: store, publisher: publisher, pushers: pushers, log: log}
}

func (n *Notifier) Notify(ctx context.Context, to Recipient, typ models.NotificationType, title, message string, refs Refs) (*models.Notification, error) {
	note := &models.Notification{
		RecipientID:   to.UserID,
		RecipientRole: to.Role,
		Type:          typ,
		Title:         title,
		Message:       message,
		RideID:        refs.RideID,
		BookingID:     refs.BookingID,
	}
	if err := n.store.CreateNotification(ctx, note); err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"notification_id": note.ID,
		"recipient_id":    to.UserID,
		"type":            typ,
	}

	topic := Topic(to.Role, to.UserID)
	if err := n.publish(ctx, topic, note); err != nil {
		n.log.WithFields(fields).WithError(err).WithField("topic", topic).Warn("Real-time publish failed")
	}

	if len(n.pushers) > 0 {
		n.pending.Add(1)
		go func() {
			defer n.pending.Done()
			pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
			defer cancel()
			n.push(pushCtx, note, fields)
		}()
	}

	return note, nil
}

func (n *Notifier) publish(ctx context.Context, topic string, note *models.Notification) error {
	if n.publisher == nil {
		return ErrChannelNotInitialized
	}
	return n.publisher.Publish(ctx, topic, Event{
		ID:             uuid.NewString(),
		Type:           note.Type,
		Title:          note.Title,
		Message:        note.Message,
		RideID:         note.RideID,
		BookingID:      note.BookingID,
		NotificationID: note.ID,
		CreatedAt:      note.CreatedAt,
	})
}

func (n *Notifier) push(ctx context.Context, note *models.Notification, fields logrus.Fields) {
	user, err := n.store.GetUser(ctx, note.RecipientID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		n.log.WithFields(fields).WithError(err).Warn("Loading push recipient failed")
		return
	}
	prefs, err := n.store.GetPreferences(ctx, note.RecipientID)
	if err != nil {
		n.log.WithFields(fields).WithError(err).Warn("Loading notification preferences failed")
		return
	}

	for _, p := range n.pushers {
		if err := p.Push(ctx, user, prefs, note); err != nil {
			n.log.WithFields(fields).WithError(err).WithField("channel", p.Name()).Warn("Push notification failed")
		}
	}
}

// Wait blocks until in-flight pushes finish.
func (n *Notifier) Wait() {
	n.pending.Wait()
}
