package services

import (
	"context"
	"fmt"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/chachabrian/mooveit-rides/internal/models"
)

// fcmSender is the part of *messaging.Client the pusher uses.
type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMPusher sends booking notifications to the recipient's registered
// device through Firebase Cloud Messaging.
type FCMPusher struct {
	client fcmSender
	log    logrus.FieldLogger
}

// NewFCMPusher initializes the Firebase Admin SDK from a service account file.
func NewFCMPusher(ctx context.Context, serviceAccountPath string, log logrus.FieldLogger) (*FCMPusher, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(serviceAccountPath))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	log.Info("Firebase Cloud Messaging initialized successfully")
	return &FCMPusher{client: client, log: log}, nil
}

func (p *FCMPusher) Name() string { return "fcm" }

func (p *FCMPusher) Push(ctx context.Context, user *models.User, prefs *models.NotificationPreference, n *models.Notification) error {
	if user.FCMToken == "" || !prefs.Allows(n.Type) {
		return nil
	}

	message := &messaging.Message{
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Data:    notificationData(n),
		Token:   user.FCMToken,
		Android: androidConfig(n.Type),
		APNS:    apnsConfig(),
	}

	response, err := p.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"type":     n.Type,
		"response": response,
	}).Debug("Sent push notification")
	return nil
}

// notificationData flattens the notification into FCM's string-only data map.
func notificationData(n *models.Notification) map[string]string {
	data := map[string]string{
		"type":           string(n.Type),
		"notificationId": strconv.FormatUint(uint64(n.ID), 10),
	}
	if n.RideID != nil {
		data["rideId"] = strconv.FormatUint(uint64(*n.RideID), 10)
	}
	if n.BookingID != nil {
		data["bookingId"] = strconv.FormatUint(uint64(*n.BookingID), 10)
	}
	return data
}

// androidConfig returns Android-specific notification configuration
func androidConfig(t models.NotificationType) *messaging.AndroidConfig {
	channelID := "mooveit_bookings"
	if t == models.NotificationPaymentReceived || t == models.NotificationPaymentFailed {
		channelID = "mooveit_payments"
	}

	return &messaging.AndroidConfig{
		Priority: "high",
		Notification: &messaging.AndroidNotification{
			Sound:                 "default",
			ChannelID:             channelID,
			Priority:              messaging.PriorityHigh,
			DefaultSound:          true,
			Icon:                  "ic_stat_logo",
			Color:                 "#7FFF00", // MooveIt brand color
			Tag:                   string(t),
			DefaultVibrateTimings: true,
		},
	}
}

// apnsConfig returns iOS-specific notification configuration
func apnsConfig() *messaging.APNSConfig {
	badge := 1
	return &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Sound:            "default",
				Badge:            &badge,
				MutableContent:   true,
				ContentAvailable: true,
			},
		},
	}
}
