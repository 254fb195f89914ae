package services

import (
	"context"

	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/pkg/utils"
)

type smsSender interface {
	Send(ctx context.Context, message string, recipients []string) error
}

// SMSPusher texts the notification to the recipient's phone when they have
// SMS enabled.
type SMSPusher struct {
	client smsSender
}

func NewSMSPusher(client *utils.SMSClient) *SMSPusher {
	return &SMSPusher{client: client}
}

func (p *SMSPusher) Name() string { return "sms" }

func (p *SMSPusher) Push(ctx context.Context, user *models.User, prefs *models.NotificationPreference, n *models.Notification) error {
	if user.PhoneNumber == "" || !prefs.SMSEnabled || !prefs.Allows(n.Type) {
		return nil
	}
	phone, err := utils.NormalizeMSISDN(user.PhoneNumber)
	if err != nil {
		return err
	}
	return p.client.Send(ctx, n.Title+": "+n.Message, []string{phone})
}
