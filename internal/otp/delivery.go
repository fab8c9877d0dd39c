package otp

import (
	"context"
	"fmt"

	"storefront/internal/mail"
	"storefront/internal/sms"
)

// Delivery sends codes by email or SMS.
type Delivery struct {
	mailer    mail.Mailer
	sms       sms.Sender
	storeName string
}

func NewDelivery(mailer mail.Mailer, sender sms.Sender, storeName string) *Delivery {
	return &Delivery{mailer: mailer, sms: sender, storeName: storeName}
}

func (d *Delivery) SendCode(ctx context.Context, channel Channel, to, code string) error {
	minutes := int(TTL.Minutes())
	switch channel {
	case ChannelEmail:
		return d.mailer.Send(ctx, mail.Message{
			To:      to,
			Subject: fmt.Sprintf("%s verification code", d.storeName),
			HTML:    fmt.Sprintf("<p>Your verification code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>", code, minutes),
			Text:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes),
		})
	case ChannelSMS:
		return d.sms.Send(ctx, to, fmt.Sprintf("%s: your verification code is %s. Valid for %d minutes.", d.storeName, code, minutes))
	default:
		return fmt.Errorf("otp: unsupported channel %q", channel)
	}
}
