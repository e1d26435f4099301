package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"net/url"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lensbook/backend/app/models"
	"github.com/lensbook/backend/internal/pkg/bookingtoken"
	"github.com/lensbook/backend/internal/pkg/env"
)

// BookingNotifier emails customers after a booking lands. Every send is
// best-effort: a mail outage must never fail or retry a payment event.
type BookingNotifier struct {
	codec   *bookingtoken.Codec
	baseURL string
}

func NewBookingNotifier(codec *bookingtoken.Codec, baseURL string) *BookingNotifier {
	return &BookingNotifier{codec: codec, baseURL: baseURL}
}

// BookingCreated sends the confirmation mail with the self-service manage
// link for the new booking.
func (n *BookingNotifier) BookingCreated(ctx context.Context, b *models.Booking) {
	if b == nil || b.Email == "" {
		return
	}

	token, err := n.codec.Issue(b.ID, b.TenantID, bookingtoken.ActionManage, bookingtoken.DefaultTTL)
	if err != nil {
		log.Errorf("[Mail] Could not issue manage token for booking %d: %v", b.ID, err)
		return
	}

	manageURL := fmt.Sprintf("%s/bookings/manage?token=%s", n.baseURL, url.QueryEscape(token))

	subject := fmt.Sprintf("Booking confirmed for %s", b.EventDate)
	body := fmt.Sprintf(
		"<p>Hi %s,</p>"+
			"<p>Your booking (reference <b>%s</b>) for %s is confirmed.</p>"+
			"<p>You can view, reschedule or cancel it here:<br><a href=\"%s\">%s</a></p>",
		b.CoupleName, b.Reference, b.EventDate, manageURL, manageURL,
	)

	if err := sendMail(b.Email, subject, body); err != nil {
		log.Errorf("[Mail] Confirmation for booking %d not sent: %v", b.ID, err)
	}
}

// sendMail delivers one HTML mail through the SMTP relay configured in the
// environment. Auth is optional for local relays.
func sendMail(to, subject, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "25")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "no-reply@localhost")

	if host == "" {
		return fmt.Errorf("SMTP_HOST is not configured")
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	return smtp.SendMail(fmt.Sprintf("%s:%s", host, port), auth, sender, []string{to}, msg)
}
