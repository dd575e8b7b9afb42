package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/bookingcore/pkg/logging"
)

// EmailSender defines the interface for sending emails.
// Implementations can be swapped (SendGrid, SES) without changing callers.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // Plain text body
	HTML    string // Optional HTML body
	// Category labels the message for provider-side reporting.
	Category string
}

const defaultFromName = "Bookings"

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender creates a new SendGrid email sender. It returns nil
// without an API key.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := sgmail.NewEmail(s.fromName, s.fromEmail)
	to := sgmail.NewEmail(msg.ToName, msg.To)
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := sgmail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)
	if msg.Category != "" {
		message.AddCategories(msg.Category)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject, "status", response.StatusCode)
	return nil
}

// StubEmailSender logs instead of sending.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}

// EmailNotifier renders booking outcomes as email to the payer. Contacts
// that are not email addresses are skipped.
type EmailNotifier struct {
	sender EmailSender
	logger *logging.Logger
}

func NewEmailNotifier(sender EmailSender, logger *logging.Logger) *EmailNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &EmailNotifier{sender: sender, logger: logger}
}

func (e *EmailNotifier) NotifyBookingConfirmed(ctx context.Context, n BookingConfirmed) error {
	to, ok := emailAddress(n.PayerContact)
	if !ok {
		e.logger.Debug("payer contact is not an email, skipping", "booking_id", n.BookingID)
		return nil
	}
	body := fmt.Sprintf("Your booking is confirmed for %s to %s (UTC).\nAmount paid: %s\nBooking reference: %s\n",
		n.StartsAt.UTC().Format("Monday, January 2 2006 15:04"),
		n.EndsAt.UTC().Format("15:04"),
		formatAmount(n.AmountCents, n.Currency),
		n.BookingID,
	)
	return e.sender.Send(ctx, EmailMessage{To: to, Subject: "Your booking is confirmed", Body: body, Category: "booking_confirmed"})
}

func (e *EmailNotifier) NotifyBookingRefunded(ctx context.Context, n BookingRefunded) error {
	to, ok := emailAddress(n.PayerContact)
	if !ok {
		e.logger.Debug("payer contact is not an email, skipping", "reservation_id", n.ReservationID)
		return nil
	}
	body := fmt.Sprintf("We could not confirm your booking (%s), so your payment of %s has been refunded.\nRefund reference: %s\n",
		describeConflict(n.ConflictKind),
		formatAmount(n.AmountCents, n.Currency),
		n.RefundRef,
	)
	return e.sender.Send(ctx, EmailMessage{To: to, Subject: "Your payment has been refunded", Body: body, Category: "booking_refunded"})
}

func emailAddress(contact string) (string, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(contact))
	if err != nil {
		return "", false
	}
	return addr.Address, true
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}

func describeConflict(kind string) string {
	switch kind {
	case "blocked_date":
		return "the date is no longer available"
	case "time_overlap":
		return "the time was booked by someone else"
	case "minimum_notice":
		return "the booking was too close to its start time"
	case "reservation_expired":
		return "your hold expired before payment arrived"
	default:
		return "the slot is no longer available"
	}
}
