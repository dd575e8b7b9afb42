// Package notify tells payers what happened to their booking. Delivery is
// fire-and-forget from the booking core's point of view.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/bookingcore/pkg/logging"
)

// BookingConfirmed is sent once a paid reservation becomes a booking.
type BookingConfirmed struct {
	BookingID    uuid.UUID `json:"booking_id"`
	ResourceID   uuid.UUID `json:"resource_id"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	PayerContact string    `json:"payer_contact"`
	AmountCents  int64     `json:"amount_cents"`
	Currency     string    `json:"currency"`
}

// BookingRefunded is sent after a payment was returned because the slot
// could not be honored.
type BookingRefunded struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	PayerContact  string    `json:"payer_contact"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	ConflictKind  string    `json:"conflict_kind"`
	RefundRef     string    `json:"refund_ref"`
}

// Notifier delivers booking outcomes to payers.
type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, n BookingConfirmed) error
	NotifyBookingRefunded(ctx context.Context, n BookingRefunded) error
}

// Multi fans a notification out to every configured channel. A failing
// channel does not stop the others.
type Multi []Notifier

func (m Multi) NotifyBookingConfirmed(ctx context.Context, n BookingConfirmed) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.NotifyBookingConfirmed(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyBookingRefunded(ctx context.Context, n BookingRefunded) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.NotifyBookingRefunded(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only logs. It is the default when no channel is configured.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) NotifyBookingConfirmed(_ context.Context, n BookingConfirmed) error {
	l.logger.Info("booking confirmed notification", "booking_id", n.BookingID, "starts_at", n.StartsAt)
	return nil
}

func (l *LogNotifier) NotifyBookingRefunded(_ context.Context, n BookingRefunded) error {
	l.logger.Info("booking refunded notification", "reservation_id", n.ReservationID, "conflict_kind", n.ConflictKind)
	return nil
}
