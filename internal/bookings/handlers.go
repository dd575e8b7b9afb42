package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wolfman30/bookingcore/internal/calendar"
	"github.com/wolfman30/bookingcore/internal/conflicts"
	"github.com/wolfman30/bookingcore/internal/events"
	"github.com/wolfman30/bookingcore/internal/notify"
	"github.com/wolfman30/bookingcore/internal/refunds"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

type refundExecutor interface {
	Execute(ctx context.Context, order refunds.Order) (refunds.Record, error)
}

type calendarClient interface {
	CreateEvent(ctx context.Context, evt calendar.Event) error
}

// SideEffects runs the post-commit work the state machine enqueues.
type SideEffects struct {
	refunds  refundExecutor
	calendar calendarClient
	notifier notify.Notifier
	logger   *logging.Logger
}

func NewSideEffects(refunder refundExecutor, cal calendarClient, notifier notify.Notifier, logger *logging.Logger) *SideEffects {
	if logger == nil {
		logger = logging.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &SideEffects{refunds: refunder, calendar: cal, notifier: notifier, logger: logger}
}

// Register binds every side-effect handler on mux.
func (s *SideEffects) Register(mux *events.Mux) {
	mux.Register(events.TypeRefundRequested, events.DeliveryHandlerFunc(s.HandleRefundRequested))
	mux.Register(events.TypeCalendarCreate, events.DeliveryHandlerFunc(s.HandleCalendarCreate))
	mux.Register(events.TypeBookingConfirmed, events.DeliveryHandlerFunc(s.HandleBookingConfirmed))
}

// HandleRefundRequested executes the refund once. A refund the processor
// rejected is already in the remediation queue, so the entry is acknowledged
// rather than retried.
func (s *SideEffects) HandleRefundRequested(ctx context.Context, entry events.OutboxEntry) error {
	var payload events.RefundRequestedV1
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		s.logger.Error("undecodable refund request dropped", "error", err, "outbox_id", entry.ID)
		return nil
	}

	rec, err := s.refunds.Execute(ctx, refunds.Order{
		PaymentIntentRef: payload.PaymentIntentRef,
		ReservationID:    payload.ReservationID,
		AmountCents:      payload.AmountCents,
		ConflictKind:     conflicts.Kind(payload.ConflictKind),
	})
	switch {
	case err == nil:
	case errors.Is(err, refunds.ErrRefundFailed):
		s.logger.Error("refund failed, awaiting manual remediation", "error", err, "reservation_id", payload.ReservationID)
		return nil
	case errors.Is(err, refunds.ErrNoRefundDue):
		return nil
	default:
		return fmt.Errorf("bookings: execute refund: %w", err)
	}

	if err := s.notifier.NotifyBookingRefunded(ctx, notify.BookingRefunded{
		ReservationID: payload.ReservationID,
		PayerContact:  payload.HolderContact,
		AmountCents:   rec.AmountCents,
		Currency:      payload.Currency,
		ConflictKind:  payload.ConflictKind,
		RefundRef:     rec.RefundRef,
	}); err != nil {
		s.logger.Warn("refund notification failed", "error", err, "reservation_id", payload.ReservationID)
	}
	return nil
}

// HandleCalendarCreate returns calendar errors so the outbox retries them.
// The booking itself stands regardless.
func (s *SideEffects) HandleCalendarCreate(ctx context.Context, entry events.OutboxEntry) error {
	var payload events.CalendarEventRequestedV1
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		s.logger.Error("undecodable calendar request dropped", "error", err, "outbox_id", entry.ID)
		return nil
	}
	return s.calendar.CreateEvent(ctx, calendar.Event{
		BookingID:  payload.BookingID,
		ResourceID: payload.ResourceID,
		Start:      payload.StartsAt,
		End:        payload.EndsAt,
		Attendee:   payload.Attendee,
	})
}

// HandleBookingConfirmed notifies the payer. Failures are logged only.
func (s *SideEffects) HandleBookingConfirmed(ctx context.Context, entry events.OutboxEntry) error {
	var payload events.BookingConfirmedV1
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		s.logger.Error("undecodable confirmation dropped", "error", err, "outbox_id", entry.ID)
		return nil
	}
	if err := s.notifier.NotifyBookingConfirmed(ctx, notify.BookingConfirmed{
		BookingID:    payload.BookingID,
		ResourceID:   payload.ResourceID,
		StartsAt:     payload.StartsAt,
		EndsAt:       payload.EndsAt,
		PayerContact: payload.PayerContact,
		AmountCents:  payload.AmountCents,
		Currency:     payload.Currency,
	}); err != nil {
		s.logger.Warn("booking confirmation notification failed", "error", err, "booking_id", payload.BookingID)
	}
	return nil
}
