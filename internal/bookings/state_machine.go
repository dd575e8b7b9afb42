package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/bookingcore/internal/clock"
	"github.com/wolfman30/bookingcore/internal/conflicts"
	"github.com/wolfman30/bookingcore/internal/events"
	"github.com/wolfman30/bookingcore/internal/observability/metrics"
	"github.com/wolfman30/bookingcore/internal/payments"
	"github.com/wolfman30/bookingcore/internal/refunds"
	"github.com/wolfman30/bookingcore/internal/reservations"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

var tracer = otel.Tracer("bookingcore.internal.bookings")

// Outcome names what a processed event did to its reservation.
type Outcome string

const (
	OutcomeConfirmed       Outcome = "confirmed"
	OutcomeConflictRefund  Outcome = "conflict_refund"
	OutcomeExpiredRefund   Outcome = "expired_refund"
	OutcomeReleased        Outcome = "released"
	OutcomeAwaitingPayment Outcome = "awaiting_payment"
	OutcomeNoop            Outcome = "noop"
	OutcomeOrphaned        Outcome = "orphaned"
	OutcomeIgnored         Outcome = "ignored"
)

// Transition reports the effect of one event. Err carries an informational
// cause (ErrReservationExpired, ErrOrphanedPaymentEvent) for outcomes that
// are handled rather than failed.
type Transition struct {
	Outcome       Outcome
	ReservationID uuid.UUID
	BookingID     uuid.UUID
	ConflictKind  conflicts.Kind
	Err           error
}

type conflictChecker interface {
	CheckConflict(ctx context.Context, res reservations.Reservation) (conflicts.Record, error)
}

type outboxWriter interface {
	Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error)
}

// StateMachine is the single entry point for verified payment events. Every
// write it makes happens in the transaction carried by ctx, so the caller's
// dedup record commits together with the state change.
type StateMachine struct {
	reservations reservations.Repository
	bookings     Repository
	detector     conflictChecker
	outbox       outboxWriter
	clock        clock.Clock
	logger       *logging.Logger
	metrics      *metrics.BookingMetrics
}

func NewStateMachine(resRepo reservations.Repository, bookingRepo Repository, detector conflictChecker, outbox outboxWriter, clk clock.Clock, logger *logging.Logger) *StateMachine {
	if resRepo == nil || bookingRepo == nil || detector == nil || outbox == nil {
		panic("bookings: state machine dependencies required")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StateMachine{
		reservations: resRepo,
		bookings:     bookingRepo,
		detector:     detector,
		outbox:       outbox,
		clock:        clk,
		logger:       logger,
	}
}

// WithMetrics records transition outcomes.
func (m *StateMachine) WithMetrics(bm *metrics.BookingMetrics) *StateMachine {
	m.metrics = bm
	return m
}

// Handle applies evt. Replaying an event yields the same end state.
func (m *StateMachine) Handle(ctx context.Context, evt payments.Event) (Transition, error) {
	ctx, span := tracer.Start(ctx, "bookings.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("bookingcore.event_kind", string(evt.Kind())),
		attribute.String("bookingcore.event_id", evt.Meta().EventID),
	)

	var tr Transition
	err := m.reservations.WithTx(ctx, func(ctx context.Context) error {
		var err error
		tr, err = m.dispatch(ctx, evt)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Transition{}, err
	}
	span.SetAttributes(attribute.String("bookingcore.outcome", string(tr.Outcome)))
	m.metrics.ObserveTransition(string(tr.Outcome))
	return tr, nil
}

func (m *StateMachine) dispatch(ctx context.Context, evt payments.Event) (Transition, error) {
	switch e := evt.(type) {
	case payments.SessionCompleted:
		return m.onSessionCompleted(ctx, e)
	case payments.AsyncPaymentSucceeded:
		return m.onPaymentSucceeded(ctx, e.Envelope)
	case payments.IntentSucceeded:
		return m.onPaymentSucceeded(ctx, e.Envelope)
	case payments.AsyncPaymentFailed:
		return m.onPaymentFailed(ctx, e.Envelope, reservations.ReasonPaymentFailed)
	case payments.IntentFailed:
		return m.onPaymentDeclined(ctx, e.Envelope)
	case payments.SessionExpired:
		return m.onPaymentFailed(ctx, e.Envelope, reservations.ReasonSessionClosed)
	case payments.RefundIssued:
		m.logger.Info("refund acknowledged by processor", "refund_ref", e.RefundRef, "payment_intent_ref", e.IntentRef)
		return Transition{Outcome: OutcomeNoop}, nil
	default:
		return Transition{Outcome: OutcomeIgnored}, nil
	}
}

func (m *StateMachine) onSessionCompleted(ctx context.Context, e payments.SessionCompleted) (Transition, error) {
	if e.Paid {
		return m.onPaymentSucceeded(ctx, e.Envelope)
	}
	res, ok, err := m.locate(ctx, e.Envelope)
	if err != nil {
		return Transition{}, err
	}
	if !ok {
		return m.orphaned(e.Envelope), nil
	}
	if err := m.attachIntent(ctx, &res, e.IntentRef); err != nil {
		return Transition{}, err
	}
	m.logger.Info("checkout completed, awaiting delayed payment",
		"reservation_id", res.ID,
		"payment_status", e.PaymentStatus,
		"expires_at", res.ExpiresAt,
	)
	return Transition{Outcome: OutcomeAwaitingPayment, ReservationID: res.ID}, nil
}

func (m *StateMachine) onPaymentSucceeded(ctx context.Context, env payments.Envelope) (Transition, error) {
	res, ok, err := m.locate(ctx, env)
	if err != nil {
		return Transition{}, err
	}
	if !ok {
		return m.orphaned(env), nil
	}
	if err := m.attachIntent(ctx, &res, env.IntentRef); err != nil {
		return Transition{}, err
	}

	now := m.clock.Now()
	switch {
	case res.Status == reservations.StatusConverted:
		return Transition{Outcome: OutcomeNoop, ReservationID: res.ID}, nil
	case res.Status == reservations.StatusHeld && res.IsExpiredAt(now):
		if _, err := m.reservations.Transition(ctx, res.ID, reservations.StatusHeld, reservations.StatusExpired, reservations.ReasonExpired, now); err != nil {
			return Transition{}, err
		}
		res.Status = reservations.StatusExpired
		return m.refundExpired(ctx, res, env, now)
	case res.Status != reservations.StatusHeld:
		return m.refundExpired(ctx, res, env, now)
	}

	record, err := m.detector.CheckConflict(ctx, res)
	if err != nil {
		return Transition{}, err
	}
	if record.IsConflict() {
		return m.releaseForConflict(ctx, res, env, record.Kind, now)
	}
	return m.confirm(ctx, res, env, now)
}

func (m *StateMachine) confirm(ctx context.Context, res reservations.Reservation, env payments.Envelope, now time.Time) (Transition, error) {
	booking := Booking{
		ID:               uuid.New(),
		ResourceID:       res.ResourceID,
		StartTime:        res.StartTime,
		EndTime:          res.EndTime,
		PayerContact:     res.HolderContact,
		PaymentStatus:    "paid",
		PaymentIntentRef: res.IntentRef,
		AmountCents:      amountOf(res, env),
		Currency:         currencyOf(res, env),
		ReservationID:    res.ID,
		CreatedAt:        now,
	}
	err := m.bookings.Insert(ctx, booking)
	switch {
	case errors.Is(err, ErrBookingOverlap):
		return m.releaseForConflict(ctx, res, env, conflicts.KindTimeOverlap, now)
	case errors.Is(err, ErrBookingExists):
		return Transition{Outcome: OutcomeNoop, ReservationID: res.ID}, nil
	case err != nil:
		return Transition{}, err
	}

	moved, err := m.reservations.Transition(ctx, res.ID, reservations.StatusHeld, reservations.StatusConverted, "", now)
	if err != nil {
		return Transition{}, err
	}
	if !moved {
		return Transition{}, fmt.Errorf("bookings: reservation %s left held state during conversion", res.ID)
	}

	aggregate := res.ID.String()
	if _, err := m.outbox.Insert(ctx, aggregate, events.TypeCalendarCreate, events.CalendarEventRequestedV1{
		BookingID:  booking.ID,
		ResourceID: booking.ResourceID,
		StartsAt:   booking.StartTime,
		EndsAt:     booking.EndTime,
		Attendee:   booking.PayerContact,
	}); err != nil {
		return Transition{}, err
	}
	if _, err := m.outbox.Insert(ctx, aggregate, events.TypeBookingConfirmed, events.BookingConfirmedV1{
		BookingID:     booking.ID,
		ReservationID: res.ID,
		ResourceID:    booking.ResourceID,
		StartsAt:      booking.StartTime,
		EndsAt:        booking.EndTime,
		PayerContact:  booking.PayerContact,
		AmountCents:   booking.AmountCents,
		Currency:      booking.Currency,
		ConfirmedAt:   now,
	}); err != nil {
		return Transition{}, err
	}

	m.logger.Info("booking confirmed",
		"booking_id", booking.ID,
		"reservation_id", res.ID,
		"resource_id", res.ResourceID,
		"starts_at", res.StartTime,
	)
	return Transition{Outcome: OutcomeConfirmed, ReservationID: res.ID, BookingID: booking.ID, ConflictKind: conflicts.KindNone}, nil
}

func (m *StateMachine) releaseForConflict(ctx context.Context, res reservations.Reservation, env payments.Envelope, kind conflicts.Kind, now time.Time) (Transition, error) {
	if _, err := m.reservations.Transition(ctx, res.ID, reservations.StatusHeld, reservations.StatusReleased, reservations.ConflictReason(string(kind)), now); err != nil {
		return Transition{}, err
	}
	if err := m.requestRefund(ctx, res, env, kind, now); err != nil {
		return Transition{}, err
	}
	m.logger.Info("reservation released for conflict, refund requested",
		"reservation_id", res.ID,
		"conflict_kind", kind,
	)
	return Transition{Outcome: OutcomeConflictRefund, ReservationID: res.ID, ConflictKind: kind}, nil
}

func (m *StateMachine) refundExpired(ctx context.Context, res reservations.Reservation, env payments.Envelope, now time.Time) (Transition, error) {
	tr := Transition{
		Outcome:       OutcomeExpiredRefund,
		ReservationID: res.ID,
		ConflictKind:  conflicts.KindReservationExpired,
		Err:           ErrReservationExpired,
	}
	if res.RefundRequested() {
		tr.Outcome = OutcomeNoop
		return tr, nil
	}
	if err := m.requestRefund(ctx, res, env, conflicts.KindReservationExpired, now); err != nil {
		return Transition{}, err
	}
	m.logger.Warn("payment arrived for a reservation that is no longer live, refund requested",
		"reservation_id", res.ID,
		"status", res.Status,
		"release_reason", res.ReleaseReason,
	)
	return tr, nil
}

// requestRefund stamps the reservation and enqueues the refund. The stamp
// guards against a second refund request for the same reservation.
func (m *StateMachine) requestRefund(ctx context.Context, res reservations.Reservation, env payments.Envelope, kind conflicts.Kind, now time.Time) error {
	marked, err := m.reservations.MarkRefundRequested(ctx, res.ID, now)
	if err != nil {
		return err
	}
	if !marked {
		return nil
	}
	if res.IntentRef == "" {
		m.logger.Error("cannot request refund without a payment intent", "reservation_id", res.ID, "conflict_kind", kind)
		return nil
	}
	_, err = m.outbox.Insert(ctx, res.ID.String(), events.TypeRefundRequested, events.RefundRequestedV1{
		ReservationID:    res.ID,
		PaymentIntentRef: res.IntentRef,
		HolderContact:    res.HolderContact,
		AmountCents:      amountOf(res, env),
		Currency:         currencyOf(res, env),
		Percentage:       refunds.Decide(kind),
		ConflictKind:     string(kind),
		RequestedAt:      now,
	})
	return err
}

// onPaymentDeclined records a failed attempt on an intent. The checkout
// session stays payable, so the hold is kept until the session expires, a
// delayed payment fails, or the sweeper ends it.
func (m *StateMachine) onPaymentDeclined(ctx context.Context, env payments.Envelope) (Transition, error) {
	res, ok, err := m.locate(ctx, env)
	if err != nil {
		return Transition{}, err
	}
	if !ok {
		m.logger.Info("payment decline for unknown reservation ignored", "event_id", env.EventID, "payment_intent_ref", env.IntentRef)
		return Transition{Outcome: OutcomeIgnored}, nil
	}
	if res.IsLive() {
		if err := m.attachIntent(ctx, &res, env.IntentRef); err != nil {
			return Transition{}, err
		}
	}
	m.logger.Info("payment attempt declined, hold kept",
		"reservation_id", res.ID,
		"status", res.Status,
		"expires_at", res.ExpiresAt,
	)
	return Transition{Outcome: OutcomeNoop, ReservationID: res.ID}, nil
}

func (m *StateMachine) onPaymentFailed(ctx context.Context, env payments.Envelope, reason string) (Transition, error) {
	res, ok, err := m.locate(ctx, env)
	if err != nil {
		return Transition{}, err
	}
	if !ok {
		m.logger.Info("payment failure for unknown reservation ignored", "event_id", env.EventID, "session_ref", env.SessionRef)
		return Transition{Outcome: OutcomeIgnored}, nil
	}
	if !res.IsLive() {
		return Transition{Outcome: OutcomeNoop, ReservationID: res.ID}, nil
	}
	if _, err := m.reservations.Transition(ctx, res.ID, reservations.StatusHeld, reservations.StatusReleased, reason, m.clock.Now()); err != nil {
		return Transition{}, err
	}
	m.logger.Info("reservation released after payment failure", "reservation_id", res.ID, "reason", reason)
	return Transition{Outcome: OutcomeReleased, ReservationID: res.ID}, nil
}

// locate finds and locks the reservation an event refers to: by payment
// intent, then by the reservation id in metadata, then by session.
func (m *StateMachine) locate(ctx context.Context, env payments.Envelope) (reservations.Reservation, bool, error) {
	var (
		res reservations.Reservation
		err = reservations.ErrReservationNotFound
	)
	if env.IntentRef != "" {
		res, err = m.reservations.FindByIntentRef(ctx, env.IntentRef)
	}
	if errors.Is(err, reservations.ErrReservationNotFound) {
		if id, parseErr := uuid.Parse(env.ReservationID()); parseErr == nil {
			res, err = m.reservations.Get(ctx, id)
		}
	}
	if errors.Is(err, reservations.ErrReservationNotFound) && env.SessionRef != "" {
		res, err = m.reservations.FindBySessionRef(ctx, env.SessionRef)
	}
	if errors.Is(err, reservations.ErrReservationNotFound) {
		return reservations.Reservation{}, false, nil
	}
	if err != nil {
		return reservations.Reservation{}, false, err
	}

	locked, err := m.reservations.GetForUpdate(ctx, res.ID)
	if err != nil {
		return reservations.Reservation{}, false, err
	}
	return locked, true, nil
}

func (m *StateMachine) attachIntent(ctx context.Context, res *reservations.Reservation, intentRef string) error {
	if intentRef == "" || res.IntentRef == intentRef {
		return nil
	}
	if res.IntentRef != "" {
		m.logger.Warn("event carries a different payment intent than the reservation",
			"reservation_id", res.ID,
			"reservation_intent_ref", res.IntentRef,
			"event_intent_ref", intentRef,
		)
		return nil
	}
	if err := m.reservations.SetIntentRef(ctx, res.ID, intentRef, m.clock.Now()); err != nil {
		return err
	}
	res.IntentRef = intentRef
	return nil
}

func (m *StateMachine) orphaned(env payments.Envelope) Transition {
	m.logger.Error("orphaned payment event",
		"error", ErrOrphanedPaymentEvent,
		"event_id", env.EventID,
		"provider_type", env.ProviderType,
		"session_ref", env.SessionRef,
		"payment_intent_ref", env.IntentRef,
		"reservation_id", env.ReservationID(),
	)
	return Transition{Outcome: OutcomeOrphaned, Err: ErrOrphanedPaymentEvent}
}

func amountOf(res reservations.Reservation, env payments.Envelope) int64 {
	if env.AmountCents > 0 {
		return env.AmountCents
	}
	return res.AmountCents
}

func currencyOf(res reservations.Reservation, env payments.Envelope) string {
	if env.Currency != "" {
		return env.Currency
	}
	return res.Currency
}
