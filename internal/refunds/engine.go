package refunds

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
	"github.com/wolfman30/bookingcore/internal/observability/metrics"
	"github.com/wolfman30/bookingcore/internal/payments"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

var tracer = otel.Tracer("bookingcore.internal.refunds")

var (
	// ErrRefundFailed matches every *RefundFailedError.
	ErrRefundFailed = errors.New("refunds: refund failed")
	// ErrNoRefundDue is returned for orders whose conflict kind refunds nothing.
	ErrNoRefundDue = errors.New("refunds: no refund due")
)

// RefundFailedError reports a refund the processor did not accept. The order
// is already queued for manual remediation when this is returned.
type RefundFailedError struct {
	Order         Order
	RemediationID uuid.UUID
	Err           error
}

func (e *RefundFailedError) Error() string {
	return fmt.Sprintf("refunds: refund of %s failed: %v", e.Order.PaymentIntentRef, e.Err)
}

func (e *RefundFailedError) Unwrap() error { return e.Err }

func (e *RefundFailedError) Is(target error) bool { return target == ErrRefundFailed }

// Order asks for the captured amount of a payment intent to be returned.
type Order struct {
	PaymentIntentRef string
	ReservationID    uuid.UUID
	AmountCents      int64
	ConflictKind     conflicts.Kind
}

// Engine issues refunds through the payment gateway and records the outcome.
// A failed refund is never retried automatically.
type Engine struct {
	gateway payments.Gateway
	repo    Repository
	clock   clock.Clock
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

func NewEngine(gateway payments.Gateway, repo Repository, clk clock.Clock, timeout time.Duration, logger *logging.Logger) *Engine {
	if gateway == nil || repo == nil {
		panic("refunds: gateway and repository required")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{gateway: gateway, repo: repo, clock: clk, timeout: timeout, logger: logger}
}

// WithMetrics records refund outcomes.
func (e *Engine) WithMetrics(m *metrics.BookingMetrics) *Engine {
	e.metrics = m
	return e
}

// Execute refunds the order. A record that already exists for the intent is
// returned without calling the processor.
func (e *Engine) Execute(ctx context.Context, order Order) (Record, error) {
	ctx, span := tracer.Start(ctx, "refunds.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("bookingcore.reservation_id", order.ReservationID.String()),
		attribute.String("bookingcore.conflict_kind", string(order.ConflictKind)),
	)

	if order.PaymentIntentRef == "" {
		return Record{}, fmt.Errorf("refunds: execute: %w", payments.ErrInvalidRequest)
	}
	pct := Decide(order.ConflictKind)
	amount := Amount(order.AmountCents, pct)
	if amount == 0 {
		return Record{}, ErrNoRefundDue
	}

	if existing, err := e.repo.FindByIntent(ctx, order.PaymentIntentRef); err == nil {
		e.metrics.ObserveRefund("duplicate", string(order.ConflictKind))
		return existing, nil
	} else if !errors.Is(err, ErrRecordNotFound) {
		return Record{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	conf, err := e.gateway.IssueRefund(callCtx, payments.RefundRequest{
		PaymentIntentRef: order.PaymentIntentRef,
		AmountCents:      amount,
		Reason:           string(order.ConflictKind),
		IdempotencyKey:   payments.RefundIdempotencyKey(order.PaymentIntentRef),
	})
	cancel()
	if err != nil {
		span.RecordError(err)
		return Record{}, e.fail(ctx, order, amount, err)
	}

	rec, err := e.repo.InsertRecord(ctx, Record{
		ID:               uuid.New(),
		PaymentIntentRef: order.PaymentIntentRef,
		RefundRef:        conf.RefundRef,
		ReservationID:    order.ReservationID,
		AmountCents:      amount,
		Percentage:       pct,
		ConflictKind:     order.ConflictKind,
		IssuedAt:         e.clock.Now(),
	})
	if err != nil {
		// The processor holds the money movement under the idempotency key,
		// so a later attempt returns the same refund.
		e.logger.Error("refund issued but not recorded", "error", err,
			"payment_intent_ref", order.PaymentIntentRef, "refund_ref", conf.RefundRef)
		return Record{}, err
	}

	e.metrics.ObserveRefund("issued", string(order.ConflictKind))
	e.logger.Info("refund issued",
		"reservation_id", order.ReservationID,
		"payment_intent_ref", order.PaymentIntentRef,
		"refund_ref", rec.RefundRef,
		"amount_cents", rec.AmountCents,
		"conflict_kind", order.ConflictKind,
	)
	return rec, nil
}

func (e *Engine) fail(ctx context.Context, order Order, amount int64, cause error) error {
	e.metrics.ObserveRefund("failed", string(order.ConflictKind))
	rem := Remediation{
		ID:               uuid.New(),
		PaymentIntentRef: order.PaymentIntentRef,
		ReservationID:    order.ReservationID,
		AmountCents:      amount,
		ConflictKind:     order.ConflictKind,
		Error:            cause.Error(),
		CreatedAt:        e.clock.Now(),
	}
	if err := e.repo.InsertRemediation(ctx, rem); err != nil {
		e.logger.Error("failed to queue refund remediation", "error", err,
			"payment_intent_ref", order.PaymentIntentRef, "refund_error", cause.Error())
		rem.ID = uuid.Nil
	}
	e.logger.Error("refund failed, queued for manual remediation",
		"error", cause,
		"reservation_id", order.ReservationID,
		"payment_intent_ref", order.PaymentIntentRef,
		"remediation_id", rem.ID,
	)
	return &RefundFailedError{Order: order, RemediationID: rem.ID, Err: cause}
}
