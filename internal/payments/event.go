package payments

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
)

// EventKind names the normalized event variants.
type EventKind string

const (
	KindSessionCompleted      EventKind = "session_completed"
	KindAsyncPaymentSucceeded EventKind = "async_payment_succeeded"
	KindAsyncPaymentFailed    EventKind = "async_payment_failed"
	KindSessionExpired        EventKind = "session_expired"
	KindIntentSucceeded       EventKind = "intent_succeeded"
	KindIntentFailed          EventKind = "intent_failed"
	KindRefundIssued          EventKind = "refund_issued"
	KindUnsupported           EventKind = "unsupported"
)

// Envelope carries the fields shared by every event variant.
type Envelope struct {
	EventID      string
	ProviderType string
	OccurredAt   time.Time
	SessionRef   string
	IntentRef    string
	AmountCents  int64
	Currency     string
	Metadata     map[string]string
	Raw          []byte
}

func (e Envelope) Meta() Envelope { return e }

// ReservationID returns the reservation id written into session metadata, if any.
func (e Envelope) ReservationID() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[MetaReservationID]
}

func (Envelope) isEvent() {}

// Event is a verified processor notification. The concrete type is one of
// the variants below.
type Event interface {
	Meta() Envelope
	Kind() EventKind
	isEvent()
}

// SessionCompleted: the payer finished checkout. Paid is false when a
// voucher was issued and payment is still pending.
type SessionCompleted struct {
	Envelope
	PaymentStatus string
	Paid          bool
}

type AsyncPaymentSucceeded struct{ Envelope }

type AsyncPaymentFailed struct{ Envelope }

type SessionExpired struct{ Envelope }

type IntentSucceeded struct{ Envelope }

type IntentFailed struct {
	Envelope
	FailureMessage string
}

type RefundIssued struct {
	Envelope
	RefundRef string
}

// Unsupported is any verified event the core does not act on.
type Unsupported struct{ Envelope }

func (SessionCompleted) Kind() EventKind      { return KindSessionCompleted }
func (AsyncPaymentSucceeded) Kind() EventKind { return KindAsyncPaymentSucceeded }
func (AsyncPaymentFailed) Kind() EventKind    { return KindAsyncPaymentFailed }
func (SessionExpired) Kind() EventKind        { return KindSessionExpired }
func (IntentSucceeded) Kind() EventKind       { return KindIntentSucceeded }
func (IntentFailed) Kind() EventKind          { return KindIntentFailed }
func (RefundIssued) Kind() EventKind          { return KindRefundIssued }
func (Unsupported) Kind() EventKind           { return KindUnsupported }

// Stripe event types the core understands.
const (
	stripeSessionCompleted      = "checkout.session.completed"
	stripeAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	stripeAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	stripeSessionExpired        = "checkout.session.expired"
	stripeIntentSucceeded       = "payment_intent.succeeded"
	stripeIntentFailed          = "payment_intent.payment_failed"
	stripeChargeRefunded        = "charge.refunded"
)

// fromStripeEvent normalizes a verified Stripe event into the union.
func fromStripeEvent(evt stripe.Event, raw []byte) (Event, error) {
	env := Envelope{
		EventID:      evt.ID,
		ProviderType: string(evt.Type),
		OccurredAt:   time.Unix(evt.Created, 0).UTC(),
		Raw:          raw,
	}
	if evt.Data == nil {
		return Unsupported{Envelope: env}, nil
	}

	switch string(evt.Type) {
	case stripeSessionCompleted, stripeAsyncPaymentSucceeded, stripeAsyncPaymentFailed, stripeSessionExpired:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("payments: decode checkout session: %w", err)
		}
		env.SessionRef = session.ID
		if session.PaymentIntent != nil {
			env.IntentRef = session.PaymentIntent.ID
		}
		env.AmountCents = session.AmountTotal
		env.Currency = string(session.Currency)
		env.Metadata = session.Metadata

		switch string(evt.Type) {
		case stripeSessionCompleted:
			status := string(session.PaymentStatus)
			return SessionCompleted{
				Envelope:      env,
				PaymentStatus: status,
				Paid:          session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
			}, nil
		case stripeAsyncPaymentSucceeded:
			return AsyncPaymentSucceeded{Envelope: env}, nil
		case stripeAsyncPaymentFailed:
			return AsyncPaymentFailed{Envelope: env}, nil
		default:
			return SessionExpired{Envelope: env}, nil
		}

	case stripeIntentSucceeded, stripeIntentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("payments: decode payment intent: %w", err)
		}
		env.IntentRef = intent.ID
		env.AmountCents = intent.Amount
		env.Currency = string(intent.Currency)
		env.Metadata = intent.Metadata
		if string(evt.Type) == stripeIntentSucceeded {
			return IntentSucceeded{Envelope: env}, nil
		}
		failed := IntentFailed{Envelope: env}
		if intent.LastPaymentError != nil {
			failed.FailureMessage = intent.LastPaymentError.Msg
		}
		return failed, nil

	case stripeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("payments: decode charge: %w", err)
		}
		if charge.PaymentIntent != nil {
			env.IntentRef = charge.PaymentIntent.ID
		}
		env.AmountCents = charge.AmountRefunded
		env.Currency = string(charge.Currency)
		env.Metadata = charge.Metadata
		refunded := RefundIssued{Envelope: env}
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 {
			refunded.RefundRef = charge.Refunds.Data[0].ID
		}
		return refunded, nil
	}

	return Unsupported{Envelope: env}, nil
}
