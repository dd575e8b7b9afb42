package payments

import (
	"context"
	"time"
)

// Metadata keys written on every session and its payment intent so that any
// later event can be tied back to the reservation.
const (
	MetaReservationID = "reservation_id"
	MetaResourceID    = "resource_id"
	MetaStartsAt      = "starts_at"
	MetaEndsAt        = "ends_at"
	MetaHolderContact = "holder_contact"
	MetaPaymentPath   = "payment_path"
)

// Gateway is the payment processor boundary used by checkout, webhooks and refunds.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	GetSession(ctx context.Context, sessionRef string) (SessionStatus, error)
	IssueRefund(ctx context.Context, req RefundRequest) (RefundConfirmation, error)
	ExpireSession(ctx context.Context, sessionRef string) error
	ParseEvent(payload []byte, signatureHeader string) (Event, error)
}

// SessionRequest describes a hosted checkout session.
type SessionRequest struct {
	AmountCents    int64
	Currency       string
	Description    string
	PaymentMethods []string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
	IdempotencyKey string
}

func (r SessionRequest) validate() error {
	if r.AmountCents <= 0 || r.Currency == "" {
		return ErrInvalidRequest
	}
	return nil
}

// Session is an opened checkout session.
type Session struct {
	Ref       string
	URL       string
	ExpiresAt time.Time
}

// SessionStatus is the processor's current view of a session.
type SessionStatus struct {
	Ref              string
	Status           string
	PaymentStatus    string
	PaymentIntentRef string
	Metadata         map[string]string
}

// RefundRequest returns money for a captured payment.
type RefundRequest struct {
	PaymentIntentRef string
	AmountCents      int64
	Reason           string
	IdempotencyKey   string
}

// RefundConfirmation is the processor's acknowledgment of a refund.
type RefundConfirmation struct {
	RefundRef   string
	Status      string
	AmountCents int64
}

// RefundIdempotencyKey derives the key used for every refund of an intent,
// so repeated attempts cannot pay out twice.
func RefundIdempotencyKey(intentRef string) string {
	return "refund-" + intentRef
}
