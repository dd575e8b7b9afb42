package events

import (
	"time"

	"github.com/google/uuid"
)

// Outbox entry types.
const (
	TypeRefundRequested  = "refund.requested"
	TypeCalendarCreate   = "calendar.create_event"
	TypeBookingConfirmed = "notify.booking_confirmed"
)

// RefundRequestedV1 asks the refund engine to return money for a payment
// whose reservation could not be honored.
type RefundRequestedV1 struct {
	ReservationID    uuid.UUID `json:"reservation_id"`
	PaymentIntentRef string    `json:"payment_intent_ref"`
	HolderContact    string    `json:"holder_contact"`
	AmountCents      int64     `json:"amount_cents"`
	Currency         string    `json:"currency"`
	Percentage       int       `json:"percentage"`
	ConflictKind     string    `json:"conflict_kind"`
	RequestedAt      time.Time `json:"requested_at"`
}

// CalendarEventRequestedV1 mirrors a confirmed booking onto the resource calendar.
type CalendarEventRequestedV1 struct {
	BookingID  uuid.UUID `json:"booking_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Attendee   string    `json:"attendee"`
}

// BookingConfirmedV1 tells the payer their slot is theirs.
type BookingConfirmedV1 struct {
	BookingID     uuid.UUID `json:"booking_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	ResourceID    uuid.UUID `json:"resource_id"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	PayerContact  string    `json:"payer_contact"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}
