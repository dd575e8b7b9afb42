// Package bookings turns paid reservations into bookings, or releases and
// refunds them when the calendar no longer allows it.
package bookings

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrReservationExpired marks a payment that arrived after its hold
	// stopped being live. It drives a full refund.
	ErrReservationExpired = errors.New("bookings: reservation expired before payment")
	// ErrOrphanedPaymentEvent marks a payment event that matches no reservation.
	ErrOrphanedPaymentEvent = errors.New("bookings: payment event matches no reservation")
	// ErrBookingOverlap is returned when a confirmed booking already holds the range.
	ErrBookingOverlap = errors.New("bookings: range already booked")
	// ErrBookingExists is returned when the reservation was already converted.
	ErrBookingExists = errors.New("bookings: reservation already converted")

	ErrBookingNotFound = errors.New("bookings: booking not found")
)

// Booking is a confirmed, paid use of a resource.
type Booking struct {
	ID               uuid.UUID
	ResourceID       uuid.UUID
	StartTime        time.Time
	EndTime          time.Time
	PayerContact     string
	PaymentStatus    string
	PaymentIntentRef string
	AmountCents      int64
	Currency         string
	ReservationID    uuid.UUID
	CreatedAt        time.Time
}
