// Package reservations owns slot holds: creating them under the no-overlap
// rule, attaching payment intents, releasing them and sweeping expired ones.
package reservations

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotConflict        = errors.New("reservations: slot already reserved")
	ErrInvalidRange        = errors.New("reservations: end must be after start")
	ErrInvalidInput        = errors.New("reservations: invalid input")
	ErrReservationNotFound = errors.New("reservations: reservation not found")
	ErrIntentMismatch      = errors.New("reservations: a different payment intent is already attached")
	ErrDuplicateSession    = errors.New("reservations: payment session already bound to a reservation")
	ErrVelocityExceeded    = errors.New("reservations: too many checkout attempts")
)

// Status is the lifecycle state of a reservation row.
type Status string

const (
	StatusHeld      Status = "held"
	StatusConverted Status = "converted"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
)

// PaymentPath distinguishes instant settlement from voucher-style methods
// that settle days later.
type PaymentPath string

const (
	PathImmediate PaymentPath = "immediate"
	PathDelayed   PaymentPath = "delayed"
)

// Reservation is a provisional hold on [StartTime, EndTime) of a resource.
type Reservation struct {
	ID                uuid.UUID
	ResourceID        uuid.UUID
	StartTime         time.Time
	EndTime           time.Time
	HolderContact     string
	SessionRef        string
	IntentRef         string
	Path              PaymentPath
	AmountCents       int64
	Currency          string
	Status            Status
	ReleaseReason     string
	RefundRequestedAt *time.Time
	ExpiresAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsLive reports whether the reservation still blocks its slot.
func (r Reservation) IsLive() bool {
	return r.Status == StatusHeld
}

// Occupies reports whether the row still claims its slot: a hold, or a hold
// that became a booking.
func (r Reservation) Occupies() bool {
	return r.Status == StatusHeld || r.Status == StatusConverted
}

// IsExpiredAt reports whether a held reservation has outlived its TTL at now.
func (r Reservation) IsExpiredAt(now time.Time) bool {
	return r.Status == StatusHeld && r.ExpiresAt.Before(now)
}

// Overlaps reports whether [start, end) intersects the reservation's range.
func (r Reservation) Overlaps(start, end time.Time) bool {
	return r.StartTime.Before(end) && start.Before(r.EndTime)
}

// RefundRequested reports whether a refund was already enqueued for this hold.
func (r Reservation) RefundRequested() bool {
	return r.RefundRequestedAt != nil
}

// Release reasons recorded on rows that leave the live state.
const (
	ReasonExpired       = "ttl_expired"
	ReasonPaymentFailed = "payment_failed"
	ReasonSessionClosed = "session_expired"
	ReasonCancelled     = "cancelled"
	ReasonSessionFailed = "session_create_failed"
)

// ConflictReason is the release reason used when a conflict of kind blocks conversion.
func ConflictReason(kind string) string {
	return "conflict:" + kind
}
