package bookings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/bookingcore/internal/database"
)

// Repository persists bookings.
type Repository interface {
	Insert(ctx context.Context, b Booking) error
	FindByReservation(ctx context.Context, reservationID uuid.UUID) (Booking, error)
	HasConfirmedOverlap(ctx context.Context, resourceID uuid.UUID, start, end time.Time, excludeReservationID uuid.UUID) (bool, error)
}

// PostgresRepository stores bookings in the bookings table, whose exclusion
// constraint forbids two bookings on overlapping ranges of one resource.
type PostgresRepository struct {
	db *database.TxManager
}

func NewPostgresRepository(db *database.TxManager) *PostgresRepository {
	if db == nil {
		panic("bookings: tx manager required")
	}
	return &PostgresRepository{db: db}
}

// Insert adds the booking. ON CONFLICT DO NOTHING keeps the surrounding
// transaction usable when either constraint fires; the cause is then read
// back to pick the error.
func (r *PostgresRepository) Insert(ctx context.Context, b Booking) error {
	query := `
		INSERT INTO bookings (id, resource_id, starts_at, ends_at, payer_contact, payment_status,
			payment_intent_ref, amount_cents, currency, created_from_reservation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
	`
	ct, err := r.db.Conn(ctx).Exec(ctx, query,
		b.ID, b.ResourceID, b.StartTime, b.EndTime, b.PayerContact, b.PaymentStatus,
		b.PaymentIntentRef, b.AmountCents, b.Currency, b.ReservationID, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("bookings: insert: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.FindByReservation(ctx, b.ReservationID); err == nil {
		return ErrBookingExists
	}
	return ErrBookingOverlap
}

func (r *PostgresRepository) FindByReservation(ctx context.Context, reservationID uuid.UUID) (Booking, error) {
	query := `
		SELECT id, resource_id, starts_at, ends_at, payer_contact, payment_status,
			payment_intent_ref, amount_cents, currency, created_from_reservation_id, created_at
		FROM bookings
		WHERE created_from_reservation_id = $1
	`
	var b Booking
	err := r.db.Conn(ctx).QueryRow(ctx, query, reservationID).Scan(
		&b.ID, &b.ResourceID, &b.StartTime, &b.EndTime, &b.PayerContact, &b.PaymentStatus,
		&b.PaymentIntentRef, &b.AmountCents, &b.Currency, &b.ReservationID, &b.CreatedAt,
	)
	if err != nil {
		if database.IsNoRows(err) {
			return Booking{}, ErrBookingNotFound
		}
		return Booking{}, fmt.Errorf("bookings: find by reservation: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) HasConfirmedOverlap(ctx context.Context, resourceID uuid.UUID, start, end time.Time, excludeReservationID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE resource_id = $1
			  AND tstzrange(starts_at, ends_at, '[)') && tstzrange($2, $3, '[)')
			  AND created_from_reservation_id <> $4
		)
	`
	var exists bool
	if err := r.db.Conn(ctx).QueryRow(ctx, query, resourceID, start, end, excludeReservationID).Scan(&exists); err != nil {
		return false, fmt.Errorf("bookings: overlap check: %w", err)
	}
	return exists, nil
}

// InMemoryRepository keeps bookings in a slice for tests and local runs.
type InMemoryRepository struct {
	mu   sync.RWMutex
	rows []Booking
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

func (r *InMemoryRepository) Insert(_ context.Context, b Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.ReservationID == b.ReservationID {
			return ErrBookingExists
		}
	}
	for _, existing := range r.rows {
		if existing.ResourceID == b.ResourceID && existing.StartTime.Before(b.EndTime) && b.StartTime.Before(existing.EndTime) {
			return ErrBookingOverlap
		}
	}
	r.rows = append(r.rows, b)
	return nil
}

func (r *InMemoryRepository) FindByReservation(_ context.Context, reservationID uuid.UUID) (Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.rows {
		if b.ReservationID == reservationID {
			return b, nil
		}
	}
	return Booking{}, ErrBookingNotFound
}

func (r *InMemoryRepository) HasConfirmedOverlap(_ context.Context, resourceID uuid.UUID, start, end time.Time, excludeReservationID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.rows {
		if b.ResourceID == resourceID && b.ReservationID != excludeReservationID && b.StartTime.Before(end) && start.Before(b.EndTime) {
			return true, nil
		}
	}
	return false, nil
}

// All returns a snapshot of every booking.
func (r *InMemoryRepository) All() []Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Booking, len(r.rows))
	copy(out, r.rows)
	return out
}
