package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/bookingcore/internal/database"
)

// Repository persists reservations. Methods called inside WithTx share one
// transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Insert(ctx context.Context, r Reservation) error
	ExpireOverlapping(ctx context.Context, resourceID uuid.UUID, start, end, now time.Time) (int, error)
	HasLiveOverlap(ctx context.Context, resourceID uuid.UUID, start, end, now time.Time) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (Reservation, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error)
	FindByIntentRef(ctx context.Context, intentRef string) (Reservation, error)
	FindBySessionRef(ctx context.Context, sessionRef string) (Reservation, error)
	SetIntentRef(ctx context.Context, id uuid.UUID, intentRef string, now time.Time) error
	Transition(ctx context.Context, id uuid.UUID, from, to Status, reason string, now time.Time) (bool, error)
	MarkRefundRequested(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// PostgresRepository stores reservations in slot_reservations. The table's
// exclusion constraint is the source of truth for the no-overlap rule.
type PostgresRepository struct {
	db *database.TxManager
}

func NewPostgresRepository(db *database.TxManager) *PostgresRepository {
	if db == nil {
		panic("reservations: tx manager required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithTx(ctx, fn)
}

const reservationColumns = `id, resource_id, starts_at, ends_at, holder_contact, payment_session_ref,
	payment_intent_ref, payment_path, amount_cents, currency, status, release_reason,
	refund_requested_at, expires_at, created_at, updated_at`

func (r *PostgresRepository) Insert(ctx context.Context, res Reservation) error {
	query := `
		INSERT INTO slot_reservations (id, resource_id, starts_at, ends_at, holder_contact,
			payment_session_ref, payment_intent_ref, payment_path, amount_cents, currency,
			status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13, $13)
	`
	_, err := r.db.Conn(ctx).Exec(ctx, query,
		res.ID, res.ResourceID, res.StartTime, res.EndTime, res.HolderContact,
		res.SessionRef, res.IntentRef, string(res.Path), res.AmountCents, res.Currency,
		string(res.Status), res.ExpiresAt, res.CreatedAt,
	)
	switch {
	case err == nil:
		return nil
	case database.IsExclusionViolation(err):
		return ErrSlotConflict
	case database.IsUniqueViolation(err):
		return ErrDuplicateSession
	default:
		return fmt.Errorf("reservations: insert: %w", err)
	}
}

func (r *PostgresRepository) ExpireOverlapping(ctx context.Context, resourceID uuid.UUID, start, end, now time.Time) (int, error) {
	query := `
		UPDATE slot_reservations
		SET status = 'expired', release_reason = $5, updated_at = $4
		WHERE resource_id = $1
		  AND status = 'held'
		  AND expires_at <= $4
		  AND tstzrange(starts_at, ends_at, '[)') && tstzrange($2, $3, '[)')
	`
	ct, err := r.db.Conn(ctx).Exec(ctx, query, resourceID, start, end, now, ReasonExpired)
	if err != nil {
		return 0, fmt.Errorf("reservations: expire overlapping: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (r *PostgresRepository) HasLiveOverlap(ctx context.Context, resourceID uuid.UUID, start, end, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM slot_reservations
			WHERE resource_id = $1
			  AND (status = 'converted' OR (status = 'held' AND expires_at > $4))
			  AND tstzrange(starts_at, ends_at, '[)') && tstzrange($2, $3, '[)')
		) OR EXISTS (
			SELECT 1 FROM bookings
			WHERE resource_id = $1
			  AND tstzrange(starts_at, ends_at, '[)') && tstzrange($2, $3, '[)')
		)
	`
	var exists bool
	if err := r.db.Conn(ctx).QueryRow(ctx, query, resourceID, start, end, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("reservations: overlap check: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return r.getOne(ctx, `SELECT `+reservationColumns+` FROM slot_reservations WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return r.getOne(ctx, `SELECT `+reservationColumns+` FROM slot_reservations WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) FindByIntentRef(ctx context.Context, intentRef string) (Reservation, error) {
	return r.getOne(ctx, `SELECT `+reservationColumns+` FROM slot_reservations WHERE payment_intent_ref = $1`, intentRef)
}

func (r *PostgresRepository) FindBySessionRef(ctx context.Context, sessionRef string) (Reservation, error) {
	return r.getOne(ctx, `SELECT `+reservationColumns+` FROM slot_reservations WHERE payment_session_ref = $1`, sessionRef)
}

func (r *PostgresRepository) SetIntentRef(ctx context.Context, id uuid.UUID, intentRef string, now time.Time) error {
	query := `
		UPDATE slot_reservations
		SET payment_intent_ref = $2, updated_at = $3
		WHERE id = $1 AND payment_intent_ref IS NULL
	`
	ct, err := r.db.Conn(ctx).Exec(ctx, query, id, intentRef, now)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrIntentMismatch
		}
		return fmt.Errorf("reservations: set intent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrIntentMismatch
	}
	return nil
}

func (r *PostgresRepository) Transition(ctx context.Context, id uuid.UUID, from, to Status, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE slot_reservations
		SET status = $3, release_reason = NULLIF($4, ''), updated_at = $5
		WHERE id = $1 AND status = $2
	`
	ct, err := r.db.Conn(ctx).Exec(ctx, query, id, string(from), string(to), reason, now)
	if err != nil {
		return false, fmt.Errorf("reservations: transition %s->%s: %w", from, to, err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PostgresRepository) MarkRefundRequested(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE slot_reservations
		SET refund_requested_at = $2, updated_at = $2
		WHERE id = $1 AND refund_requested_at IS NULL
	`
	ct, err := r.db.Conn(ctx).Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("reservations: mark refund requested: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// ExpireDue moves every held row past its TTL to expired. The status guard
// makes the update skip rows another transaction converted while it waited
// on their lock.
func (r *PostgresRepository) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE slot_reservations
		SET status = 'expired', release_reason = $2, updated_at = $1
		WHERE status = 'held' AND expires_at < $1
	`
	ct, err := r.db.Conn(ctx).Exec(ctx, query, now, ReasonExpired)
	if err != nil {
		return 0, fmt.Errorf("reservations: sweep: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (Reservation, error) {
	res, err := scanReservation(r.db.Conn(ctx).QueryRow(ctx, query, arg))
	if err != nil {
		if database.IsNoRows(err) || database.IsInvalidUUID(err) {
			return Reservation{}, ErrReservationNotFound
		}
		return Reservation{}, fmt.Errorf("reservations: get: %w", err)
	}
	return res, nil
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var (
		res           Reservation
		intentRef     *string
		releaseReason *string
		path, status  string
	)
	err := row.Scan(
		&res.ID, &res.ResourceID, &res.StartTime, &res.EndTime, &res.HolderContact, &res.SessionRef,
		&intentRef, &path, &res.AmountCents, &res.Currency, &status, &releaseReason,
		&res.RefundRequestedAt, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return Reservation{}, err
	}
	if intentRef != nil {
		res.IntentRef = *intentRef
	}
	if releaseReason != nil {
		res.ReleaseReason = *releaseReason
	}
	res.Path = PaymentPath(path)
	res.Status = Status(status)
	res.StartTime = res.StartTime.UTC()
	res.EndTime = res.EndTime.UTC()
	res.ExpiresAt = res.ExpiresAt.UTC()
	return res, nil
}
