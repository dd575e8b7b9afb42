package refunds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/bookingcore/internal/conflicts"
	"github.com/wolfman30/bookingcore/internal/database"
)

var (
	ErrRecordNotFound      = errors.New("refunds: record not found")
	ErrRemediationNotFound = errors.New("refunds: remediation not found")
	ErrAlreadyResolved     = errors.New("refunds: remediation already resolved")
)

// Record is an issued refund. Rows are append only, one per payment intent.
type Record struct {
	ID               uuid.UUID      `json:"id"`
	PaymentIntentRef string         `json:"payment_intent_ref"`
	RefundRef        string         `json:"refund_ref"`
	ReservationID    uuid.UUID      `json:"reservation_id"`
	AmountCents      int64          `json:"amount_cents"`
	Percentage       int            `json:"percentage"`
	ConflictKind     conflicts.Kind `json:"conflict_kind"`
	IssuedAt         time.Time      `json:"issued_at"`
}

// Remediation is a failed refund waiting for an operator.
type Remediation struct {
	ID               uuid.UUID      `json:"id"`
	PaymentIntentRef string         `json:"payment_intent_ref"`
	ReservationID    uuid.UUID      `json:"reservation_id"`
	AmountCents      int64          `json:"amount_cents"`
	ConflictKind     conflicts.Kind `json:"conflict_kind"`
	Error            string         `json:"error"`
	CreatedAt        time.Time      `json:"created_at"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy       string         `json:"resolved_by,omitempty"`
	ResolutionNote   string         `json:"resolution_note,omitempty"`
}

// Repository persists refund records and the remediation queue.
type Repository interface {
	FindByIntent(ctx context.Context, intentRef string) (Record, error)
	// InsertRecord stores rec unless a record for the same intent exists,
	// in which case the existing row is returned.
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	InsertRemediation(ctx context.Context, rem Remediation) error
	ListRemediations(ctx context.Context, includeResolved bool, limit int) ([]Remediation, error)
	ResolveRemediation(ctx context.Context, id uuid.UUID, by, note string, at time.Time) (Remediation, error)
}

// PostgresRepository stores refunds in refund_records and refund_remediations.
type PostgresRepository struct {
	db *database.TxManager
}

func NewPostgresRepository(db *database.TxManager) *PostgresRepository {
	if db == nil {
		panic("refunds: tx manager required")
	}
	return &PostgresRepository{db: db}
}

const recordColumns = `id, payment_intent_ref, refund_ref, reservation_id, amount_cents, percentage, conflict_kind, issued_at`

func (r *PostgresRepository) FindByIntent(ctx context.Context, intentRef string) (Record, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `SELECT `+recordColumns+` FROM refund_records WHERE payment_intent_ref = $1`, intentRef)
	rec, err := scanRecord(row)
	if err != nil {
		if database.IsNoRows(err) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("refunds: find record: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	query := `
		INSERT INTO refund_records (id, payment_intent_ref, refund_ref, reservation_id, amount_cents, percentage, conflict_kind, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_intent_ref) DO NOTHING
	`
	ct, err := r.db.Conn(ctx).Exec(ctx, query,
		rec.ID, rec.PaymentIntentRef, rec.RefundRef, rec.ReservationID,
		rec.AmountCents, rec.Percentage, string(rec.ConflictKind), rec.IssuedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("refunds: insert record: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return r.FindByIntent(ctx, rec.PaymentIntentRef)
	}
	return rec, nil
}

func (r *PostgresRepository) InsertRemediation(ctx context.Context, rem Remediation) error {
	query := `
		INSERT INTO refund_remediations (id, payment_intent_ref, reservation_id, amount_cents, conflict_kind, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Conn(ctx).Exec(ctx, query,
		rem.ID, rem.PaymentIntentRef, rem.ReservationID, rem.AmountCents,
		string(rem.ConflictKind), rem.Error, rem.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("refunds: insert remediation: %w", err)
	}
	return nil
}

const remediationColumns = `id, payment_intent_ref, reservation_id, amount_cents, conflict_kind, error,
	created_at, resolved_at, resolved_by, resolution_note`

func (r *PostgresRepository) ListRemediations(ctx context.Context, includeResolved bool, limit int) ([]Remediation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + remediationColumns + ` FROM refund_remediations`
	if !includeResolved {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY created_at ASC LIMIT $1`

	rows, err := r.db.Conn(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("refunds: list remediations: %w", err)
	}
	defer rows.Close()

	var out []Remediation
	for rows.Next() {
		rem, err := scanRemediation(rows)
		if err != nil {
			return nil, fmt.Errorf("refunds: scan remediation: %w", err)
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("refunds: list remediations: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ResolveRemediation(ctx context.Context, id uuid.UUID, by, note string, at time.Time) (Remediation, error) {
	var rem Remediation
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		current, err := scanRemediation(r.db.Conn(ctx).QueryRow(ctx,
			`SELECT `+remediationColumns+` FROM refund_remediations WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if database.IsNoRows(err) {
				return ErrRemediationNotFound
			}
			return fmt.Errorf("refunds: load remediation: %w", err)
		}
		if current.ResolvedAt != nil {
			return ErrAlreadyResolved
		}
		if _, err := r.db.Conn(ctx).Exec(ctx, `
			UPDATE refund_remediations
			SET resolved_at = $2, resolved_by = $3, resolution_note = $4
			WHERE id = $1
		`, id, at, by, note); err != nil {
			return fmt.Errorf("refunds: resolve remediation: %w", err)
		}
		current.ResolvedAt = &at
		current.ResolvedBy = by
		current.ResolutionNote = note
		rem = current
		return nil
	})
	return rem, err
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec  Record
		kind string
	)
	if err := row.Scan(&rec.ID, &rec.PaymentIntentRef, &rec.RefundRef, &rec.ReservationID,
		&rec.AmountCents, &rec.Percentage, &kind, &rec.IssuedAt); err != nil {
		return Record{}, err
	}
	rec.ConflictKind = conflicts.Kind(kind)
	return rec, nil
}

func scanRemediation(row pgx.Row) (Remediation, error) {
	var (
		rem        Remediation
		kind       string
		resolvedBy *string
		note       *string
	)
	if err := row.Scan(&rem.ID, &rem.PaymentIntentRef, &rem.ReservationID, &rem.AmountCents, &kind,
		&rem.Error, &rem.CreatedAt, &rem.ResolvedAt, &resolvedBy, &note); err != nil {
		return Remediation{}, err
	}
	rem.ConflictKind = conflicts.Kind(kind)
	if resolvedBy != nil {
		rem.ResolvedBy = *resolvedBy
	}
	if note != nil {
		rem.ResolutionNote = *note
	}
	return rem, nil
}

// MemoryRepository keeps refunds in process for tests and local runs.
type MemoryRepository struct {
	mu           sync.Mutex
	records      map[string]Record
	remediations map[uuid.UUID]Remediation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:      make(map[string]Record),
		remediations: make(map[uuid.UUID]Remediation),
	}
}

func (m *MemoryRepository) FindByIntent(_ context.Context, intentRef string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[intentRef]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (m *MemoryRepository) InsertRecord(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.PaymentIntentRef]; ok {
		return existing, nil
	}
	m.records[rec.PaymentIntentRef] = rec
	return rec, nil
}

func (m *MemoryRepository) InsertRemediation(_ context.Context, rem Remediation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remediations[rem.ID] = rem
	return nil
}

func (m *MemoryRepository) ListRemediations(_ context.Context, includeResolved bool, limit int) ([]Remediation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Remediation, 0, len(m.remediations))
	for _, rem := range m.remediations {
		if rem.ResolvedAt != nil && !includeResolved {
			continue
		}
		out = append(out, rem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) ResolveRemediation(_ context.Context, id uuid.UUID, by, note string, at time.Time) (Remediation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem, ok := m.remediations[id]
	if !ok {
		return Remediation{}, ErrRemediationNotFound
	}
	if rem.ResolvedAt != nil {
		return Remediation{}, ErrAlreadyResolved
	}
	rem.ResolvedAt = &at
	rem.ResolvedBy = by
	rem.ResolutionNote = note
	m.remediations[id] = rem
	return rem, nil
}

// Records returns every stored record.
func (m *MemoryRepository) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}
