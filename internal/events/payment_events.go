package events

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/bookingcore/internal/database"
)

// PaymentEvent is the deduplication record for one processor notification.
type PaymentEvent struct {
	ExternalEventID  string
	Provider         string
	Kind             string
	PaymentIntentRef string
	Payload          []byte
	ReceivedAt       time.Time
	ProcessedAt      *time.Time
	Attempts         int
	LastError        string
}

// PaymentEventStore records webhook events and whether they were handled.
type PaymentEventStore struct {
	db *database.TxManager
}

func NewPaymentEventStore(db *database.TxManager) *PaymentEventStore {
	if db == nil {
		panic("events: tx manager required")
	}
	return &PaymentEventStore{db: db}
}

// Record inserts the event if it has not been seen, returning false when a
// row with the same external id already exists.
func (s *PaymentEventStore) Record(ctx context.Context, evt PaymentEvent) (bool, error) {
	query := `
		INSERT INTO payment_events (external_event_id, provider, kind, payment_intent_ref, payload)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (external_event_id) DO NOTHING
	`
	payload := evt.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	ct, err := s.db.Conn(ctx).Exec(ctx, query, evt.ExternalEventID, evt.Provider, evt.Kind, evt.PaymentIntentRef, payload)
	if err != nil {
		return false, fmt.Errorf("events: record payment event: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// IsProcessed reports whether the event has already been handled.
func (s *PaymentEventStore) IsProcessed(ctx context.Context, externalID string) (bool, error) {
	query := `SELECT processed_at IS NOT NULL FROM payment_events WHERE external_event_id = $1`
	var processed bool
	if err := s.db.Conn(ctx).QueryRow(ctx, query, externalID).Scan(&processed); err != nil {
		if database.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return processed, nil
}

// LockForProcessing takes a row lock on the event inside the transaction in
// ctx and reports whether it was already processed. Concurrent deliveries of
// the same event serialize here.
func (s *PaymentEventStore) LockForProcessing(ctx context.Context, externalID string) (bool, error) {
	if database.TxFromContext(ctx) == nil {
		return false, fmt.Errorf("events: lock payment event: transaction required")
	}
	query := `
		SELECT processed_at IS NOT NULL
		FROM payment_events
		WHERE external_event_id = $1
		FOR UPDATE
	`
	var processed bool
	if err := s.db.Conn(ctx).QueryRow(ctx, query, externalID).Scan(&processed); err != nil {
		return false, fmt.Errorf("events: lock payment event: %w", err)
	}
	return processed, nil
}

// MarkProcessed stamps processed_at. It never overwrites an earlier stamp.
func (s *PaymentEventStore) MarkProcessed(ctx context.Context, externalID string) error {
	query := `
		UPDATE payment_events
		SET processed_at = now(), attempts = attempts + 1, last_error = NULL
		WHERE external_event_id = $1 AND processed_at IS NULL
	`
	if _, err := s.db.Conn(ctx).Exec(ctx, query, externalID); err != nil {
		return fmt.Errorf("events: mark processed: %w", err)
	}
	return nil
}

// RecordFailure keeps the attempt count and last error for an event whose
// handling was rolled back.
func (s *PaymentEventStore) RecordFailure(ctx context.Context, externalID string, cause error) error {
	query := `
		UPDATE payment_events
		SET attempts = attempts + 1, last_error = $2
		WHERE external_event_id = $1 AND processed_at IS NULL
	`
	if _, err := s.db.Conn(ctx).Exec(ctx, query, externalID, cause.Error()); err != nil {
		return fmt.Errorf("events: record failure: %w", err)
	}
	return nil
}
