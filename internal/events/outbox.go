package events

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/bookingcore/internal/database"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

// OutboxEntry represents a pending event.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	Type        string
	Payload     json.RawMessage
	Attempts    int
	CreatedAt   time.Time
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// DeliveryHandlerFunc adapts a function to DeliveryHandler.
type DeliveryHandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f DeliveryHandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error {
	return f(ctx, entry)
}

// OutboxStore persists events for reliable delivery. Inserts join the
// transaction carried in ctx, so an entry commits or rolls back with the
// state change that produced it.
type OutboxStore struct {
	db    *database.TxManager
	lease time.Duration
}

func NewOutboxStore(db *database.TxManager) *OutboxStore {
	if db == nil {
		panic("events: tx manager required")
	}
	return &OutboxStore{db: db, lease: 5 * time.Minute}
}

// WithLease sets how long a claimed entry stays hidden from other workers
// before it is considered abandoned.
func (s *OutboxStore) WithLease(lease time.Duration) *OutboxStore {
	if lease > 0 {
		s.lease = lease
	}
	return s
}

func (s *OutboxStore) Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	query := `
		INSERT INTO outbox (id, aggregate_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.Conn(ctx).Exec(ctx, query, id, aggregateID, eventType, data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

// ClaimPending leases up to limit undelivered entries that still have
// attempts left. Rows locked or leased by another worker are skipped, so
// concurrent deliverers never hand out the same entry twice.
func (s *OutboxStore) ClaimPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error) {
	query := `
		UPDATE outbox
		SET claimed_until = now() + make_interval(secs => $3)
		WHERE id IN (
			SELECT id FROM outbox
			WHERE delivered_at IS NULL AND attempts < $2
			  AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_id, type, payload, attempts, created_at
	`
	rows, err := s.db.Conn(ctx).Query(ctx, query, limit, maxAttempts, s.lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("events: claim pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.AggregateID, &entry.Type, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: claim pending: %w", err)
	}
	// RETURNING carries no order.
	slices.SortStableFunc(entries, func(a, b OutboxEntry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return entries, nil
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now(), claimed_until = NULL
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.db.Conn(ctx).Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// RecordFailure bumps the attempt counter, keeps the last error and drops the
// lease so the entry is retried on the next poll.
func (s *OutboxStore) RecordFailure(ctx context.Context, id uuid.UUID, cause error) error {
	query := `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2, claimed_until = NULL
		WHERE id = $1 AND delivered_at IS NULL
	`
	if _, err := s.db.Conn(ctx).Exec(ctx, query, id, cause.Error()); err != nil {
		return fmt.Errorf("events: record failure: %w", err)
	}
	return nil
}

type outboxStore interface {
	ClaimPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	RecordFailure(ctx context.Context, id uuid.UUID, cause error) error
}

// Deliverer polls the outbox and invokes the handler.
type Deliverer struct {
	store       outboxStore
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	maxAttempts int
	interval    time.Duration
	observe     func(eventType, outcome string)
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	return newDeliverer(store, handler, logger)
}

func newDeliverer(store outboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger,
		batchSize:   25,
		maxAttempts: 8,
		interval:    2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithMaxAttempts caps how many times a failing entry is retried.
func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// WithObserver registers a callback invoked after each delivery attempt.
func (d *Deliverer) WithObserver(fn func(eventType, outcome string)) *Deliverer {
	d.observe = fn
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain delivers one batch and returns how many entries were delivered.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.ClaimPending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		d.logger.Error("outbox claim failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.logger.Error("outbox delivery failed", "error", err, "event_id", entry.ID, "type", entry.Type, "attempts", entry.Attempts+1)
			if recErr := d.store.RecordFailure(ctx, entry.ID, err); recErr != nil {
				d.logger.Error("failed to record outbox failure", "error", recErr, "event_id", entry.ID)
			}
			if entry.Attempts+1 >= d.maxAttempts {
				d.logger.Warn("outbox entry exhausted retries", "event_id", entry.ID, "type", entry.Type)
				d.record(entry.Type, "exhausted")
			} else {
				d.record(entry.Type, "failed")
			}
			continue
		}
		if ok, err := d.store.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
		} else if ok {
			delivered++
			d.record(entry.Type, "delivered")
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
	return delivered
}

func (d *Deliverer) record(eventType, outcome string) {
	if d.observe != nil {
		d.observe(eventType, outcome)
	}
}

// Mux routes entries to handlers by type. Unknown types are logged and
// treated as delivered so they do not block the queue.
type Mux struct {
	handlers map[string]DeliveryHandler
	logger   *logging.Logger
}

func NewMux(logger *logging.Logger) *Mux {
	if logger == nil {
		logger = logging.Default()
	}
	return &Mux{handlers: make(map[string]DeliveryHandler), logger: logger}
}

// Register binds a handler to an entry type.
func (m *Mux) Register(eventType string, handler DeliveryHandler) {
	m.handlers[eventType] = handler
}

func (m *Mux) Handle(ctx context.Context, entry OutboxEntry) error {
	handler, ok := m.handlers[entry.Type]
	if !ok {
		m.logger.Warn("no outbox handler registered", "type", entry.Type, "event_id", entry.ID)
		return nil
	}
	return handler.Handle(ctx, entry)
}
