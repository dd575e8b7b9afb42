package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/bookingcore/internal/clock"
	"github.com/wolfman30/bookingcore/internal/observability/metrics"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

var tracer = otel.Tracer("bookingcore.internal.reservations")

// Manager is the only writer of live reservation rows outside the booking
// state machine.
type Manager struct {
	repo    Repository
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

type ManagerOption func(*Manager)

// WithMetrics records reservation outcomes.
func WithMetrics(m *metrics.BookingMetrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

func NewManager(repo Repository, clk clock.Clock, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if repo == nil {
		panic("reservations: repository required")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{repo: repo, clock: clk, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateInput describes a new hold. ID may be pre-generated by the caller so
// it can be embedded in the payment session before the row exists.
type CreateInput struct {
	ID            uuid.UUID
	ResourceID    uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
	HolderContact string
	SessionRef    string
	Path          PaymentPath
	TTL           time.Duration
	AmountCents   int64
	Currency      string
}

func (in CreateInput) validate() error {
	if in.ResourceID == uuid.Nil || strings.TrimSpace(in.HolderContact) == "" || strings.TrimSpace(in.SessionRef) == "" {
		return ErrInvalidInput
	}
	if in.StartTime.IsZero() || in.EndTime.IsZero() || !in.EndTime.After(in.StartTime) {
		return ErrInvalidRange
	}
	if in.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	return nil
}

// Create places a hold. Stale held rows overlapping the range are expired in
// the same transaction, then the insert either wins the slot or fails with
// ErrSlotConflict.
func (m *Manager) Create(ctx context.Context, in CreateInput) (Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservations.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("bookingcore.resource_id", in.ResourceID.String()),
		attribute.String("bookingcore.payment_path", string(in.Path)),
	)

	if err := in.validate(); err != nil {
		return Reservation{}, err
	}

	now := m.clock.Now()
	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	path := in.Path
	if path == "" {
		path = PathImmediate
	}
	res := Reservation{
		ID:            id,
		ResourceID:    in.ResourceID,
		StartTime:     in.StartTime.UTC(),
		EndTime:       in.EndTime.UTC(),
		HolderContact: strings.TrimSpace(in.HolderContact),
		SessionRef:    in.SessionRef,
		Path:          path,
		AmountCents:   in.AmountCents,
		Currency:      strings.ToLower(in.Currency),
		Status:        StatusHeld,
		ExpiresAt:     now.Add(in.TTL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := m.repo.WithTx(ctx, func(ctx context.Context) error {
		expired, err := m.repo.ExpireOverlapping(ctx, res.ResourceID, res.StartTime, res.EndTime, now)
		if err != nil {
			return err
		}
		if expired > 0 {
			m.logger.Info("expired stale overlapping reservations", "resource_id", res.ResourceID, "count", expired)
		}
		return m.repo.Insert(ctx, res)
	})
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			m.metrics.ObserveReservation("conflict", string(path))
			m.logger.Info("reservation slot conflict",
				"resource_id", res.ResourceID,
				"starts_at", res.StartTime,
				"ends_at", res.EndTime,
			)
			span.SetAttributes(attribute.Bool("bookingcore.slot_conflict", true))
			return Reservation{}, ErrSlotConflict
		}
		span.RecordError(err)
		return Reservation{}, err
	}

	m.metrics.ObserveReservation("created", string(path))
	m.logger.Info("reservation created",
		"reservation_id", res.ID,
		"resource_id", res.ResourceID,
		"payment_path", res.Path,
		"expires_at", res.ExpiresAt,
	)
	return res, nil
}

// AttachPaymentIntent binds the processor's payment intent to the hold.
// Attaching the same value again is a no-op.
func (m *Manager) AttachPaymentIntent(ctx context.Context, reservationID uuid.UUID, intentRef string) error {
	if strings.TrimSpace(intentRef) == "" {
		return ErrInvalidInput
	}
	return m.repo.WithTx(ctx, func(ctx context.Context) error {
		res, err := m.repo.GetForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		switch res.IntentRef {
		case intentRef:
			return nil
		case "":
			return m.repo.SetIntentRef(ctx, reservationID, intentRef, m.clock.Now())
		default:
			return ErrIntentMismatch
		}
	})
}

// Release frees a held slot. Releasing a row that already left the live
// state is a no-op.
func (m *Manager) Release(ctx context.Context, reservationID uuid.UUID, reason string) error {
	if reason == "" {
		reason = ReasonCancelled
	}
	return m.repo.WithTx(ctx, func(ctx context.Context) error {
		res, err := m.repo.GetForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if !res.IsLive() {
			return nil
		}
		if _, err := m.repo.Transition(ctx, reservationID, StatusHeld, StatusReleased, reason, m.clock.Now()); err != nil {
			return err
		}
		m.logger.Info("reservation released", "reservation_id", reservationID, "reason", reason)
		return nil
	})
}

// Sweep expires every held row whose TTL elapsed before now. Converted rows
// are never touched.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "reservations.sweep")
	defer span.End()

	n, err := m.repo.ExpireDue(ctx, now)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("bookingcore.swept", n))
	m.metrics.ObserveSwept(n)
	if n > 0 {
		m.logger.Info("expired reservations swept", "count", n, "as_of", now)
	}
	return n, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return m.repo.Get(ctx, id)
}

func (m *Manager) FindByIntentRef(ctx context.Context, intentRef string) (Reservation, error) {
	return m.repo.FindByIntentRef(ctx, intentRef)
}

func (m *Manager) FindBySessionRef(ctx context.Context, sessionRef string) (Reservation, error) {
	return m.repo.FindBySessionRef(ctx, sessionRef)
}

// Now exposes the manager's clock to collaborators that must agree with it.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// SlotTaken reports whether a live, unexpired hold or a confirmed booking
// overlaps the range. It is an advisory pre-check; Create remains
// authoritative.
func (m *Manager) SlotTaken(ctx context.Context, resourceID uuid.UUID, start, end time.Time) (bool, error) {
	return m.repo.HasLiveOverlap(ctx, resourceID, start.UTC(), end.UTC(), m.clock.Now())
}
