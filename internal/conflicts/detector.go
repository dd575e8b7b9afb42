// Package conflicts decides whether a paid reservation can still become a
// booking, reporting the first calendar rule it breaks.
package conflicts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/bookingcore/internal/clock"
	"github.com/wolfman30/bookingcore/internal/reservations"
	"github.com/wolfman30/bookingcore/pkg/logging"
)

var tracer = otel.Tracer("bookingcore.internal.conflicts")

// Kind names the rule a reservation broke.
type Kind string

const (
	KindNone               Kind = "none"
	KindBlockedDate        Kind = "blocked_date"
	KindTimeOverlap        Kind = "time_overlap"
	KindMinimumNotice      Kind = "minimum_notice"
	KindReservationExpired Kind = "reservation_expired"
)

// Record is the outcome of a conflict check. It is never persisted on its
// own; the kind travels into refund requests and records.
type Record struct {
	ReservationID uuid.UUID
	Kind          Kind
	DetectedAt    time.Time
}

// IsConflict reports whether the check found anything.
func (r Record) IsConflict() bool {
	return r.Kind != KindNone
}

// BookingLookup answers whether a confirmed booking occupies a range.
type BookingLookup interface {
	HasConfirmedOverlap(ctx context.Context, resourceID uuid.UUID, start, end time.Time, excludeReservationID uuid.UUID) (bool, error)
}

// Detector runs the calendar rules in a fixed order: blocked date, then
// time overlap, then minimum notice. The first match wins.
type Detector struct {
	calendar CalendarRepository
	bookings BookingLookup
	clock    clock.Clock
	logger   *logging.Logger
}

func NewDetector(calendar CalendarRepository, bookings BookingLookup, clk clock.Clock, logger *logging.Logger) *Detector {
	if calendar == nil || bookings == nil {
		panic("conflicts: calendar and booking lookup required")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{calendar: calendar, bookings: bookings, clock: clk, logger: logger}
}

// CheckConflict evaluates res against the calendar as it is now. Reads use
// the transaction in ctx when there is one.
func (d *Detector) CheckConflict(ctx context.Context, res reservations.Reservation) (Record, error) {
	ctx, span := tracer.Start(ctx, "conflicts.check")
	defer span.End()
	span.SetAttributes(attribute.String("bookingcore.reservation_id", res.ID.String()))

	now := d.clock.Now()
	record := Record{ReservationID: res.ID, Kind: KindNone, DetectedAt: now}

	resource, err := d.calendar.Resource(ctx, res.ResourceID)
	if errors.Is(err, ErrResourceNotFound) {
		d.logger.Warn("resource missing from calendar, using defaults", "resource_id", res.ResourceID)
		resource = Resource{ID: res.ResourceID, Location: time.UTC}
	} else if err != nil {
		span.RecordError(err)
		return Record{}, fmt.Errorf("conflicts: load resource: %w", err)
	}

	from, to := coveredDays(res.StartTime, res.EndTime, resource.location())
	blocked, err := d.calendar.HasBlockedPeriod(ctx, res.ResourceID, from, to)
	if err != nil {
		span.RecordError(err)
		return Record{}, fmt.Errorf("conflicts: blocked periods: %w", err)
	}
	if blocked {
		record.Kind = KindBlockedDate
		return d.found(span, record), nil
	}

	overlap, err := d.bookings.HasConfirmedOverlap(ctx, res.ResourceID, res.StartTime, res.EndTime, res.ID)
	if err != nil {
		span.RecordError(err)
		return Record{}, fmt.Errorf("conflicts: booking overlap: %w", err)
	}
	if overlap {
		record.Kind = KindTimeOverlap
		return d.found(span, record), nil
	}

	if res.StartTime.Sub(now) < resource.MinimumNotice {
		record.Kind = KindMinimumNotice
		return d.found(span, record), nil
	}

	span.SetAttributes(attribute.String("bookingcore.conflict_kind", string(KindNone)))
	return record, nil
}

func (d *Detector) found(span trace.Span, record Record) Record {
	span.SetAttributes(attribute.String("bookingcore.conflict_kind", string(record.Kind)))
	d.logger.Info("booking conflict detected", "reservation_id", record.ReservationID, "conflict_kind", record.Kind)
	return record
}

// coveredDays returns the local calendar days touched by [start, end) as a
// half-open instant range.
func coveredDays(start, end time.Time, loc *time.Location) (time.Time, time.Time) {
	ls := start.In(loc)
	first := time.Date(ls.Year(), ls.Month(), ls.Day(), 0, 0, 0, 0, loc)
	le := end.Add(-time.Nanosecond).In(loc)
	last := time.Date(le.Year(), le.Month(), le.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return first.UTC(), last.UTC()
}
