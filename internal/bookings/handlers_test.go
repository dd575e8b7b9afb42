package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/bookingcore/internal/calendar"
	"github.com/wolfman30/bookingcore/internal/clock"
	"github.com/wolfman30/bookingcore/internal/events"
	"github.com/wolfman30/bookingcore/internal/notify"
	"github.com/wolfman30/bookingcore/internal/payments"
	"github.com/wolfman30/bookingcore/internal/refunds"
)

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []notify.BookingConfirmed
	refunded  []notify.BookingRefunded
	err       error
}

func (n *recordingNotifier) NotifyBookingConfirmed(_ context.Context, msg notify.BookingConfirmed) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, msg)
	return n.err
}

func (n *recordingNotifier) NotifyBookingRefunded(_ context.Context, msg notify.BookingRefunded) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunded = append(n.refunded, msg)
	return n.err
}

type stubCalendar struct {
	events []calendar.Event
	err    error
}

func (c *stubCalendar) CreateEvent(_ context.Context, evt calendar.Event) error {
	c.events = append(c.events, evt)
	return c.err
}

type sideEffectsRig struct {
	effects  *SideEffects
	gateway  *payments.FakeGateway
	refunds  *refunds.MemoryRepository
	calendar *stubCalendar
	notifier *recordingNotifier
}

func newSideEffectsRig() *sideEffectsRig {
	clk := clock.NewFixed(baseTime)
	gw := payments.NewFakeGateway("", "whsec_test", clk, nil)
	repo := refunds.NewMemoryRepository()
	rig := &sideEffectsRig{
		gateway:  gw,
		refunds:  repo,
		calendar: &stubCalendar{},
		notifier: &recordingNotifier{},
	}
	rig.effects = NewSideEffects(refunds.NewEngine(gw, repo, clk, time.Second, nil), rig.calendar, rig.notifier, nil)
	return rig
}

func outboxEntry(t *testing.T, eventType string, payload any) events.OutboxEntry {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.OutboxEntry{ID: uuid.New(), Type: eventType, Payload: raw, CreatedAt: baseTime}
}

func refundPayload() events.RefundRequestedV1 {
	return events.RefundRequestedV1{
		ReservationID:    uuid.New(),
		PaymentIntentRef: "pi_1",
		HolderContact:    "payer@example.com",
		AmountCents:      5000,
		Currency:         "usd",
		Percentage:       100,
		ConflictKind:     "blocked_date",
		RequestedAt:      baseTime,
	}
}

func TestRefundRequestedIssuesRefundOnce(t *testing.T) {
	rig := newSideEffectsRig()
	mux := events.NewMux(nil)
	rig.effects.Register(mux)
	entry := outboxEntry(t, events.TypeRefundRequested, refundPayload())

	require.NoError(t, mux.Handle(context.Background(), entry))
	require.NoError(t, mux.Handle(context.Background(), entry))

	assert.Equal(t, 1, rig.gateway.Calls("issue_refund"))
	records := rig.refunds.Records()
	require.Len(t, records, 1)
	assert.Equal(t, int64(5000), records[0].AmountCents)

	require.Len(t, rig.notifier.refunded, 2)
	assert.Equal(t, records[0].RefundRef, rig.notifier.refunded[0].RefundRef)
	assert.Equal(t, "blocked_date", rig.notifier.refunded[0].ConflictKind)
}

func TestRefundRequestedFailureIsAcknowledged(t *testing.T) {
	rig := newSideEffectsRig()
	rig.gateway.FailRefunds(errors.New("card_declined"))
	entry := outboxEntry(t, events.TypeRefundRequested, refundPayload())

	require.NoError(t, rig.effects.HandleRefundRequested(context.Background(), entry))

	rems, err := rig.refunds.ListRemediations(context.Background(), false, 10)
	require.NoError(t, err)
	require.Len(t, rems, 1)
	assert.Equal(t, "pi_1", rems[0].PaymentIntentRef)
	assert.Empty(t, rig.notifier.refunded)
}

func TestRefundRequestedNotificationFailureDoesNotRetry(t *testing.T) {
	rig := newSideEffectsRig()
	rig.notifier.err = errors.New("smtp down")
	entry := outboxEntry(t, events.TypeRefundRequested, refundPayload())

	require.NoError(t, rig.effects.HandleRefundRequested(context.Background(), entry))
	assert.Len(t, rig.refunds.Records(), 1)
}

func TestCalendarCreateReturnsErrorsForRetry(t *testing.T) {
	rig := newSideEffectsRig()
	payload := events.CalendarEventRequestedV1{
		BookingID:  uuid.New(),
		ResourceID: uuid.New(),
		StartsAt:   baseTime.Add(time.Hour),
		EndsAt:     baseTime.Add(2 * time.Hour),
		Attendee:   "payer@example.com",
	}
	entry := outboxEntry(t, events.TypeCalendarCreate, payload)

	require.NoError(t, rig.effects.HandleCalendarCreate(context.Background(), entry))
	require.Len(t, rig.calendar.events, 1)
	assert.Equal(t, payload.BookingID, rig.calendar.events[0].BookingID)
	assert.True(t, payload.StartsAt.Equal(rig.calendar.events[0].Start))

	rig.calendar.err = errors.New("calendar unavailable")
	assert.Error(t, rig.effects.HandleCalendarCreate(context.Background(), entry))
}

func TestBookingConfirmedNotifies(t *testing.T) {
	rig := newSideEffectsRig()
	rig.notifier.err = errors.New("provider down")
	payload := events.BookingConfirmedV1{
		BookingID:    uuid.New(),
		ResourceID:   uuid.New(),
		StartsAt:     baseTime.Add(time.Hour),
		EndsAt:       baseTime.Add(2 * time.Hour),
		PayerContact: "payer@example.com",
		AmountCents:  5000,
		Currency:     "usd",
	}

	require.NoError(t, rig.effects.HandleBookingConfirmed(context.Background(), outboxEntry(t, events.TypeBookingConfirmed, payload)))
	require.Len(t, rig.notifier.confirmed, 1)
	assert.Equal(t, payload.BookingID, rig.notifier.confirmed[0].BookingID)
}

func TestUndecodablePayloadsAreDropped(t *testing.T) {
	rig := newSideEffectsRig()
	entry := events.OutboxEntry{ID: uuid.New(), Payload: json.RawMessage(`{"reservation_id":`)}

	assert.NoError(t, rig.effects.HandleRefundRequested(context.Background(), entry))
	assert.NoError(t, rig.effects.HandleCalendarCreate(context.Background(), entry))
	assert.NoError(t, rig.effects.HandleBookingConfirmed(context.Background(), entry))
	assert.Equal(t, 0, rig.gateway.Calls("issue_refund"))
}
