package reservations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/bookingcore/internal/clock"
)

var baseTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestManager() (*Manager, *InMemoryRepository, *clock.Fixed) {
	repo := NewInMemoryRepository()
	clk := clock.NewFixed(baseTime)
	return NewManager(repo, clk, nil), repo, clk
}

func slotInput(resourceID uuid.UUID, start, end time.Time, session string) CreateInput {
	return CreateInput{
		ResourceID:    resourceID,
		StartTime:     start,
		EndTime:       end,
		HolderContact: "payer@example.com",
		SessionRef:    session,
		Path:          PathImmediate,
		TTL:           30 * time.Minute,
		AmountCents:   5000,
		Currency:      "usd",
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	mgr, _, _ := newTestManager()
	resource := uuid.New()
	start := baseTime.Add(24 * time.Hour)

	if _, err := mgr.Create(context.Background(), slotInput(resource, start, start, "cs_1")); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for empty range, got %v", err)
	}
	if _, err := mgr.Create(context.Background(), slotInput(resource, start, start.Add(-time.Hour), "cs_1")); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for inverted range, got %v", err)
	}
	if _, err := mgr.Create(context.Background(), slotInput(uuid.Nil, start, start.Add(time.Hour), "cs_1")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing resource, got %v", err)
	}
	in := slotInput(resource, start, start.Add(time.Hour), "")
	if _, err := mgr.Create(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing session, got %v", err)
	}
}

func TestCreateOverlapRules(t *testing.T) {
	mgr, _, _ := newTestManager()
	ctx := context.Background()
	resource := uuid.New()
	ten := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	first, err := mgr.Create(ctx, slotInput(resource, ten, ten.Add(time.Hour), "cs_1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != StatusHeld || !first.ExpiresAt.Equal(baseTime.Add(30*time.Minute)) {
		t.Fatalf("unexpected reservation %+v", first)
	}

	if _, err := mgr.Create(ctx, slotInput(resource, ten.Add(30*time.Minute), ten.Add(90*time.Minute), "cs_2")); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected conflict on partial overlap, got %v", err)
	}
	if _, err := mgr.Create(ctx, slotInput(resource, ten.Add(time.Hour), ten.Add(2*time.Hour), "cs_3")); err != nil {
		t.Fatalf("adjacent half-open range must not conflict: %v", err)
	}
	if _, err := mgr.Create(ctx, slotInput(uuid.New(), ten, ten.Add(time.Hour), "cs_4")); err != nil {
		t.Fatalf("different resource must not conflict: %v", err)
	}
}

func TestCreateReplacesExpiredHold(t *testing.T) {
	mgr, repo, clk := newTestManager()
	ctx := context.Background()
	resource := uuid.New()
	start := baseTime.Add(48 * time.Hour)

	stale, err := mgr.Create(ctx, slotInput(resource, start, start.Add(time.Hour), "cs_1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clk.Advance(31 * time.Minute)

	fresh, err := mgr.Create(ctx, slotInput(resource, start, start.Add(time.Hour), "cs_2"))
	if err != nil {
		t.Fatalf("expected stale hold to be replaced, got %v", err)
	}
	old, _ := repo.Get(ctx, stale.ID)
	if old.Status != StatusExpired {
		t.Fatalf("expected stale hold expired, got %s", old.Status)
	}
	if fresh.ID == stale.ID {
		t.Fatal("expected a new reservation id")
	}
}

func TestConcurrentCreateExactlyOneWins(t *testing.T) {
	mgr, repo, _ := newTestManager()
	resource := uuid.New()
	ten := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      []uuid.UUID
		conflicts int
		start     = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := mgr.Create(context.Background(), slotInput(resource, ten, ten.Add(time.Hour), uuid.NewString()))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins = append(wins, res.ID)
			case errors.Is(err, ErrSlotConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(wins) != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d winners and %d conflicts", attempts-1, len(wins), conflicts)
	}
	live := 0
	for _, res := range repo.All() {
		if res.IsLive() {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live reservation, got %d", live)
	}
}

func TestAttachPaymentIntent(t *testing.T) {
	mgr, _, _ := newTestManager()
	ctx := context.Background()
	start := baseTime.Add(24 * time.Hour)
	res, err := mgr.Create(ctx, slotInput(uuid.New(), start, start.Add(time.Hour), "cs_1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := mgr.AttachPaymentIntent(ctx, res.ID, "pi_1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := mgr.AttachPaymentIntent(ctx, res.ID, "pi_1"); err != nil {
		t.Fatalf("re-attaching the same intent must be a no-op: %v", err)
	}
	if err := mgr.AttachPaymentIntent(ctx, res.ID, "pi_2"); !errors.Is(err, ErrIntentMismatch) {
		t.Fatalf("expected ErrIntentMismatch, got %v", err)
	}
	if err := mgr.AttachPaymentIntent(ctx, uuid.New(), "pi_3"); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}

	found, err := mgr.FindByIntentRef(ctx, "pi_1")
	if err != nil || found.ID != res.ID {
		t.Fatalf("expected lookup by intent, got %+v %v", found, err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	mgr, _, _ := newTestManager()
	ctx := context.Background()
	resource := uuid.New()
	start := baseTime.Add(24 * time.Hour)
	res, err := mgr.Create(ctx, slotInput(resource, start, start.Add(time.Hour), "cs_1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := mgr.Release(ctx, res.ID, ""); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := mgr.Release(ctx, res.ID, "again"); err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}
	got, _ := mgr.Get(ctx, res.ID)
	if got.Status != StatusReleased || got.ReleaseReason != ReasonCancelled {
		t.Fatalf("unexpected state after release: %+v", got)
	}
	if err := mgr.Release(ctx, uuid.New(), ""); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}

	if _, err := mgr.Create(ctx, slotInput(resource, start, start.Add(time.Hour), "cs_2")); err != nil {
		t.Fatalf("released slot must be reservable again: %v", err)
	}
}

func TestSweepExpiresOnlyDueHeldRows(t *testing.T) {
	mgr, repo, _ := newTestManager()
	ctx := context.Background()
	resource := uuid.New()
	day := baseTime.Add(72 * time.Hour)

	due, _ := mgr.Create(ctx, slotInput(resource, day, day.Add(time.Hour), "cs_due"))
	edge, _ := mgr.Create(ctx, slotInput(resource, day.Add(time.Hour), day.Add(2*time.Hour), "cs_edge"))
	converted, _ := mgr.Create(ctx, slotInput(resource, day.Add(2*time.Hour), day.Add(3*time.Hour), "cs_conv"))
	longIn := slotInput(resource, day.Add(3*time.Hour), day.Add(4*time.Hour), "cs_long")
	longIn.TTL = 7 * 24 * time.Hour
	long, _ := mgr.Create(ctx, longIn)

	if _, err := repo.Transition(ctx, converted.ID, StatusHeld, StatusConverted, "", baseTime); err != nil {
		t.Fatalf("transition: %v", err)
	}

	// edge expires exactly at T, which is not before T.
	sweepAt := edge.ExpiresAt
	due = mustSetExpiry(t, repo, due.ID, sweepAt.Add(-time.Second))

	n, err := mgr.Sweep(ctx, sweepAt)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept row, got %d", n)
	}

	expect := map[uuid.UUID]Status{
		due.ID:       StatusExpired,
		edge.ID:      StatusHeld,
		converted.ID: StatusConverted,
		long.ID:      StatusHeld,
	}
	for id, want := range expect {
		got, _ := repo.Get(ctx, id)
		if got.Status != want {
			t.Fatalf("reservation %s: expected %s, got %s", id, want, got.Status)
		}
	}

	n, err = mgr.Sweep(ctx, sweepAt.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected edge to be swept later, got n=%d err=%v", n, err)
	}
}

func mustSetExpiry(t *testing.T, repo *InMemoryRepository, id uuid.UUID, expiresAt time.Time) Reservation {
	t.Helper()
	repo.mu.Lock()
	defer repo.mu.Unlock()
	res, ok := repo.rows[id]
	if !ok {
		t.Fatalf("reservation %s missing", id)
	}
	res.ExpiresAt = expiresAt
	repo.rows[id] = res
	return res
}
