package reservations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/bookingcore/internal/clock"
	"github.com/wolfman30/bookingcore/internal/database"
	"github.com/wolfman30/bookingcore/internal/testutil"
)

func TestPostgresConcurrentHoldsSingleWinner(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)
	resourceID := testutil.InsertResource(t, ctx, pool, 0, "UTC")

	repo := NewPostgresRepository(database.NewTxManager(pool, 5*time.Second))
	mgr := NewManager(repo, clock.NewFixed(baseTime), nil)
	ten := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Create(ctx, slotInput(resourceID, ten, ten.Add(time.Hour), "cs_"+uuid.NewString()))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSlotConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, conflicts)
}

func TestPostgresStaleHoldReplacedAndSwept(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)
	resourceID := testutil.InsertResource(t, ctx, pool, 0, "UTC")

	clk := clock.NewFixed(baseTime)
	repo := NewPostgresRepository(database.NewTxManager(pool, 5*time.Second))
	mgr := NewManager(repo, clk, nil)
	start := baseTime.Add(48 * time.Hour)

	stale, err := mgr.Create(ctx, slotInput(resourceID, start, start.Add(time.Hour), "cs_stale"))
	require.NoError(t, err)

	clk.Advance(45 * time.Minute)
	fresh, err := mgr.Create(ctx, slotInput(resourceID, start.Add(30*time.Minute), start.Add(90*time.Minute), "cs_fresh"))
	require.NoError(t, err)

	got, err := mgr.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)
	require.Equal(t, ReasonExpired, got.ReleaseReason)

	require.NoError(t, mgr.AttachPaymentIntent(ctx, fresh.ID, "pi_fresh"))
	byIntent, err := mgr.FindByIntentRef(ctx, "pi_fresh")
	require.NoError(t, err)
	require.Equal(t, fresh.ID, byIntent.ID)

	n, err := mgr.Sweep(ctx, fresh.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err = mgr.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)
}
