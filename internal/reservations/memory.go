package reservations

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryTxKey struct{}

// InMemoryRepository is a Repository backed by a map. Transactions are
// serialized with a single lock and are not rolled back on error; it exists
// for tests and local experiments.
type InMemoryRepository struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	rows map[uuid.UUID]Reservation
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{rows: make(map[uuid.UUID]Reservation)}
}

func (r *InMemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(context.WithValue(ctx, memoryTxKey{}, true))
}

func (r *InMemoryRepository) Insert(ctx context.Context, res Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.SessionRef == res.SessionRef {
			return ErrDuplicateSession
		}
		if res.Occupies() && existing.Occupies() && existing.ResourceID == res.ResourceID && existing.Overlaps(res.StartTime, res.EndTime) {
			return ErrSlotConflict
		}
	}
	r.rows[res.ID] = res
	return nil
}

func (r *InMemoryRepository) ExpireOverlapping(ctx context.Context, resourceID uuid.UUID, start, end, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, existing := range r.rows {
		if existing.IsLive() && existing.ResourceID == resourceID && !existing.ExpiresAt.After(now) && existing.Overlaps(start, end) {
			existing.Status = StatusExpired
			existing.ReleaseReason = ReasonExpired
			existing.UpdatedAt = now
			r.rows[id] = existing
			n++
		}
	}
	return n, nil
}

func (r *InMemoryRepository) HasLiveOverlap(ctx context.Context, resourceID uuid.UUID, start, end, now time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, existing := range r.rows {
		if existing.ResourceID != resourceID || !existing.Overlaps(start, end) {
			continue
		}
		if existing.Status == StatusConverted || (existing.IsLive() && existing.ExpiresAt.After(now)) {
			return true, nil
		}
	}
	return false, nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id uuid.UUID) (Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.rows[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return res, nil
}

func (r *InMemoryRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return r.Get(ctx, id)
}

func (r *InMemoryRepository) FindByIntentRef(ctx context.Context, intentRef string) (Reservation, error) {
	return r.find(func(res Reservation) bool { return intentRef != "" && res.IntentRef == intentRef })
}

func (r *InMemoryRepository) FindBySessionRef(ctx context.Context, sessionRef string) (Reservation, error) {
	return r.find(func(res Reservation) bool { return sessionRef != "" && res.SessionRef == sessionRef })
}

func (r *InMemoryRepository) SetIntentRef(ctx context.Context, id uuid.UUID, intentRef string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.rows[id]
	if !ok || res.IntentRef != "" {
		return ErrIntentMismatch
	}
	for otherID, other := range r.rows {
		if otherID != id && other.IntentRef == intentRef {
			return ErrIntentMismatch
		}
	}
	res.IntentRef = intentRef
	res.UpdatedAt = now
	r.rows[id] = res
	return nil
}

func (r *InMemoryRepository) Transition(ctx context.Context, id uuid.UUID, from, to Status, reason string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.rows[id]
	if !ok || res.Status != from {
		return false, nil
	}
	res.Status = to
	res.ReleaseReason = reason
	res.UpdatedAt = now
	r.rows[id] = res
	return true, nil
}

func (r *InMemoryRepository) MarkRefundRequested(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.rows[id]
	if !ok || res.RefundRequestedAt != nil {
		return false, nil
	}
	stamp := now
	res.RefundRequestedAt = &stamp
	res.UpdatedAt = now
	r.rows[id] = res
	return true, nil
}

func (r *InMemoryRepository) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, res := range r.rows {
		if res.IsExpiredAt(now) {
			res.Status = StatusExpired
			res.ReleaseReason = ReasonExpired
			res.UpdatedAt = now
			r.rows[id] = res
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every row.
func (r *InMemoryRepository) All() []Reservation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Reservation, 0, len(r.rows))
	for _, res := range r.rows {
		out = append(out, res)
	}
	return out
}

func (r *InMemoryRepository) find(match func(Reservation) bool) (Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, res := range r.rows {
		if match(res) {
			return res, nil
		}
	}
	return Reservation{}, ErrReservationNotFound
}
