package conflicts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/bookingcore/internal/database"
)

// ErrResourceNotFound is returned when the calendar has no row for a resource.
var ErrResourceNotFound = errors.New("conflicts: resource not found")

// Resource carries the scheduling rules of a bookable resource.
type Resource struct {
	ID            uuid.UUID
	MinimumNotice time.Duration
	Location      *time.Location
}

func (r Resource) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// CalendarRepository reads resources and their blocked periods. Both are
// maintained outside this service.
type CalendarRepository interface {
	Resource(ctx context.Context, id uuid.UUID) (Resource, error)
	HasBlockedPeriod(ctx context.Context, resourceID uuid.UUID, from, to time.Time) (bool, error)
}

// PostgresCalendar reads the resources and blocked_periods tables.
type PostgresCalendar struct {
	db *database.TxManager
}

func NewPostgresCalendar(db *database.TxManager) *PostgresCalendar {
	if db == nil {
		panic("conflicts: tx manager required")
	}
	return &PostgresCalendar{db: db}
}

func (c *PostgresCalendar) Resource(ctx context.Context, id uuid.UUID) (Resource, error) {
	var (
		notice   int
		timezone string
	)
	err := c.db.Conn(ctx).QueryRow(ctx,
		`SELECT minimum_notice_minutes, timezone FROM resources WHERE id = $1`, id,
	).Scan(&notice, &timezone)
	if err != nil {
		if database.IsNoRows(err) {
			return Resource{}, ErrResourceNotFound
		}
		return Resource{}, fmt.Errorf("conflicts: get resource: %w", err)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Resource{}, fmt.Errorf("conflicts: resource %s timezone %q: %w", id, timezone, err)
	}
	return Resource{ID: id, MinimumNotice: time.Duration(notice) * time.Minute, Location: loc}, nil
}

func (c *PostgresCalendar) HasBlockedPeriod(ctx context.Context, resourceID uuid.UUID, from, to time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM blocked_periods
			WHERE resource_id = $1
			  AND tstzrange(starts_at, ends_at, '[)') && tstzrange($2, $3, '[)')
		)
	`
	var blocked bool
	if err := c.db.Conn(ctx).QueryRow(ctx, query, resourceID, from, to).Scan(&blocked); err != nil {
		return false, fmt.Errorf("conflicts: blocked periods: %w", err)
	}
	return blocked, nil
}

// MemoryCalendar is an in-process CalendarRepository for tests and local runs.
type MemoryCalendar struct {
	mu        sync.RWMutex
	resources map[uuid.UUID]Resource
	blocks    map[uuid.UUID][][2]time.Time
}

func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{
		resources: make(map[uuid.UUID]Resource),
		blocks:    make(map[uuid.UUID][][2]time.Time),
	}
}

// PutResource adds or replaces a resource.
func (c *MemoryCalendar) PutResource(r Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[r.ID] = r
}

// Block marks [start, end) unavailable for a resource.
func (c *MemoryCalendar) Block(resourceID uuid.UUID, start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[resourceID] = append(c.blocks[resourceID], [2]time.Time{start, end})
}

func (c *MemoryCalendar) Resource(_ context.Context, id uuid.UUID) (Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resources[id]
	if !ok {
		return Resource{}, ErrResourceNotFound
	}
	return r, nil
}

func (c *MemoryCalendar) HasBlockedPeriod(_ context.Context, resourceID uuid.UUID, from, to time.Time) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.blocks[resourceID] {
		if b[0].Before(to) && from.Before(b[1]) {
			return true, nil
		}
	}
	return false, nil
}
