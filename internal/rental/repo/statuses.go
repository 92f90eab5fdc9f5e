package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// StatusCatalog maps booking status names to their booking_statuses ids.
// The table is small and static, so it is loaded once and kept in memory.
type StatusCatalog struct {
	db *sqlx.DB

	mu  sync.RWMutex
	ids map[string]int64
}

// NewStatusCatalog creates the catalog.
func NewStatusCatalog(db *sqlx.DB) *StatusCatalog {
	return &StatusCatalog{db: db}
}

// GetStatusID returns the id stored for status name.
func (c *StatusCatalog) GetStatusID(ctx context.Context, name string) (int64, error) {
	c.mu.RLock()
	id, ok := c.ids[name]
	loaded := c.ids != nil
	c.mu.RUnlock()
	if ok {
		return id, nil
	}
	if !loaded {
		if err := c.load(ctx); err != nil {
			return 0, err
		}
		c.mu.RLock()
		id, ok = c.ids[name]
		c.mu.RUnlock()
		if ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: booking status %q", ErrNotFound, name)
}

func (c *StatusCatalog) load(ctx context.Context) error {
	var rows []struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}
	if err := c.db.SelectContext(ctx, &rows, `SELECT id, name FROM booking_statuses`); err != nil {
		return fmt.Errorf("load booking statuses: %w", err)
	}
	ids := make(map[string]int64, len(rows))
	for _, r := range rows {
		ids[r.Name] = r.ID
	}
	c.mu.Lock()
	c.ids = ids
	c.mu.Unlock()
	return nil
}
