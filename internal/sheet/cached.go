package sheet

import (
	"context"
	"time"

	"github.com/medflow/nurse-station/internal/cache"
)

// AggregateTables are the tables whose contents feed the dashboard reports.
var AggregateTables = []string{
	TableMedicine,
	TableOtherItem,
	TableMedicineLot,
	TableOtherLot,
	TableTreatment,
}

// Cached routes list and search reads through a Cache and purges a table's
// entries after every successful write to it.
type Cached struct {
	next  Backend
	cache *cache.Cache
	ttl   time.Duration
}

// NewCached wraps next.
func NewCached(next Backend, c *cache.Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl}
}

// Cache exposes the underlying cache for report readers.
func (c *Cached) Cache() *cache.Cache {
	return c.cache
}

func (c *Cached) List(ctx context.Context, table string, limit int) *Result {
	return cache.GetOrFetch(c.cache, table, cache.Key("list", limit), c.ttl, func() (*Result, bool) {
		res := c.next.List(ctx, table, limit)
		return res, res.OK
	})
}

func (c *Cached) Search(ctx context.Context, table, field, value string) *Result {
	return cache.GetOrFetch(c.cache, table, cache.Key("search", field, value), c.ttl, func() (*Result, bool) {
		res := c.next.Search(ctx, table, field, value)
		return res, res.OK
	})
}

func (c *Cached) Get(ctx context.Context, table, id string) *Result {
	return c.next.Get(ctx, table, id)
}

func (c *Cached) BatchGet(ctx context.Context, table string, ids []string) *Result {
	return c.next.BatchGet(ctx, table, ids)
}

func (c *Cached) Append(ctx context.Context, table string, payload any) *Result {
	return c.invalidating(table, c.next.Append(ctx, table, payload))
}

func (c *Cached) Update(ctx context.Context, table, id string, payload any) *Result {
	return c.invalidating(table, c.next.Update(ctx, table, id, payload))
}

func (c *Cached) UpdateField(ctx context.Context, table, id, field string, value any) *Result {
	return c.invalidating(table, c.next.UpdateField(ctx, table, id, field, value))
}

func (c *Cached) Delete(ctx context.Context, table, id string) *Result {
	return c.invalidating(table, c.next.Delete(ctx, table, id))
}

func (c *Cached) BatchUpdateFields(ctx context.Context, table string, updates []FieldUpdate) *Result {
	return c.invalidating(table, c.next.BatchUpdateFields(ctx, table, updates))
}

func (c *Cached) invalidating(table string, res *Result) *Result {
	if res.OK {
		c.cache.Invalidate(table)
	}
	return res
}
