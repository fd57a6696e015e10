// Package cache memoizes backend reads for a short time.
//
// Entries live in two namespaces. The table namespace is keyed by
// (table, key) and is purged table by table whenever a write to that table
// succeeds. The aggregate namespace holds joined report results; its keys
// carry no table, so it is purged as a whole whenever any table that feeds
// the reports is written.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

type entryKey struct {
	table string
	key   string
}

type entry struct {
	storedAt time.Time
	value    any
}

// Cache is safe for concurrent use. Invalidation is immediate: a fetch that
// started before an invalidation of its table never stores its result.
type Cache struct {
	tables     *expirable.LRU[entryKey, entry]
	aggregates *expirable.LRU[string, entry]
	feeds      map[string]struct{}

	mu          sync.Mutex
	generations map[string]uint64
	aggGen      uint64
	epoch       uint64

	group singleflight.Group
	now   func() time.Time
}

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds each namespace.
	MaxEntries int
	// MaxTTL is the hard ceiling on any entry's lifetime, whatever TTL a
	// caller asks for.
	MaxTTL time.Duration
	// AggregateTables are the tables whose writes purge the aggregate namespace.
	AggregateTables []string
}

// New creates a cache.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 256
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = 5 * time.Minute
	}
	feeds := make(map[string]struct{}, len(opts.AggregateTables))
	for _, t := range opts.AggregateTables {
		feeds[t] = struct{}{}
	}
	return &Cache{
		tables:      expirable.NewLRU[entryKey, entry](opts.MaxEntries, nil, opts.MaxTTL),
		aggregates:  expirable.NewLRU[string, entry](opts.MaxEntries, nil, opts.MaxTTL),
		feeds:       feeds,
		generations: make(map[string]uint64),
		now:         time.Now,
	}
}

// GetOrFetch returns the entry for (table, key) when it is younger than ttl,
// otherwise calls fetch. The fetched value is stored only when fetch reports
// ok, so a failed read never poisons the cache. Concurrent misses on the
// same key share one fetch.
func GetOrFetch[V any](c *Cache, table, key string, ttl time.Duration, fetch func() (V, bool)) V {
	k := entryKey{table: table, key: key}
	if e, ok := c.tables.Get(k); ok && c.fresh(e, ttl) {
		if v, ok := e.value.(V); ok {
			return v
		}
	}

	st := c.stampOf(table)
	// the stamp is part of the flight key so a caller arriving after an
	// invalidation never joins a fetch that started before it
	flight := fmt.Sprintf("t\x00%s\x00%s\x00%d.%d", table, key, st.epoch, st.gen)
	v, _, _ := c.group.Do(flight, func() (any, error) {
		val, ok := fetch()
		if ok {
			c.storeTable(k, st, val)
		}
		return val, nil
	})
	out, _ := v.(V)
	return out
}

// Aggregate is GetOrFetch for the aggregate namespace.
func Aggregate[V any](c *Cache, key string, ttl time.Duration, fetch func() (V, bool)) V {
	if e, ok := c.aggregates.Get(key); ok && c.fresh(e, ttl) {
		if v, ok := e.value.(V); ok {
			return v
		}
	}

	c.mu.Lock()
	st := stamp{epoch: c.epoch, gen: c.aggGen}
	c.mu.Unlock()

	flight := fmt.Sprintf("a\x00%s\x00%d.%d", key, st.epoch, st.gen)
	v, _, _ := c.group.Do(flight, func() (any, error) {
		val, ok := fetch()
		if ok {
			c.mu.Lock()
			if c.epoch == st.epoch && c.aggGen == st.gen {
				c.aggregates.Add(key, entry{storedAt: c.now(), value: val})
			}
			c.mu.Unlock()
		}
		return val, nil
	})
	out, _ := v.(V)
	return out
}

// Invalidate purges every entry of table, and the aggregate namespace when
// table feeds it.
func (c *Cache) Invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[table]++
	for _, k := range c.tables.Keys() {
		if k.table == table {
			c.tables.Remove(k)
		}
	}
	if _, ok := c.feeds[table]; ok {
		c.aggGen++
		c.aggregates.Purge()
	}
}

// InvalidateAll purges both namespaces.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.tables.Purge()
	c.aggregates.Purge()
}

// Len reports the number of live entries in the table namespace.
func (c *Cache) Len() int {
	return c.tables.Len()
}

// Key joins parts into a cache key.
func Key(parts ...any) string {
	s := ""
	for i, p := range parts {
		if i > 0 {
			s += "|"
		}
		s += fmt.Sprint(p)
	}
	return s
}

func (c *Cache) fresh(e entry, ttl time.Duration) bool {
	return c.now().Sub(e.storedAt) < ttl
}

type stamp struct {
	epoch uint64
	gen   uint64
}

func (c *Cache) stampOf(table string) stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return stamp{epoch: c.epoch, gen: c.generations[table]}
}

func (c *Cache) storeTable(k entryKey, st stamp, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != st.epoch || c.generations[k.table] != st.gen {
		return
	}
	c.tables.Add(k, entry{storedAt: c.now(), value: val})
}
