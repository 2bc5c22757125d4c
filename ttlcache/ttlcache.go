// Package ttlcache is a generic in-process key/value cache with per-entry or
// default expiry.
//
// Expiry is lazy: there is no background sweep. An expired entry is removed
// the moment it is touched by Get, Has, Len, Keys, Values, Entries, TTL or
// Cleanup, and is never returned. Memory held by expired entries that are never
// touched again is bounded by calling Cleanup on a schedule (see package
// manager).
package ttlcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// NoExpiration marks an entry that never expires.
const NoExpiration time.Duration = -1

// Clock abstracts time for deterministic expiry in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options tune a Cache. The zero value is usable: entries never expire.
type Options struct {
	DefaultTTL time.Duration // applied when Set is called with ttl == 0; 0 => no expiry
	Clock      Clock         // nil => wall clock
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64 // entries removed because they expired
	Sets      uint64
	Deletes   uint64
	Size      int
}

// HitRate returns hits/(hits+misses), or 0 with no traffic.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Entry is a key/value pair returned by Entries.
type Entry[V any] struct {
	Key   string
	Value V
}

type item[V any] struct {
	value     V
	expiresAt time.Time // zero => never
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu         sync.Mutex
	items      map[string]item[V]
	defaultTTL time.Duration
	clock      Clock
	flight     singleflight.Group

	hits, misses, evictions, sets, deletes uint64
}

func New[V any](opts Options) *Cache[V] {
	c := &Cache[V]{
		items:      make(map[string]item[V]),
		defaultTTL: opts.DefaultTTL,
		clock:      opts.Clock,
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	return c
}

// expired reports whether it has passed its deadline at now.
func (it item[V]) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

func (c *Cache[V]) deadline(ttl time.Duration) time.Time {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return c.clock.Now().Add(ttl)
}

// lookup returns a live item, lazily dropping it when expired. Caller holds mu.
func (c *Cache[V]) lookup(key string, now time.Time) (item[V], bool) {
	it, ok := c.items[key]
	if !ok {
		return it, false
	}
	if it.expired(now) {
		delete(c.items, key)
		c.evictions++
		return it, false
	}
	return it, true
}

// purge drops every expired item. Caller holds mu.
func (c *Cache[V]) purge(now time.Time) int {
	removed := 0
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
			removed++
		}
	}
	c.evictions += uint64(removed)
	return removed
}

// Set stores value under key. ttl == 0 uses the default TTL; ttl < 0 never expires.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.items[key] = item[V]{value: value, expiresAt: c.deadline(ttl)}
	c.sets++
	c.mu.Unlock()
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.lookup(key, c.clock.Now())
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return it.value, true
}

// Has reports presence without touching hit/miss counters.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(key, c.clock.Now())
	return ok
}

func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	c.deletes++
	return true
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]item[V])
	c.mu.Unlock()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purge(c.clock.Now())
	return len(c.items)
}

func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purge(c.clock.Now())
	out := make([]string, 0, len(c.items))
	for k := range c.items {
		out = append(out, k)
	}
	return out
}

func (c *Cache[V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purge(c.clock.Now())
	out := make([]V, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.value)
	}
	return out
}

func (c *Cache[V]) Entries() []Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purge(c.clock.Now())
	out := make([]Entry[V], 0, len(c.items))
	for k, it := range c.items {
		out = append(out, Entry[V]{Key: k, Value: it.value})
	}
	return out
}

// GetOrSet returns the cached value for key, or stores and returns factory().
func (c *Cache[V]) GetOrSet(key string, factory func() V, ttl time.Duration) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := factory()
	c.Set(key, v, ttl)
	return v
}

// GetOrSetFunc is the fallible read-through helper. Concurrent misses on the
// same key share one factory call. A factory error is returned to every waiter
// and nothing is stored.
func (c *Cache[V]) GetOrSetFunc(ctx context.Context, key string, factory func(context.Context) (V, error), ttl time.Duration) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.flight.Do(key, func() (any, error) {
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// peek reads without counting a hit or miss.
func (c *Cache[V]) peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.lookup(key, c.clock.Now())
	return it.value, ok
}

// TTL returns the remaining lifetime of key. Entries without expiry report
// NoExpiration. ok is false when key is absent or expired.
func (c *Cache[V]) TTL(key string) (remaining time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	it, ok := c.lookup(key, now)
	if !ok {
		return 0, false
	}
	if it.expiresAt.IsZero() {
		return NoExpiration, true
	}
	return it.expiresAt.Sub(now), true
}

// Extend resets the expiry of a live entry to now+ttl (ttl < 0 removes expiry).
func (c *Cache[V]) Extend(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.lookup(key, c.clock.Now())
	if !ok {
		return false
	}
	it.expiresAt = c.deadline(ttl)
	c.items[key] = it
	return true
}

// Cleanup removes every expired entry and returns how many were dropped.
func (c *Cache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purge(c.clock.Now())
}

// Stats returns the counters without purging.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Sets:      c.sets,
		Deletes:   c.deletes,
		Size:      len(c.items),
	}
}
