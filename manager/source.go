package manager

import (
	"context"

	"github.com/unkn0wn-root/docache"
	"github.com/unkn0wn-root/docache/ttlcache"
)

// CacheStats is the subset of counters the manager reports per cache.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

func (s CacheStats) Lookups() uint64 { return s.Hits + s.Misses }

// HitRate returns hits/(hits+misses), or 0 with no traffic.
func (s CacheStats) HitRate() float64 {
	if s.Lookups() == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Lookups())
}

// Source is a cache the manager can observe and maintain.
type Source interface {
	Stats() CacheStats
	Cleanup() int
	Clear(ctx context.Context) error
}

// Named pairs a Source with the name used in logs, health warnings and
// metric labels.
type Named struct {
	Name   string
	Source Source
}

type ttlSource[V any] struct{ c *ttlcache.Cache[V] }

// FromTTL adapts an in-process ttlcache.Cache.
func FromTTL[V any](c *ttlcache.Cache[V]) Source { return ttlSource[V]{c: c} }

func (s ttlSource[V]) Stats() CacheStats {
	st := s.c.Stats()
	return CacheStats{Hits: st.Hits, Misses: st.Misses, Evictions: st.Evictions, Size: st.Size}
}

func (s ttlSource[V]) Cleanup() int { return s.c.Cleanup() }

func (s ttlSource[V]) Clear(context.Context) error {
	s.c.Clear()
	return nil
}

type cachedSource struct{ cs docache.CachedStore }

// FromCachedStore adapts the cache-aside wrapper. Size is the provider's entry
// count when the provider reports one, else the number of indexed keys.
func FromCachedStore(cs docache.CachedStore) Source { return cachedSource{cs: cs} }

func (s cachedSource) Stats() CacheStats {
	st := s.cs.Stats()
	size := st.Entries
	if size == 0 {
		size = st.IndexedKeys
	}
	return CacheStats{Hits: st.Hits, Misses: st.Misses, Evictions: st.Evictions, Size: size}
}

func (s cachedSource) Cleanup() int                    { return s.cs.Cleanup() }
func (s cachedSource) Clear(ctx context.Context) error { return s.cs.Clear(ctx) }
