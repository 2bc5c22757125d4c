// Package manager is the operational surface over a set of caches: startup
// warm-up, periodic stats logging and cleanup, health scoring and bulk
// invalidation. Nothing here sits on the read path.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/docache"
	dlog "github.com/unkn0wn-root/docache/log"
	"github.com/unkn0wn-root/docache/store"
)

const (
	defaultMinHitRate   = 0.5
	defaultMinLookups   = 100
	defaultMaxEvictions = 10_000
	defaultStatsEvery   = 5 * time.Minute
	defaultCleanupEvery = 10 * time.Minute
)

// Pinger reports whether the backend is reachable. *store.Manager implements it.
type Pinger interface {
	IsConnected() bool
}

var _ Pinger = (*store.Manager)(nil)

// Warmer seeds a cache at startup and reports how many entries it wrote.
type Warmer struct {
	Name string
	Warm func(ctx context.Context) (int, error)
}

// CollectionWarmer warms coll through cs. Entries are keyed by the records
// themselves, see docache.CachedStore.WarmCollection.
func CollectionWarmer(cs docache.CachedStore, coll store.Collection, ttl time.Duration) Warmer {
	return Warmer{
		Name: string(coll),
		Warm: func(ctx context.Context) (int, error) { return cs.WarmCollection(ctx, coll, ttl) },
	}
}

type Options struct {
	Caches  []Named
	Warmers []Warmer
	Pinger  Pinger      // nil => backend assumed up
	Logger  dlog.Logger // nil => no logs

	MinHitRate   float64 // 0 => 0.5
	MinLookups   uint64  // hit rate is judged only above this many lookups; 0 => 100
	MaxEvictions uint64  // 0 => 10000
}

// Health is the outcome of Manager.Health. Warnings never make the result
// unhealthy on their own; only an unreachable backend does.
type Health struct {
	Healthy  bool
	Warnings []string
	Caches   map[string]CacheStats
}

type Manager struct {
	caches  []Named
	warmers []Warmer
	pinger  Pinger
	log     dlog.Logger

	minHitRate   float64
	minLookups   uint64
	maxEvictions uint64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(opts Options) *Manager {
	m := &Manager{
		caches:       opts.Caches,
		warmers:      opts.Warmers,
		pinger:       opts.Pinger,
		log:          dlog.OrNop(opts.Logger),
		minHitRate:   opts.MinHitRate,
		minLookups:   opts.MinLookups,
		maxEvictions: opts.MaxEvictions,
		stopCh:       make(chan struct{}),
	}
	if m.minHitRate <= 0 {
		m.minHitRate = defaultMinHitRate
	}
	if m.minLookups == 0 {
		m.minLookups = defaultMinLookups
	}
	if m.maxEvictions == 0 {
		m.maxEvictions = defaultMaxEvictions
	}
	return m
}

// Caches returns the registered caches.
func (m *Manager) Caches() []Named { return m.caches }

// WarmCaches runs every warmer in order. A failing warmer is logged and
// skipped; the failures are returned joined once all warmers ran.
func (m *Manager) WarmCaches(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, w := range m.warmers {
		if m.pinger != nil && !m.pinger.IsConnected() {
			m.log.Warn("skipping cache warm-up: backend not connected", dlog.Fields{"warmer": w.Name})
			return total, errors.Join(append(errs, store.ErrNotConnected)...)
		}
		n, err := w.Warm(ctx)
		if err != nil {
			m.log.Warn("cache warm-up failed", dlog.Fields{"warmer": w.Name, "err": err})
			errs = append(errs, fmt.Errorf("warm %s: %w", w.Name, err))
			continue
		}
		total += n
		m.log.Info("cache warmed", dlog.Fields{"warmer": w.Name, "entries": n})
	}
	return total, errors.Join(errs...)
}

// LogStats writes one info line per cache.
func (m *Manager) LogStats() {
	for _, c := range m.caches {
		st := c.Source.Stats()
		m.log.Info("cache stats", dlog.Fields{
			"cache":     c.Name,
			"hits":      st.Hits,
			"misses":    st.Misses,
			"hitRate":   st.HitRate(),
			"evictions": st.Evictions,
			"size":      st.Size,
		})
	}
}

// Optimize runs Cleanup on every cache and returns the number of entries
// dropped.
func (m *Manager) Optimize() int {
	total := 0
	for _, c := range m.caches {
		total += c.Source.Cleanup()
	}
	m.log.Debug("cache cleanup", dlog.Fields{"removed": total})
	return total
}

// StartStatsLogging calls LogStats every interval until ctx is done or Stop
// is called.
func (m *Manager) StartStatsLogging(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultStatsEvery
	}
	m.every(ctx, interval, m.LogStats)
}

// StartOptimization calls Optimize every interval until ctx is done or Stop
// is called. This bounds the memory held by expired entries nobody reads.
func (m *Manager) StartOptimization(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultCleanupEvery
	}
	m.every(ctx, interval, func() { _ = m.Optimize() })
}

func (m *Manager) every(ctx context.Context, interval time.Duration, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				fn()
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop ends every loop started by this manager and waits for them. Safe to
// call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) Health() Health {
	h := Health{Healthy: true, Caches: make(map[string]CacheStats, len(m.caches))}
	if m.pinger != nil && !m.pinger.IsConnected() {
		h.Healthy = false
		h.Warnings = append(h.Warnings, "backend not connected")
	}
	for _, c := range m.caches {
		st := c.Source.Stats()
		h.Caches[c.Name] = st
		if st.Lookups() > m.minLookups && st.HitRate() < m.minHitRate {
			h.Warnings = append(h.Warnings,
				fmt.Sprintf("%s: low hit rate %.1f%% (threshold %.0f%%)", c.Name, st.HitRate()*100, m.minHitRate*100))
		}
		if st.Evictions > m.maxEvictions {
			h.Warnings = append(h.Warnings,
				fmt.Sprintf("%s: %d evictions (threshold %d)", c.Name, st.Evictions, m.maxEvictions))
		}
	}
	return h
}

// InvalidateAll clears every cache. All caches are attempted; failures are
// returned joined.
func (m *Manager) InvalidateAll(ctx context.Context) error {
	var errs []error
	for _, c := range m.caches {
		if err := c.Source.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", c.Name, err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		m.log.Error("invalidate all caches", dlog.Fields{"err": err})
	} else {
		m.log.Info("all caches cleared", dlog.Fields{"caches": len(m.caches)})
	}
	return err
}
