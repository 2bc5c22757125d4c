package docache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/docache/codec"
	"github.com/unkn0wn-root/docache/filter"
	gen "github.com/unkn0wn-root/docache/genstore"
	"github.com/unkn0wn-root/docache/internal/wire"
	pr "github.com/unkn0wn-root/docache/provider"
	"github.com/unkn0wn-root/docache/store"
)

type cachedStore struct {
	backend      Backend
	provider     pr.Provider
	codec        c.Codec[[]store.Record]
	log          Logger
	hooks        Hooks
	gen          GenStore
	idx          *keyIndex
	sf           singleflight.Group
	enabled      bool
	defaultTTL   time.Duration
	genRetention time.Duration
	prefetchN    int

	hits       atomic.Uint64
	misses     atomic.Uint64
	fills      atomic.Uint64
	staleSkips atomic.Uint64
}

// GenStore is re-exported so callers configuring Options need not import
// genstore.
type GenStore = gen.GenStore

func newCachedStore(opts Options) (*cachedStore, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("docache: backend is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("docache: provider is required")
	}

	s := &cachedStore{
		backend:  opts.Backend,
		provider: opts.Provider,
		idx:      newKeyIndex(),
		enabled:  !opts.Disabled,
	}

	// defaults
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.defaultTTL = coalesce(opts.DefaultTTL, defaultTTL)
	s.genRetention = opts.GenRetention
	s.prefetchN = coalesce(opts.PrefetchConcurrency, defaultPrefetchConcurrency)

	if opts.Codec != nil {
		s.codec = opts.Codec
	} else {
		s.codec = c.Normalized{Inner: c.JSONCodec[[]store.Record]{}}
	}
	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		s.gen = gen.NewLocalGenStore(0, 0)
	}
	return s, nil
}

func (s *cachedStore) Enabled() bool { return s.enabled }

func (s *cachedStore) Close(ctx context.Context) error {
	// Close gen store first (best effort)
	_ = s.gen.Close(ctx)
	return s.provider.Close(ctx)
}

func (s *cachedStore) FindOne(ctx context.Context, coll store.Collection, f filter.Filter, ttl time.Duration) (store.Record, error) {
	if !s.enabled {
		return s.backend.FindOne(ctx, coll, f)
	}
	key, err := readKey(coll, f, shapeOne)
	if err != nil {
		return nil, err
	}
	recs, kind, err := s.read(ctx, coll, key, ttl, func(ctx context.Context) ([]store.Record, wire.Kind, error) {
		rec, err := s.backend.FindOne(ctx, coll, f)
		if err != nil || rec == nil {
			return nil, wire.KindNone, err
		}
		return []store.Record{rec}, wire.KindOne, nil
	})
	if err != nil || kind != wire.KindOne || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (s *cachedStore) FindMany(ctx context.Context, coll store.Collection, f filter.Filter, ttl time.Duration) ([]store.Record, error) {
	if !s.enabled {
		return s.backend.FindMany(ctx, coll, f)
	}
	key, err := readKey(coll, f, shapeMany)
	if err != nil {
		return nil, err
	}
	recs, _, err := s.read(ctx, coll, key, ttl, func(ctx context.Context) ([]store.Record, wire.Kind, error) {
		recs, err := s.backend.FindMany(ctx, coll, f)
		return recs, wire.KindMany, err
	})
	return recs, err
}

func (s *cachedStore) FindManySorted(ctx context.Context, coll store.Collection, f filter.Filter, field string, dir store.SortOrder, ttl time.Duration) ([]store.Record, error) {
	if !s.enabled {
		return s.backend.FindManySorted(ctx, coll, f, field, dir)
	}
	key, err := readKey(coll, f, "sort="+field+":"+string(dir))
	if err != nil {
		return nil, err
	}
	recs, _, err := s.read(ctx, coll, key, ttl, func(ctx context.Context) ([]store.Record, wire.Kind, error) {
		recs, err := s.backend.FindManySorted(ctx, coll, f, field, dir)
		return recs, wire.KindMany, err
	})
	return recs, err
}

// Read shapes. A FindOne and a FindMany over the same filter hold
// different results and must not share an entry.
const (
	shapeOne  = "one"
	shapeMany = "many"
)

// readKey is the filter key plus "|" + shape. The shape follows the
// collection prefix, so prefix scans still find it.
func readKey(coll store.Collection, f filter.Filter, shape string) (string, error) {
	key, err := filter.CacheKey(string(coll), f)
	if err != nil {
		return "", err
	}
	return key + "|" + shape, nil
}

type fetchFunc func(ctx context.Context) ([]store.Record, wire.Kind, error)

type fetched struct {
	recs []store.Record
	kind wire.Kind
}

// read serves key from the provider or, on a miss, from fetch. The key is
// registered under coll before anything else so that an invalidation racing
// with this read always sees it.
func (s *cachedStore) read(ctx context.Context, coll store.Collection, key string, ttl time.Duration, fetch fetchFunc) ([]store.Record, wire.Kind, error) {
	s.idx.add(coll, key)

	if recs, kind, ok := s.lookup(ctx, coll, key); ok {
		s.hits.Add(1)
		return recs, kind, nil
	}
	s.misses.Add(1)

	v, err, shared := s.sf.Do(key, func() (any, error) {
		g, genOK := s.snapshotGen(ctx, coll)
		recs, kind, err := fetch(ctx)
		if err != nil {
			s.hooks.FactoryError(string(coll), err)
			return nil, err
		}
		if genOK {
			s.fill(ctx, key, coll, g, kind, recs, ttl)
		}
		return fetched{recs: recs, kind: kind}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	res := v.(fetched)
	if shared {
		res.recs = cloneRecords(res.recs)
	}
	return res.recs, res.kind, nil
}

// lookup returns a valid entry for key. Entries that fail to decode or carry
// an older generation are deleted.
func (s *cachedStore) lookup(ctx context.Context, coll store.Collection, key string) ([]store.Record, wire.Kind, bool) {
	raw, ok, err := s.provider.Get(ctx, key)
	if err != nil {
		s.log.Warn("provider get failed; reading through", Fields{"key": key, "err": err})
		return nil, 0, false
	}
	if !ok {
		return nil, 0, false
	}
	kind, entryGen, payload, err := wire.Decode(raw)
	if err != nil {
		s.selfHeal(ctx, key, "corrupt")
		return nil, 0, false
	}
	g, genOK := s.snapshotGen(ctx, coll)
	if !genOK {
		return nil, 0, false
	}
	if entryGen != g {
		s.selfHeal(ctx, key, "gen_mismatch")
		return nil, 0, false
	}
	if kind == wire.KindNone {
		return nil, kind, true
	}
	recs, err := s.codec.Decode(payload)
	if err != nil {
		s.selfHeal(ctx, key, "value_decode")
		return nil, 0, false
	}
	if kind == wire.KindOne && len(recs) != 1 {
		s.selfHeal(ctx, key, "value_decode")
		return nil, 0, false
	}
	return recs, kind, true
}

func (s *cachedStore) selfHeal(ctx context.Context, key, reason string) {
	_ = s.provider.Del(ctx, key)
	s.hooks.SelfHeal(key, reason)
}

// fill stores a fetched result framed with the generation observed before the
// fetch. Nothing is stored if the collection was invalidated in between.
func (s *cachedStore) fill(ctx context.Context, key string, coll store.Collection, observed uint64, kind wire.Kind, recs []store.Record, ttl time.Duration) {
	if cur, ok := s.snapshotGen(ctx, coll); !ok || cur != observed {
		// generation moved; skip stale write
		s.staleSkips.Add(1)
		s.hooks.StaleWriteSkipped(key)
		s.log.Debug("fill skipped (gen mismatch)", Fields{"key": key, "obs": observed})
		return
	}

	var payload []byte
	if kind != wire.KindNone {
		b, err := s.codec.Encode(recs)
		if err != nil {
			s.log.Warn("encode failed; result not cached", Fields{"key": key, "err": err})
			return
		}
		payload = b
	}
	frame := wire.Encode(kind, observed, payload)
	ok, err := s.provider.Set(ctx, key, frame, int64(len(frame)), coalesce(ttl, s.defaultTTL))
	if err != nil {
		s.log.Warn("provider set failed", Fields{"key": key, "err": err})
		return
	}
	if !ok {
		s.hooks.ProviderSetRejected(key)
		s.log.Debug("fill rejected by provider (pressure)", Fields{"key": key})
		return
	}
	s.fills.Add(1)
}

func (s *cachedStore) snapshotGen(ctx context.Context, coll store.Collection) (uint64, bool) {
	g, err := s.gen.Snapshot(ctx, string(coll))
	if err != nil {
		s.hooks.GenSnapshotError(string(coll), err)
		s.log.Warn("gen snapshot error", Fields{"collection": coll, "err": err})
		return 0, false
	}
	return g, true
}

func cloneRecords(recs []store.Record) []store.Record {
	if recs == nil {
		return nil
	}
	out := make([]store.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Fills       uint64
	StaleSkips  uint64
	Evictions   uint64 // as reported by the provider, when it can
	Entries     int    // as reported by the provider, when it can
	IndexedKeys int
}

// HitRate returns hits/(hits+misses), or 0 with no traffic.
func (st Stats) HitRate() float64 {
	total := st.Hits + st.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Hits) / float64(total)
}

func (s *cachedStore) Stats() Stats {
	st := Stats{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Fills:       s.fills.Load(),
		StaleSkips:  s.staleSkips.Load(),
		IndexedKeys: s.idx.size(),
	}
	if ps, ok := s.provider.(pr.Statser); ok {
		p := ps.Stats()
		st.Entries, st.Evictions = p.Entries, p.Evictions
	}
	return st
}

// Cleanup drops expired provider entries when the provider supports it and
// prunes idle generations when GenRetention is set.
func (s *cachedStore) Cleanup() int {
	n := 0
	if cl, ok := s.provider.(pr.Cleaner); ok {
		n = cl.Cleanup()
	}
	if s.genRetention > 0 {
		s.gen.Cleanup(s.genRetention)
	}
	return n
}

// Clear invalidates every collection read so far, then empties the provider
// when it supports that.
func (s *cachedStore) Clear(ctx context.Context) error {
	var errs []error
	for _, coll := range s.idx.collections() {
		if err := s.InvalidateCollection(ctx, coll); err != nil {
			errs = append(errs, err)
		}
	}
	if cl, ok := s.provider.(pr.Clearer); ok {
		if err := cl.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
