package docache

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/docache/filter"
	"github.com/unkn0wn-root/docache/internal/wire"
	"github.com/unkn0wn-root/docache/store"
)

func (s *cachedStore) Prefetch(ctx context.Context, coll store.Collection, filters []filter.Filter, ttl time.Duration) int {
	var ok atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.prefetchN)
	for _, f := range filters {
		f := f
		g.Go(func() error {
			if _, err := s.FindOne(ctx, coll, f, ttl); err != nil {
				s.log.Warn("prefetch failed", Fields{"collection": coll, "err": err})
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load())
}

func (s *cachedStore) WarmCollection(ctx context.Context, coll store.Collection, ttl time.Duration) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	g, genOK := s.snapshotGen(ctx, coll)
	recs, err := s.backend.FindMany(ctx, coll, nil)
	if err != nil {
		s.hooks.FactoryError(string(coll), err)
		return 0, err
	}
	if !genOK {
		return 0, nil
	}
	n := 0
	for _, rec := range recs {
		key, err := readKey(coll, filter.Filter(rec), shapeOne)
		if err != nil {
			s.log.Warn("warm: record not usable as key", Fields{"collection": coll, "err": err})
			continue
		}
		s.idx.add(coll, key)
		s.fill(ctx, key, coll, g, wire.KindOne, []store.Record{rec}, ttl)
		n++
	}
	s.log.Info("collection warmed", Fields{"collection": coll, "records": n})
	return n, nil
}
