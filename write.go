package docache

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/docache/filter"
	"github.com/unkn0wn-root/docache/internal/util"
	pr "github.com/unkn0wn-root/docache/provider"
	"github.com/unkn0wn-root/docache/store"
)

func (s *cachedStore) InsertOne(ctx context.Context, coll store.Collection, doc map[string]any) (string, error) {
	id, err := s.backend.InsertOne(ctx, coll, doc)
	if err != nil || id == "" {
		return id, err
	}
	return id, s.invalidate(ctx, coll)
}

func (s *cachedStore) UpdateOne(ctx context.Context, coll store.Collection, f filter.Filter, patch map[string]any, upsert bool) (bool, error) {
	ok, err := s.backend.UpdateOne(ctx, coll, f, patch, upsert)
	if err != nil || !ok {
		return ok, err
	}
	return ok, s.invalidate(ctx, coll)
}

func (s *cachedStore) DeleteOne(ctx context.Context, coll store.Collection, f filter.Filter) (bool, error) {
	ok, err := s.backend.DeleteOne(ctx, coll, f)
	if err != nil || !ok {
		return ok, err
	}
	return ok, s.invalidate(ctx, coll)
}

func (s *cachedStore) DeleteMany(ctx context.Context, coll store.Collection, f filter.Filter) (int64, error) {
	n, err := s.backend.DeleteMany(ctx, coll, f)
	if err != nil || n <= 0 {
		return n, err
	}
	return n, s.invalidate(ctx, coll)
}

func (s *cachedStore) Increment(ctx context.Context, coll store.Collection, f filter.Filter, field string, amount int64) error {
	if err := s.backend.Increment(ctx, coll, f, field, amount); err != nil {
		return err
	}
	return s.invalidate(ctx, coll)
}

func (s *cachedStore) UpdateJSONField(ctx context.Context, coll store.Collection, f filter.Filter, jsonField, key string, amount int64) error {
	if err := s.backend.UpdateJSONField(ctx, coll, f, jsonField, key, amount); err != nil {
		return err
	}
	return s.invalidate(ctx, coll)
}

func (s *cachedStore) InvalidateCollection(ctx context.Context, coll store.Collection) error {
	return s.invalidate(ctx, coll)
}

// invalidate drops every key indexed under coll and bumps its generation.
// With an empty index it falls back to a prefix scan of the provider, which
// catches entries written before a restart of a shared provider.
func (s *cachedStore) invalidate(ctx context.Context, coll store.Collection) error {
	if !s.enabled {
		return nil
	}
	keys := s.idx.drain(coll)

	newGen, bumpErr := s.gen.Bump(ctx, string(coll))
	if bumpErr != nil {
		s.hooks.GenBumpError(string(coll), bumpErr)
		s.log.Error("gen bump error", Fields{"collection": coll, "err": bumpErr})
	}

	var delErr error
	if len(keys) == 0 {
		if sc, ok := s.provider.(pr.Scanner); ok {
			found, err := sc.Keys(ctx, util.CollectionPrefix(string(coll)))
			if err != nil {
				delErr = err
			} else if len(found) > 0 {
				s.hooks.InvalidateFallbackScan(string(coll), len(found))
				keys = found
			}
		}
	}
	for _, k := range keys {
		if err := s.provider.Del(ctx, k); err != nil {
			delErr = errors.Join(delErr, err)
		}
	}
	if delErr != nil {
		s.log.Warn("invalidate delete failed", Fields{"collection": coll, "err": delErr})
	}

	if bumpErr != nil && delErr != nil {
		s.hooks.InvalidateOutage(string(coll), bumpErr, delErr)
		return &InvalidateError{Collection: string(coll), BumpErr: bumpErr, DelErr: delErr}
	}
	s.log.Debug("invalidated collection (bumped gen + cleared keys)", Fields{"collection": coll, "keys": len(keys), "newGen": newGen})
	return nil
}
