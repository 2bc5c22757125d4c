package docache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/docache/codec"
	"github.com/unkn0wn-root/docache/filter"
	gen "github.com/unkn0wn-root/docache/genstore"
	pr "github.com/unkn0wn-root/docache/provider"
	"github.com/unkn0wn-root/docache/store"
)

// Backend is the document store the cache reads through and writes to.
// *store.Store implements it.
type Backend interface {
	FindOne(ctx context.Context, coll store.Collection, f filter.Filter) (store.Record, error)
	FindMany(ctx context.Context, coll store.Collection, f filter.Filter) ([]store.Record, error)
	FindManySorted(ctx context.Context, coll store.Collection, f filter.Filter, field string, dir store.SortOrder) ([]store.Record, error)
	InsertOne(ctx context.Context, coll store.Collection, doc map[string]any) (string, error)
	UpdateOne(ctx context.Context, coll store.Collection, f filter.Filter, patch map[string]any, upsert bool) (bool, error)
	DeleteOne(ctx context.Context, coll store.Collection, f filter.Filter) (bool, error)
	DeleteMany(ctx context.Context, coll store.Collection, f filter.Filter) (int64, error)
	Increment(ctx context.Context, coll store.Collection, f filter.Filter, field string, amount int64) error
	UpdateJSONField(ctx context.Context, coll store.Collection, f filter.Filter, jsonField, key string, amount int64) error
}

var _ Backend = (*store.Store)(nil)

// CachedStore is the cache-aside API over a Backend.
//
// Reads take a ttl; 0 uses Options.DefaultTTL. Backend errors propagate and
// are never cached.
//
// Writes run against the backend and, when they report a change (true, a
// positive count, a non-empty id, or a nil error for increments), invalidate
// every cached query of the collection. The result of a successful write is
// returned even when invalidation fails; the error is then an
// *InvalidateError.
type CachedStore interface {
	Enabled() bool
	Close(context.Context) error

	// Reads
	FindOne(ctx context.Context, coll store.Collection, f filter.Filter, ttl time.Duration) (store.Record, error)
	FindMany(ctx context.Context, coll store.Collection, f filter.Filter, ttl time.Duration) ([]store.Record, error)
	FindManySorted(ctx context.Context, coll store.Collection, f filter.Filter, field string, dir store.SortOrder, ttl time.Duration) ([]store.Record, error)

	// Writes
	InsertOne(ctx context.Context, coll store.Collection, doc map[string]any) (string, error)
	UpdateOne(ctx context.Context, coll store.Collection, f filter.Filter, patch map[string]any, upsert bool) (bool, error)
	DeleteOne(ctx context.Context, coll store.Collection, f filter.Filter) (bool, error)
	DeleteMany(ctx context.Context, coll store.Collection, f filter.Filter) (int64, error)
	Increment(ctx context.Context, coll store.Collection, f filter.Filter, field string, amount int64) error
	UpdateJSONField(ctx context.Context, coll store.Collection, f filter.Filter, jsonField, key string, amount int64) error

	// InvalidateCollection drops every cached query of coll.
	InvalidateCollection(ctx context.Context, coll store.Collection) error

	// Prefetch runs FindOne for each filter in parallel and reports how many
	// succeeded. Failures are logged, never returned.
	Prefetch(ctx context.Context, coll store.Collection, filters []filter.Filter, ttl time.Duration) int

	// WarmCollection reads all of coll and caches each record under the key
	// of a FindOne whose filter is the record itself. Only lookups by the full
	// record hit these entries.
	WarmCollection(ctx context.Context, coll store.Collection, ttl time.Duration) (int, error)

	// Maintenance
	Stats() Stats
	Cleanup() int
	Clear(ctx context.Context) error
}

// Options configure New. Only Backend and Provider are required.
type Options struct {
	// Required
	Backend  Backend
	Provider pr.Provider

	Codec               c.Codec[[]store.Record] // nil => JSON
	Logger              Logger                  // if nil, NopLogger is used
	Hooks               Hooks                   // if nil, NopHooks is used
	DefaultTTL          time.Duration           // 0 => 5m
	GenStore            gen.GenStore            // nil => LocalGenStore (in-process)
	GenRetention        time.Duration           // prune idle generations on Cleanup; 0 => never
	PrefetchConcurrency int                     // 0 => 8
	Disabled            bool                    // reads and writes go straight to Backend
}

func New(opts Options) (CachedStore, error) {
	return newCachedStore(opts)
}
