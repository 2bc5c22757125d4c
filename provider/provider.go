// Package provider defines the byte store cached query results live in.
//
// Implementations must be byte-for-byte transparent: Get returns exactly the
// bytes previously passed to Set for a key. Keys have the form
// "<collection>:<canonical filter>" and belong to docache; foreign values under
// those keys fail wire validation and are deleted.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. It must be safe for concurrent
// use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL; ttl <= 0 means no expiry. May
	// ignore cost. Returns ok=false when the store rejected the write.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Scanner lists keys by prefix. Invalidation uses it when a collection's key
// index is empty but entries may still exist.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Cleaner drops expired entries on demand and reports how many it removed.
type Cleaner interface {
	Cleanup() int
}

// Clearer drops every entry.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Stats is what a provider knows about its own contents.
type Stats struct {
	Entries   int
	Evictions uint64
}

// Statser reports Stats.
type Statser interface {
	Stats() Stats
}
