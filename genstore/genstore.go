// Package genstore tracks a generation counter per collection. Cached entries
// record the generation they were read under; bumping it on invalidation
// retires every older entry at once and stops in-flight reads from writing
// back data that predates the invalidation.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, collection string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, collection string) (uint64, error)
	// Cleanup forgets collections not bumped within retention.
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
