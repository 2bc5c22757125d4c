package docache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(key, reason string)

	// A backend read failed. Nothing was cached.
	FactoryError(collection string, err error)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(key string)

	// A fill was dropped because its collection was invalidated mid-read.
	StaleWriteSkipped(key string)

	// GenStore errors (snapshot or bump).
	GenSnapshotError(collection string, err error)
	GenBumpError(collection string, err error)

	// The key index of collection was empty; the provider was scanned by
	// prefix and found keys.
	InvalidateFallbackScan(collection string, found int)

	// Both gen bump and delete failed during invalidation (likely backend outage).
	InvalidateOutage(collection string, bumpErr, delErr error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) FactoryError(string, error)            {}
func (NopHooks) ProviderSetRejected(string)            {}
func (NopHooks) StaleWriteSkipped(string)              {}
func (NopHooks) GenSnapshotError(string, error)        {}
func (NopHooks) GenBumpError(string, error)            {}
func (NopHooks) InvalidateFallbackScan(string, int)    {}
func (NopHooks) InvalidateOutage(string, error, error) {}
