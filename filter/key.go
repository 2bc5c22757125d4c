package filter

import (
	"encoding/json"
	"fmt"

	"github.com/unkn0wn-root/docache/internal/util"
)

// CacheKey returns collection + ":" + canonical JSON of f. Map keys are
// emitted in sorted order at every depth, so filters that differ only in key
// order share a key. Distinct filters colliding is an accepted risk.
func CacheKey(collection string, f Filter) (string, error) {
	if len(f) == 0 {
		return util.CollectionKey(collection, []byte("{}")), nil
	}
	b, err := json.Marshal(map[string]any(f))
	if err != nil {
		return "", fmt.Errorf("%w: not encodable: %v", ErrMalformedFilter, err)
	}
	return util.CollectionKey(collection, b), nil
}
