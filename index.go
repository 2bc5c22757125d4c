package docache

import (
	"sync"

	"github.com/unkn0wn-root/docache/store"
)

// keyIndex maps a collection to the cache keys read through it.
type keyIndex struct {
	mu   sync.Mutex
	sets map[store.Collection]map[string]struct{}
}

func newKeyIndex() *keyIndex {
	return &keyIndex{sets: make(map[store.Collection]map[string]struct{})}
}

func (x *keyIndex) add(coll store.Collection, key string) {
	x.mu.Lock()
	set, ok := x.sets[coll]
	if !ok {
		set = make(map[string]struct{})
		x.sets[coll] = set
	}
	set[key] = struct{}{}
	x.mu.Unlock()
}

// drain empties the set of coll and returns what it held. The set itself
// stays registered.
func (x *keyIndex) drain(coll store.Collection) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	set := x.sets[coll]
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	x.sets[coll] = make(map[string]struct{})
	return keys
}

func (x *keyIndex) has(coll store.Collection, key string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.sets[coll][key]
	return ok
}

func (x *keyIndex) collections() []store.Collection {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]store.Collection, 0, len(x.sets))
	for c := range x.sets {
		out = append(out, c)
	}
	return out
}

func (x *keyIndex) size() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for _, set := range x.sets {
		n += len(set)
	}
	return n
}
