package util

import "strings"

// CollectionKey joins a collection and its canonical filter text.
func CollectionKey(collection string, canonical []byte) string {
	var b strings.Builder
	b.Grow(len(collection) + 1 + len(canonical))
	b.WriteString(collection)
	b.WriteByte(':')
	b.Write(canonical)
	return b.String()
}

// CollectionPrefix is the prefix shared by every key of collection. It takes
// the opening brace of the canonical filter object along, so the prefix of
// "a" does not also match the keys of a collection named "a:b".
func CollectionPrefix(collection string) string { return collection + ":{" }
