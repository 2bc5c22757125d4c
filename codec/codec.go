// Package codec serializes cached query results.
//
// The generic codecs (JSONCodec, Msgpack, CBOR, Protobuf) work for any V.
// Cached records go through Normalized, which rewrites decoded values into the
// shapes the store produces, so a cache hit is indistinguishable from a read.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
