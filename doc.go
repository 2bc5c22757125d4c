// Package docache is a cache-aside layer over a relational document store.
// Reads are keyed by collection and the canonical form of their filter;
// every successful write invalidates all cached queries of its collection.
//
// Components:
//   - Backend: the document store (see package store); PostgreSQL or SQLite.
//   - Provider: byte store with TTL (memory, Ristretto, BigCache, Redis).
//   - Codec: (de)serializes []store.Record <-> []byte (JSON, msgpack, CBOR, protobuf).
//   - GenStore: generation counter per collection. A read snapshots the
//     generation before hitting the backend and only fills the cache if it
//     is unchanged afterwards, so a write that lands mid-read is never
//     overwritten by the stale result.
//
// Keys:
//
//	<collection>:<canonical filter JSON>|one
//	<collection>:<canonical filter JSON>|many
//	<collection>:<canonical filter JSON>|sort=<field>:<ASC|DESC>
//
// Entries are framed with their kind (one record, no record, many records)
// and the generation they were read under. Entries with an older generation
// are deleted on read.
//
// Typical use:
//
//	m, _ := store.NewManager(store.Config{Dialect: "sqlite", DSN: "bot.db"})
//	m.Connect(ctx)
//	cs, _ := docache.New(docache.Options{
//	    Backend:  store.New(m),
//	    Provider: memory.New(memory.Config{}),
//	})
//	rec, err := cs.FindOne(ctx, store.Reputation, filter.Filter{"user_id": "42"}, 0)
package docache
