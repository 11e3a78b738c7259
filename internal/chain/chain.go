// Package chain implements the append-only, hash-linked document chain.
//
// Every record binds its predecessor's hash, its own sequence number and a
// canonical form of its payload into a SHA-256 digest (see Digest). The first
// record (sequence 0) links to GenesisHash, 64 hex zeros. Verify recomputes
// the chain in one forward pass and reports the lowest offending sequence.
//
// Three implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
//   - SQLiteStore: durable, single-node.
package chain
