// Package storage provides the byte-range storage backend each
// internal/tablet.Tablet keeps for the slice of keyspace it owns.
//
// It defines Backend, the interface a tablet's data lives behind, and
// MemoryBackend, an in-memory implementation good for the lifetime of
// a single process. A tablet never persists beyond that: durability
// for the keys it holds comes from recovery replaying a dead master's
// partitions onto a new owner, not from this package writing to disk.
package storage
