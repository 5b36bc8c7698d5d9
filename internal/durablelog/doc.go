// # Overview
//
// A Log is a flat, monotonically-keyed pebble database: record 0, then
// 1, then 2, and so on, each written with pebble.Sync so Append doesn't
// return until the write has hit stable storage. Big-endian encoding of
// the uint64 id keeps iteration order equal to append order, so Replay
// can rebuild coordinator state on startup by walking the log once from
// the beginning.
//
// # What gets logged
//
// The coordinator appends one record per EnlistServer call, before
// admitting the server into its ServerList; the returned id becomes
// that server's ServerEntry.LogCabinEntryId. This mirrors the real
// system's use of an external LogCabin cluster to make membership
// changes durable across a coordinator restart, without pulling in a
// separate consensus service — pebble's own fsync-on-write durability
// is the substitute.
package durablelog
