// Package membership implements MembershipUpdater, the coordinator's
// background dispatcher for pushing ServerList changes out to every
// subscriber.
//
// # Overview
//
// An Updater is a single FIFO worker over a queue of pending deltas.
// ServerList.SetOnCommit is wired to Updater.OnCommit, so every
// committed Delta enqueues exactly one message (Add and Crashed commit
// one Delta each; Remove of an UP entry commits two);
// Run, started in its own goroutine, drains that queue in order.
//
// # Incremental vs. full-list push
//
// For each live MEMBERSHIP subscriber, the updater remembers the last
// version that subscriber acknowledged. If the queued delta is exactly
// one version ahead of what the subscriber last acked, it gets a small
// incremental push (just the new DeltaRecords). Otherwise — first
// contact, a missed delta, or an explicit lost_update reply — it gets a
// full-list push instead: the complete current ServerList, serialized
// fresh at push time so it reflects everything committed so far, not
// just the one delta being dispatched.
//
// # Failure handling
//
// A transport failure is retried with capped exponential backoff
// (WithBackoff, WithMaxRetries). Once retries are exhausted the
// recipient is declared unreachable: its remembered version is
// forgotten and the WithOnUnreachable callback fires, which
// coordinator.New wires to serverlist.ServerList.Crashed so an
// unreachable membership subscriber moves from UP to CRASHED. Unlike a
// failed liveness probe, this path does not start recovery.
//
// # Halt and Sync
//
// Halt stops the updater from starting any further queued message,
// checked between queue drains and between per-recipient pushes; a
// push already in flight is allowed to finish or exhaust its retries.
// Sync blocks until the queue is empty and every push it produced has
// returned, for tests that need to observe a quiescent updater.
package membership
