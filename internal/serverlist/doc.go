// Package serverlist implements ServerList: the coordinator's versioned
// registry of cluster membership.
//
// # Overview
//
// A ServerList is a sparse, slot-addressed vector of ServerEntry records.
// Slot 0 is permanently empty so the zero ServerId can mean "invalid".
// Every live entry's status sits somewhere in the one-way lifecycle:
//
//	UP ──(crashed)──> CRASHED ──(remove)──> DOWN (slot freed, generation++)
//
// No other transition is legal; attempting one panics rather than risk
// running with corrupted membership state. This is the single source of
// truth for cluster membership.
//
// # Slots and generations
//
//	slots: [ _, {id=(1,0)}, {id=(2,0)}, _, {id=(4,0)} ]
//	         ^ reserved      live          freed, nextGeneration=1
//
// Add picks the lowest free index >= 1. When a slot is freed its
// nextGeneration counter is bumped, so a later Add into that same slot
// mints a ServerId that can never again equal the one that occupied it
// before. Every ServerId ever handed out therefore stays unique for the
// lifetime of the list.
//
// # Deltas, versions, and commit
//
// Every state transition produces exactly one DeltaRecord, wrapped in a
// Delta that bumps the list's version by one and is handed to the single
// registered CommitFunc (normally membership.Updater.OnCommit) before the
// mutating call returns. Add and Crashed are one transition each; Remove
// on an UP entry is two (CRASHED, then DOWN), so it commits two Deltas. Trackers
// registered via RegisterTracker see the same record synchronously, in
// registration order, which is also commit order — there is one lock,
// held for the whole mutation, so there's nothing to race.
//
// # Wills
//
// Each MASTER entry owns a *tabletmap.TabletMap as its will, directly
// rather than through a side pointer. WillSnapshot takes a point-in-time
// copy for handing to the recovery engine; MutateWill gives controlled,
// lock-protected access for appending will partitions as tables are
// created.
package serverlist
