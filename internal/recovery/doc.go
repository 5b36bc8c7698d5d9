// Package recovery implements the hintServerDown pipeline: turning a
// reported dead master into a fully reassigned TabletMap without ever
// leaving the coverage invariant in a partially-satisfied state.
//
// # Pipeline
//
//	hintServerDown(locator)
//	  -> resolve locator to a ServerId (FindByLocator)
//	  -> snapshot its will (WillSnapshot)
//	  -> UP -> CRASHED (ServerList.Crashed)
//	  -> mark its tablets RECOVERING (TabletMap.MarkRecovering)
//	  -> split the will across available recovery masters (willpartition)
//	  -> dispatch each partition to Engine and return
//
// Everything up to starting one goroutine per partition happens before
// HintServerDown returns; the Engine calls themselves, and the replay
// they drive, run in the background, so the caller gets its response
// without waiting on recovery to finish. This is deliberate: the coordinator's single coarse lock is
// held only for the brief serverlist/tabletmap mutations, never for the
// duration of a replay.
//
// # Completion
//
// Each recovery master eventually calls TabletsRecovered to report the
// tablets it now owns. A session tracks which masters were handed a
// partition of this will and accumulates their reports; once every
// master that was given a partition has reported, the accumulated
// tablets replace the dead server's RECOVERING ones in one call to
// TabletMap.ReplaceRecovered, and the dead server's slot is freed with
// ServerList.Remove — completing the UP -> CRASHED -> DOWN lifecycle.
//
// If any master's reported tablets don't combine to cover exactly what
// was RECOVERING, ReplaceRecovered rejects the swap and the dead
// server's tablets stay RECOVERING rather than risk a coverage gap.
package recovery
