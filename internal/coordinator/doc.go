// Package coordinator is the control plane that ties ServerList,
// TabletMap, the membership updater, and the recovery pipeline together
// behind a single coarse lock.
//
// # Architecture
//
//	┌────────────────────────────────────────────────┐
//	│                  Coordinator                    │
//	├────────────────────────────────────────────────┤
//	│  single mutex guards every composite operation  │
//	│                                                  │
//	│  serverlist.ServerList  <--wills-->  masters     │
//	│  tabletmap.TabletMap    (table placement)        │
//	│  tabletmap.Tables       (name -> table id)       │
//	│  membership.Updater     (background, own queue)  │
//	│  recovery.Coordinator   (hintServerDown pipeline) │
//	│  durablelog.Log         (optional, enlist audit) │
//	└────────────────────────────────────────────────┘
//
// ServerList and TabletMap each guard their own internal state with
// their own lock; Coordinator's mutex exists one layer up, to serialize
// the composite read-then-write sequences that touch both — picking a
// master and then placing a tablet on it, or marking tablets RECOVERING
// and then later swapping them out once recovery finishes. Outside this
// package, only recovery.Coordinator holds both a *ServerList and a
// *TabletMap reference, and it is reached only through Coordinator
// methods that hold the coarse lock.
//
// # Liveness
//
// LivenessMonitor (liveness_monitor.go) is the component that actually
// notices a master has stopped responding; it is started against
// Coordinator.PingTargets and wired to call Coordinator.HintServerDown
// on sustained failure. The only other path to CRASHED is the membership
// updater: a subscriber that exhausts its push retries is marked crashed
// through ServerList.Crashed, without starting recovery.
//
// # Durability
//
// When WithDurableLog is supplied, every EnlistServer call is appended
// to the log and synced before the server is admitted into ServerList.
// Restore replays that log on startup to rebuild the same ServerList a
// previous run had, before any RPC traffic is accepted.
package coordinator
