// Package cluster provides the identifiers and transport primitives shared
// across the coordinator's components, plus the minimal JSON/HTTP plumbing
// used to reach masters, backups, and membership subscribers.
//
// # Overview
//
// Every other package in this repository depends on cluster for two
// things: identity (ServerId, ServiceMask, ServerStatus) and transport
// (Session, Send, PostJSON, GetJSON). Keeping both in one leaf package
// lets tabletmap, serverlist, membership, and recovery depend only
// downward.
//
// # Server identity
//
//	ServerId{Index, Generation}
//	  Index      - slot position in the server list
//	  Generation - bumped every time that slot is freed and reused
//
//	ServerId{0, 0} == InvalidServerId
//
// Two ServerIds compare equal only if both fields match, so a slot that is
// freed and later reassigned produces a ServerId that can never again
// match the one that occupied the slot before it.
//
// # Service capabilities
//
//	ServiceMask is a bitmask over MASTER, BACKUP, MEMBERSHIP, PING.
//
//	MASTER     - hosts tablets, accepts EnlistServer as a data-plane host
//	BACKUP     - stores replicated log segments for masters
//	MEMBERSHIP - subscribes to incremental server-list updates
//	PING       - responds to liveness probes
//
// # Transport
//
// Dial resolves a service locator string into a Session; Send delivers a
// JSON payload to a path on that session. This is intentionally thin: a
// full RPC dispatch framework is out of scope here, so the HTTP client
// exists only to drive membership pushes, will-delivery to masters, and
// the in-process test harness server in internal/testserver.
//
// # See also
//
//   - internal/serverlist: ServerList, the versioned server registry
//   - internal/tabletmap: TabletMap and Tables
//   - internal/membership: the background update dispatcher
//   - internal/recovery: the hint-server-down pipeline
package cluster
