// Package tabletmap implements the coordinator's view of data placement:
// which server owns which key range of which table.
//
// # Overview
//
// A TabletMap is an ordered set of Tablet entries, each a contiguous
// [StartKey, EndKey] range of a table_id assigned to one server. Tables
// tracks the name -> table_id index alongside it. Neither type knows
// anything about server lifecycle: the "first UP master in slot order"
// placement policy and the will bookkeeping that go with creating and
// dropping tables live one layer up, in the coordinator package, which
// holds both a *serverlist.ServerList and a *TabletMap under a single
// coarse lock (as does recovery.Coordinator, called only under that lock).
//
// # Coverage invariant
//
//	table_id 7:  [0, 999] -> M1   [1000, MaxKey] -> M2
//	             \_______________________________/
//	                     covers [0, MaxKey] exactly
//
// CoversFullRange checks this invariant directly; ReplaceRecovered enforces
// it transactionally by refusing a recovery replacement whose ranges don't
// sum to exactly the ranges it is replacing (ErrRecoveryMismatch).
//
// # Wills
//
// A master's will is represented with the same TabletMap type: each will
// entry's UserData field holds a recovery partition id instead of a
// table-specific value. serverlist.ServerEntry owns its will directly
// through a *TabletMap field, not a side channel.
package tabletmap
