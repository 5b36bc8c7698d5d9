// Package testserver is an HTTP fake of a cluster node, so pushes can be
// tested against something that actually speaks HTTP, rather than a
// Pusher double that never round-trips through encoding/json. It is
// deliberately minimal: no tablet storage, no enlistment, just enough of
// the subscriber contract (/membership/incremental, /membership/full,
// /ping, and a /setTablets that records the last assignment). Its own
// tests use it to exercise internal/membership.HTTPPusher end to end; no
// other package's tests use it.
package testserver
