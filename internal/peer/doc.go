// Package peer is the sink for snapshots that other nodes push to this
// one over POST /downlink.
//
// Only the latest snapshot per peer is kept, in memory or in SQLite
// (downlink.store). With downlink.mirror enabled, every peer object is
// also copied into the local registry under "<prefix><node>.<object>",
// so drivers and rules on this node can attach callbacks to objects that
// live elsewhere.
package peer
