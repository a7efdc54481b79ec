// Package api implements the HTTP surface of a RoomLink node.
//
// This package provides:
//   - The hub wire protocol: GET /uplink, POST /downlink and POST /event
//   - A read-mostly JSON API over the object registry and peer snapshots
//   - A WebSocket hub that relays object events and peer snapshots live
//   - Prometheus instrumentation and a JSON runtime summary
//
// # Wire Protocol
//
// /uplink returns the same payload the node pushes to the hub. /downlink
// stores a peer's payload and, when mirroring is on, applies it to local
// proxy objects. /event runs an event on local handlers only; it never
// creates objects and never forwards the event back to the hub. An event
// for an unknown object is answered with gateway.unknown_object_status
// (401 unless configured).
//
// # Authentication
//
// The shared "auth" token is sent on every outbound message. It is only
// checked on inbound messages when gateway.enforce_token is set, in which
// case a mismatch yields 403.
package api
