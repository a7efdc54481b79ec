// Package gateway implements the client role of hub synchronisation.
//
// Two loops keep a hub informed about this node:
//
//   - Uplink POSTs the full registry snapshot to <hub>/uplink on a fixed
//     interval (default 15s). Each cycle moves idle → sending →
//     acked|failed → idle. Failures are logged and retried on the next
//     tick.
//   - Forwarder is bound as the network hook of every object. Forward
//     never blocks: events are queued and POSTed to <hub>/event by worker
//     goroutines, and dropped when the queue is full.
//
// The server role (GET /uplink, POST /downlink, POST /event) lives in
// the api package and reuses the payload types defined here.
//
// # Wire format
//
//	{
//	  "name": "kitchen",
//	  "current_ip": ["10.0.0.5"],
//	  "objects": {"relay_1": {"type": "relay", "values": {"on": true},
//	              "health": {"online": true, "fault": false, "reason": ""}}},
//	  "auth": "<token>"
//	}
package gateway
