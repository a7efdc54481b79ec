package mqtt

import (
	"encoding/json"
	"time"
)

// Node states published retained on Topics.Status.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// Reasons attached to offline status messages.
const (
	reasonShutdown   = "graceful_shutdown"
	reasonConnection = "unexpected_disconnect"
)

// NodeStatus is the retained presence message of a node.
type NodeStatus struct {
	Node     string    `json:"node"`
	State    string    `json:"status"`
	ClientID string    `json:"client_id"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"timestamp"`
}

// statusPayload encodes the presence message for node.
func statusPayload(node, clientID, state, reason string) []byte {
	b, _ := json.Marshal(NodeStatus{ //nolint:errcheck // plain struct always encodes
		Node:     node,
		State:    state,
		ClientID: clientID,
		Reason:   reason,
		At:       time.Now().UTC().Truncate(time.Second),
	})
	return b
}
