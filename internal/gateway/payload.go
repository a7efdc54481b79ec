package gateway

import (
	"github.com/nerrad567/roomlink/internal/room"
)

// Payload is the full node snapshot exchanged on /uplink and /downlink.
type Payload struct {
	Name      string                         `json:"name"`
	CurrentIP []string                       `json:"current_ip"`
	Objects   map[string]room.ObjectSnapshot `json:"objects"`
	Auth      string                         `json:"auth"`
}

// OutboundEvent is what a node POSTs to the hub's /event endpoint.
type OutboundEvent struct {
	Name      string         `json:"name"`
	CurrentIP []string       `json:"current_ip"`
	Object    string         `json:"object"`
	Event     string         `json:"event"`
	Args      []any          `json:"args"`
	Kwargs    map[string]any `json:"kwargs"`
	Auth      string         `json:"auth"`
}

// InboundEvent is the body accepted by a node's /event endpoint.
type InboundEvent struct {
	Object string         `json:"object"`
	Event  string         `json:"event"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
	Auth   string         `json:"auth"`
}

// Identity is what a node says about itself in every outbound message.
type Identity struct {
	Name      string
	Addresses []string
	Auth      string
}

// BuildPayload snapshots every entry of reg.
func BuildPayload(reg *room.Registry, id Identity) Payload {
	return Payload{
		Name:      id.Name,
		CurrentIP: nonNil(id.Addresses),
		Objects:   reg.Snapshot(),
		Auth:      id.Auth,
	}
}

// newOutboundEvent fills the node fields around ev. Nil args and kwargs
// are sent as [] and {}.
func newOutboundEvent(id Identity, ev room.Event) OutboundEvent {
	args := ev.Args
	if args == nil {
		args = []any{}
	}
	kwargs := ev.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return OutboundEvent{
		Name:      id.Name,
		CurrentIP: nonNil(id.Addresses),
		Object:    ev.Object,
		Event:     ev.Name,
		Args:      args,
		Kwargs:    kwargs,
		Auth:      id.Auth,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
