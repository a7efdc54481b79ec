package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every RoomLink topic.
const DefaultTopicPrefix = "roomlink"

// Topics builds the topic names of one node:
//
//	roomlink/<node>/status            retained online/offline (LWT)
//	roomlink/<node>/state/<object>    retained object snapshot
//	roomlink/<node>/command/<object>  inbound {event, args, kwargs}
type Topics struct {
	Prefix string
	Node   string
}

// NewTopics returns the builder for node under prefix, defaulting the
// prefix to DefaultTopicPrefix.
func NewTopics(prefix, node string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: strings.TrimSuffix(prefix, "/"), Node: node}
}

// Status is the node's availability topic.
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s/status", t.Prefix, t.Node)
}

// State is the retained snapshot topic for one object.
func (t Topics) State(object string) string {
	return fmt.Sprintf("%s/%s/state/%s", t.Prefix, t.Node, object)
}

// Command is the inbound event topic for one object.
func (t Topics) Command(object string) string {
	return fmt.Sprintf("%s/%s/command/%s", t.Prefix, t.Node, object)
}

// AllCommands matches the command topic of every object on the node.
func (t Topics) AllCommands() string {
	return t.Command("+")
}

// AllStates matches every node's state topics. Used by observers.
func (t Topics) AllStates() string {
	return fmt.Sprintf("%s/+/state/+", t.Prefix)
}

// ObjectFromCommand extracts the object name from a command topic of this
// node, reporting false for any other topic.
func (t Topics) ObjectFromCommand(topic string) (string, bool) {
	prefix := fmt.Sprintf("%s/%s/command/", t.Prefix, t.Node)
	object, ok := strings.CutPrefix(topic, prefix)
	if !ok || object == "" || strings.Contains(object, "/") {
		return "", false
	}
	return object, true
}
