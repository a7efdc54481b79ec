// Package broker bridges a node's object registry onto MQTT.
//
// Every interval the bridge publishes each object's snapshot, retained, on
// roomlink/<node>/state/<object>. Messages on roomlink/<node>/command/<object>
// carrying {"event", "args", "kwargs"} are run as remote events on the
// named object: local handlers only, no forwarding, and no object is ever
// created for an unknown name.
package broker
