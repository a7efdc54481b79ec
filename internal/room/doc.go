// Package room implements the object model of a RoomLink node.
//
// An Object is a named device handle: a map of scalar attribute values, a
// health record, a table of event callbacks and an optional network hook.
// Drivers embed *Object in their own types and attach them to the
// Registry once per physical device, then only call SetValue and
// EmitEvent as readings change.
//
// # Promises
//
// Components that need to wire callbacks to a device which may not exist
// yet call Registry.GetOrCreate. It returns a *Ref wrapping an empty
// placeholder. When the real device is attached, the same *Ref is
// resolved in place and every callback or hook registered on the
// placeholder moves to the real object:
//
//	door := reg.GetOrCreate("front_door")
//	door.AttachEventCallback("state_change", lightOn)
//	// ... later, from the driver
//	reg.Attach(watcher) // lightOn now fires for watcher's events
//
// Attaching a second device under a name that already holds a real one
// replaces it outright. Nothing carries over, and the displaced object
// loses its network hook.
//
// # Events
//
// SetValue emits on_<key>_update(value) only when the value changes.
// EmitEvent runs local handlers in registration order and then hands the
// event to the network hook. RemoteEvent runs local handlers only, so an
// event received from the hub is never forwarded back to it.
//
// Handler errors and panics are logged and never reach the emitter.
//
// # Thread Safety
//
// The registry lock guards structure. Each Ref guards its pointer and
// each Object guards its own state. Handlers are invoked with no lock
// held.
package room
