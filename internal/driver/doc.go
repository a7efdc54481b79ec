// Package driver holds the device drivers a node can run.
//
// Drivers are declared in configuration as {kind, name, params} and built
// through Table. Build decodes params with mapstructure into each
// driver's typed params struct, so YAML strings such as "200ms" work for
// durations. Every driver exposes its devices for attachment to the
// registry and runs its own loop until the context ends.
//
// Kinds:
//
//	relay           output pin switched by the set_on event
//	pin_watcher     debounced input pin, emits state_change
//	environment     temperature and humidity, one object per reading
//	system_monitor  runtime and host figures, updated silently
//
// Device failures set the object's fault and never stop the loop.
package driver
