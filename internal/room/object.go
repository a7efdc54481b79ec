package room

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
)

// callback is one registered (event, handler) pair.
type callback struct {
	event   string
	handler Handler
}

// Object is a named device handle: attribute values, health, a local
// callback table and at most one network hook.
//
// Drivers embed *Object in their own device type and hand that type to
// Registry.Attach.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handlers run on the emitting goroutine without any object lock held,
//     so a handler may read or write the object that emitted the event.
type Object struct {
	name string

	mu        sync.RWMutex
	typ       string
	values    map[string]any
	health    Health
	callbacks []callback
	hook      Forwarder
	logger    Logger
}

// NewObject creates an object with no values and a zero health record.
func NewObject(name, typ string) *Object {
	return &Object{
		name:   name,
		typ:    typ,
		values: make(map[string]any),
	}
}

// object satisfies Device for any type embedding *Object.
func (o *Object) object() *Object {
	return o
}

// Name returns the registry key of the object.
func (o *Object) Name() string {
	return o.name
}

// Type returns the device kind tag.
func (o *Object) Type() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.typ
}

// SetLogger sets the logger used for handler and hook failures.
func (o *Object) SetLogger(logger Logger) {
	o.mu.Lock()
	o.logger = logger
	o.mu.Unlock()
}

func (o *Object) log() Logger {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.logger == nil {
		return noopLogger{}
	}
	return o.logger
}

// Value returns the stored value for key. The boolean is false when the
// key has never been set.
func (o *Object) Value(key string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.values[key]
	return v, ok
}

// Values returns a copy of all attribute values.
func (o *Object) Values() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.values)
}

// SetValue stores value under key and, when it differs from the stored
// value, emits on_<key>_update(value).
func (o *Object) SetValue(key string, value any) error {
	return o.setValue(key, value, true)
}

// SetValueSilent stores value under key without emitting an event. It is
// meant for high-frequency telemetry that listeners should not see.
func (o *Object) SetValueSilent(key string, value any) error {
	return o.setValue(key, value, false)
}

func (o *Object) setValue(key string, value any, emit bool) error {
	if key == "" {
		return ErrInvalidKey
	}
	v, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("setting %s.%s: %w", o.name, key, err)
	}

	o.mu.Lock()
	old := o.values[key] // absent reads as nil
	o.values[key] = v
	o.mu.Unlock()

	if emit && old != v {
		o.EmitEvent(eventForKey(key), []any{v}, nil)
	}
	return nil
}

// Health returns the current health record.
func (o *Object) Health() Health {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.health
}

// SetHealth replaces the health record.
func (o *Object) SetHealth(h Health) {
	o.mu.Lock()
	o.health = h
	o.mu.Unlock()
}

// SetFault marks the object faulted with a human-readable reason. The
// online flag is left unchanged.
func (o *Object) SetFault(reason string) {
	o.mu.Lock()
	o.health = Health{Online: o.health.Online, Fault: true, Reason: reason}
	o.mu.Unlock()
}

// ClearFault marks the object online and healthy.
func (o *Object) ClearFault() {
	o.SetHealth(Health{Online: true})
}

// AttachEventCallback appends handler for event. Duplicate registrations
// are kept and each fires.
func (o *Object) AttachEventCallback(event string, handler Handler) {
	if handler == nil {
		return
	}
	o.mu.Lock()
	o.callbacks = append(o.callbacks, callback{event: event, handler: handler})
	o.mu.Unlock()
	o.log().Debug("event callback attached", "object", o.name, "event", event)
}

// SetNetworkHook binds the upstream forwarder. A nil hook unbinds.
func (o *Object) SetNetworkHook(hook Forwarder) {
	o.mu.Lock()
	o.hook = hook
	o.mu.Unlock()
}

// NetworkHook returns the bound forwarder, or nil.
func (o *Object) NetworkHook() Forwarder {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.hook
}

// EmitEvent runs every handler registered for event in registration
// order, then hands the event to the network hook. Failures are logged
// and never returned to the caller.
func (o *Object) EmitEvent(event string, args []any, kwargs map[string]any) {
	ev := Event{Object: o.name, Name: event, Args: args, Kwargs: kwargs}
	o.dispatch(ev) //nolint:errcheck // failures are logged inside dispatch

	hook := o.NetworkHook()
	if hook == nil {
		return
	}
	o.forward(hook, ev)
}

// RemoteEvent dispatches an event received from the network to local
// handlers only. It never forwards, so an event cannot loop back upstream.
//
// It returns ErrNoHandler when nothing is registered for event, or an
// error wrapping ErrHandlerFailed when at least one handler failed.
func (o *Object) RemoteEvent(event string, args []any, kwargs map[string]any) error {
	o.log().Info("remote event received", "object", o.name, "event", event)
	return o.dispatch(Event{Object: o.name, Name: event, Args: args, Kwargs: kwargs})
}

// dispatch invokes matching handlers on a snapshot of the callback table.
func (o *Object) dispatch(ev Event) error {
	o.mu.RLock()
	matched := make([]Handler, 0, len(o.callbacks))
	for _, cb := range o.callbacks {
		if cb.event == ev.Name {
			matched = append(matched, cb.handler)
		}
	}
	o.mu.RUnlock()

	if len(matched) == 0 {
		return ErrNoHandler
	}

	var errs []error
	for _, h := range matched {
		if err := invoke(h, ev); err != nil {
			o.log().Error("event handler failed",
				"object", o.name,
				"event", ev.Name,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrHandlerFailed, errors.Join(errs...))
	}
	return nil
}

// invoke calls h, turning a panic into an error.
func invoke(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ev.Args, ev.Kwargs)
}

// forward hands ev to hook, absorbing a panicking forwarder.
func (o *Object) forward(hook Forwarder, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			o.log().Error("network hook failed", "object", o.name, "event", ev.Name, "error", r)
		}
	}()
	hook.Forward(o, ev)
}

// Update applies a remote-origin snapshot: health is replaced wholesale
// and each value goes through the same change detection as SetValue, so
// mirrored changes fire local events. A promise object also takes the
// snapshot's type.
func (o *Object) Update(s ObjectSnapshot) error {
	o.mu.Lock()
	o.health = s.Health
	if o.typ == TypeUnknown && s.Type != "" {
		o.typ = s.Type
	}
	o.mu.Unlock()

	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := o.SetValue(k, s.Values[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns the wire form of the object.
func (o *Object) Snapshot() ObjectSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return ObjectSnapshot{
		Type:   o.typ,
		Values: maps.Clone(o.values),
		Health: o.health,
	}
}

// adopt copies the callbacks and hook of from onto o. Existing callbacks
// of o keep their position ahead of the adopted ones; an existing hook on
// o is kept. The two objects are never locked at the same time.
func (o *Object) adopt(from *Object) {
	from.mu.RLock()
	callbacks := append([]callback(nil), from.callbacks...)
	hook := from.hook
	from.mu.RUnlock()

	o.mu.Lock()
	o.callbacks = append(o.callbacks, callbacks...)
	if o.hook == nil {
		o.hook = hook
	}
	o.mu.Unlock()
}

// String implements fmt.Stringer as name=type.
func (o *Object) String() string {
	return o.name + "=" + o.Type()
}
