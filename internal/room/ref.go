package room

import "sync"

// Ref is a stable handle to a registry entry. It wraps exactly one
// *Object at a time and forwards every call to it.
//
// A Ref handed out by GetOrCreate before the real device exists wraps a
// placeholder (promise) object. When the device is attached the Ref is
// resolved in place: holders keep the same *Ref and from then on reach
// the real object, and everything registered through the placeholder is
// carried over.
type Ref struct {
	mu      sync.RWMutex
	obj     *Object
	promise bool
}

func newRef(obj *Object, promise bool) *Ref {
	return &Ref{obj: obj, promise: promise}
}

// Object returns the currently wrapped object.
func (r *Ref) Object() *Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.obj
}

// IsPromise reports whether the Ref still wraps a placeholder.
func (r *Ref) IsPromise() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.promise
}

// resolve swaps in real. A placeholder hands its callbacks and hook to
// real first; an attached object is displaced as is and returned so the
// caller can detach it. Registrations through the Ref block until the
// swap completes, so none land on the discarded object.
func (r *Ref) resolve(real *Object) (displaced *Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.obj == real {
		r.promise = false
		return nil
	}
	if r.promise {
		real.adopt(r.obj)
	} else {
		displaced = r.obj
	}
	r.obj = real
	r.promise = false
	return displaced
}

// Name forwards to Object.Name.
func (r *Ref) Name() string { return r.Object().Name() }

// Type forwards to Object.Type.
func (r *Ref) Type() string { return r.Object().Type() }

// Value forwards to Object.Value.
func (r *Ref) Value(key string) (any, bool) { return r.Object().Value(key) }

// Values forwards to Object.Values.
func (r *Ref) Values() map[string]any { return r.Object().Values() }

// Health forwards to Object.Health.
func (r *Ref) Health() Health { return r.Object().Health() }

// SetHealth forwards to Object.SetHealth.
func (r *Ref) SetHealth(h Health) { r.Object().SetHealth(h) }

// SetFault forwards to Object.SetFault.
func (r *Ref) SetFault(reason string) { r.Object().SetFault(reason) }

// ClearFault forwards to Object.ClearFault.
func (r *Ref) ClearFault() { r.Object().ClearFault() }

// Snapshot forwards to Object.Snapshot.
func (r *Ref) Snapshot() ObjectSnapshot { return r.Object().Snapshot() }

// NetworkHook forwards to Object.NetworkHook.
func (r *Ref) NetworkHook() Forwarder { return r.Object().NetworkHook() }

// Update forwards to Object.Update.
func (r *Ref) Update(s ObjectSnapshot) error { return r.Object().Update(s) }

// String forwards to Object.String.
func (r *Ref) String() string { return r.Object().String() }


// SetValue forwards to Object.SetValue.
func (r *Ref) SetValue(key string, value any) error {
	return r.Object().SetValue(key, value)
}

// SetValueSilent forwards to Object.SetValueSilent.
func (r *Ref) SetValueSilent(key string, value any) error {
	return r.Object().SetValueSilent(key, value)
}

// EmitEvent forwards to Object.EmitEvent.
func (r *Ref) EmitEvent(event string, args []any, kwargs map[string]any) {
	r.Object().EmitEvent(event, args, kwargs)
}

// RemoteEvent forwards to Object.RemoteEvent.
func (r *Ref) RemoteEvent(event string, args []any, kwargs map[string]any) error {
	return r.Object().RemoteEvent(event, args, kwargs)
}

// AttachEventCallback registers handler on the wrapped object. It holds
// the Ref's read lock for the whole call so it cannot race a resolve.
func (r *Ref) AttachEventCallback(event string, handler Handler) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.obj.AttachEventCallback(event, handler)
}

// SetNetworkHook binds hook on the wrapped object, with the same locking
// as AttachEventCallback.
func (r *Ref) SetNetworkHook(hook Forwarder) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.obj.SetNetworkHook(hook)
}
