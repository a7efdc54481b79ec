package room

import (
	"fmt"
	"iter"
	"reflect"
	"sync"
)

// Device is the capability contract a driver must satisfy to be attached.
// Any type embedding *Object implements it.
type Device interface {
	Name() string
	object() *Object
}

// Registry is the per-node collection of objects, unique by name and
// ordered by first appearance.
//
// The registry lock covers structure only: which names exist and which
// object each Ref wraps. Attribute reads and writes on an attached object
// never take it.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	entries []*Ref
	index   map[string]*Ref
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index:  make(map[string]*Ref),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry and every object it holds
// or will hold.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
	for _, ref := range r.entries {
		ref.Object().SetLogger(logger)
	}
}

// Get returns the entry for name. It never creates one.
func (r *Registry) Get(name string) (*Ref, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.index[name]
	return ref, ok
}

// GetOrCreate returns the entry for name, creating a promise Ref around
// an empty object of TypeUnknown when none exists.
func (r *Registry) GetOrCreate(name string) *Ref {
	if ref, ok := r.Get(name); ok {
		return ref
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.index[name]; ok {
		return ref
	}

	obj := NewObject(name, TypeUnknown)
	obj.SetLogger(r.logger)
	ref := newRef(obj, true)
	r.entries = append(r.entries, ref)
	r.index[name] = ref
	r.logger.Debug("promise created", "object", name)
	return ref
}

// Attach registers d. A promise with the same name is resolved in place
// and its callbacks and network hook move to d's object. An attached
// object with the same name is replaced outright: the entry then behaves
// exactly as d, and the displaced object loses its network hook.
// Otherwise d is appended.
//
// Returns ErrInvalidObject if d is nil or carries no usable object.
func (r *Registry) Attach(d Device) (*Ref, error) {
	obj, err := objectOf(d)
	if err != nil {
		return nil, err
	}
	name := obj.Name()

	r.mu.Lock()
	defer r.mu.Unlock()

	obj.SetLogger(r.logger)

	if ref, ok := r.index[name]; ok {
		if old := ref.resolve(obj); old != nil {
			// The displaced object may still be driven; it must not keep
			// reaching the hub under this name.
			old.SetNetworkHook(nil)
			r.logger.Warn("replacing attached object", "object", name, "type", obj.Type())
			return ref, nil
		}
		r.logger.Info("object resolved", "object", name, "type", obj.Type())
		return ref, nil
	}

	ref := newRef(obj, false)
	r.entries = append(r.entries, ref)
	r.index[name] = ref
	r.logger.Info("object attached", "object", name, "type", obj.Type())
	return ref, nil
}

// objectOf extracts the object behind d, rejecting nil interfaces, typed
// nil pointers and unnamed objects.
func objectOf(d Device) (*Object, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidObject)
	}
	if v := reflect.ValueOf(d); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, fmt.Errorf("%w: nil %T", ErrInvalidObject, d)
	}
	obj := d.object()
	if obj == nil {
		return nil, fmt.Errorf("%w: %T has no object", ErrInvalidObject, d)
	}
	if obj.Name() == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidObject)
	}
	return obj, nil
}

// All returns the entries in insertion order. Each iteration works on a
// copy of the entry list taken when it starts, so the sequence can be
// ranged over repeatedly and while devices keep attaching.
func (r *Registry) All() iter.Seq[*Ref] {
	return func(yield func(*Ref) bool) {
		r.mu.RLock()
		entries := make([]*Ref, len(r.entries))
		copy(entries, r.entries)
		r.mu.RUnlock()

		for _, ref := range entries {
			if !yield(ref) {
				return
			}
		}
	}
}

// Len returns the number of entries, promises included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns the entry names in insertion order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.Len())
	for ref := range r.All() {
		names = append(names, ref.Name())
	}
	return names
}

// Snapshot returns the wire form of every entry keyed by name.
func (r *Registry) Snapshot() map[string]ObjectSnapshot {
	out := make(map[string]ObjectSnapshot, r.Len())
	for ref := range r.All() {
		out[ref.Name()] = ref.Snapshot()
	}
	return out
}
