package room

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
)

// testDevice is a minimal driver type embedding *Object.
type testDevice struct {
	*Object
	pin int
}

func newTestDevice(name string) *testDevice {
	return &testDevice{Object: NewObject(name, "test"), pin: 4}
}

func TestGet_DoesNotCreate(t *testing.T) {
	reg := NewRegistry()

	if _, ok := reg.Get("ghost"); ok {
		t.Fatal("Get(ghost) found an entry in an empty registry")
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d after Get, want 0", reg.Len())
	}

	ref := reg.GetOrCreate("ghost")
	if !ref.IsPromise() || ref.Type() != TypeUnknown {
		t.Errorf("GetOrCreate returned %v, promise=%v", ref, ref.IsPromise())
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d after GetOrCreate, want 1", reg.Len())
	}
	if again := reg.GetOrCreate("ghost"); again != ref {
		t.Error("GetOrCreate returned a different ref for the same name")
	}
}

func TestAttach_ResolvesPromiseKeepingCallbacks(t *testing.T) {
	reg := NewRegistry()
	fwd := &captureForwarder{}

	promise := reg.GetOrCreate("door")
	rec := &recorder{}
	promise.AttachEventCallback("state_change", rec.handler())
	promise.SetNetworkHook(fwd)

	real := newTestDevice("door")
	own := &recorder{}
	real.AttachEventCallback("state_change", own.handler())

	ref, err := reg.Attach(real)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if ref != promise {
		t.Fatal("Attach did not resolve the existing ref in place")
	}
	if ref.IsPromise() || ref.Object() != real.Object {
		t.Fatal("ref still wraps the placeholder")
	}

	real.EmitEvent("state_change", []any{true}, nil)

	if rec.count() != 1 {
		t.Errorf("promise callback calls = %d, want 1", rec.count())
	}
	if own.count() != 1 {
		t.Errorf("device callback calls = %d, want 1", own.count())
	}
	if fwd.count() != 1 {
		t.Errorf("forwarded = %d, want 1 (hook carried over)", fwd.count())
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestAttach_NameUniqueness(t *testing.T) {
	reg := NewRegistry()
	fwd := &captureForwarder{}

	a := newTestDevice("sensor")
	_ = a.SetValue("v", "a")
	aSets := &recorder{}
	a.AttachEventCallback("set_on", aSets.handler())

	b := newTestDevice("sensor")
	_ = b.SetValue("v", "b")
	bSets := &recorder{}
	b.AttachEventCallback("set_on", bSets.handler())

	if _, err := reg.Attach(a); err != nil {
		t.Fatalf("Attach(a) error = %v", err)
	}
	reg.GetOrCreate("sensor").SetNetworkHook(fwd)
	if _, err := reg.Attach(b); err != nil {
		t.Fatalf("Attach(b) error = %v", err)
	}

	ref, ok := reg.Get("sensor")
	if !ok {
		t.Fatal("Get(sensor) not found")
	}
	if ref.Object() != b.Object {
		t.Fatal("Get(sensor) does not wrap b")
	}
	if v, _ := ref.Value("v"); v != "b" {
		t.Errorf("Get(sensor).Value(v) = %v, want b", v)
	}
	if names := reg.Names(); !slices.Equal(names, []string{"sensor"}) {
		t.Errorf("Names() = %v, want [sensor]", names)
	}

	if err := ref.RemoteEvent("set_on", []any{true}, nil); err != nil {
		t.Fatalf("RemoteEvent() error = %v", err)
	}
	if aSets.count() != 0 || bSets.count() != 1 {
		t.Errorf("set_on after replace: a ran %d, b ran %d; want 0 and 1", aSets.count(), bSets.count())
	}

	// The displaced object stops forwarding; b is bound on the next cycle.
	if a.NetworkHook() != nil {
		t.Error("displaced object kept its network hook")
	}
	if ref.NetworkHook() != nil {
		t.Error("replacement inherited the displaced object's hook")
	}
	a.EmitEvent("state_change", nil, nil)
	if fwd.count() != 0 {
		t.Errorf("displaced object forwarded %d events, want 0", fwd.count())
	}
}

func TestAttach_SameObjectTwice(t *testing.T) {
	reg := NewRegistry()
	d := newTestDevice("relay")
	first, _ := reg.Attach(d)
	second, err := reg.Attach(d)
	if err != nil || first != second {
		t.Errorf("re-attaching the same device: ref changed=%v err=%v", first != second, err)
	}
}

func TestAttach_Rejects(t *testing.T) {
	reg := NewRegistry()
	var nilDevice *testDevice

	tests := []struct {
		name string
		d    Device
	}{
		{"nil interface", nil},
		{"typed nil", nilDevice},
		{"nil embedded object", &testDevice{}},
		{"empty name", newTestDevice("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reg.Attach(tt.d); !errors.Is(err, ErrInvalidObject) {
				t.Errorf("Attach() error = %v, want ErrInvalidObject", err)
			}
		})
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d after rejected attaches, want 0", reg.Len())
	}
}

func TestAll_InsertionOrderAndRestartable(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"c", "a", "b"} {
		if _, err := reg.Attach(newTestDevice(n)); err != nil {
			t.Fatal(err)
		}
	}
	reg.GetOrCreate("d")

	want := []string{"c", "a", "b", "d"}
	for range 2 {
		var got []string
		for ref := range reg.All() {
			got = append(got, ref.Name())
		}
		if !slices.Equal(got, want) {
			t.Errorf("All() = %v, want %v", got, want)
		}
	}
}

func TestAll_AttachDuringIteration(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.Attach(newTestDevice("first"))

	n := 0
	for range reg.All() {
		_, _ = reg.Attach(newTestDevice(fmt.Sprintf("late_%d", n)))
		n++
	}
	if n != 1 {
		t.Errorf("iterated %d entries, want 1", n)
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}

func TestAttach_Concurrent(t *testing.T) {
	reg := NewRegistry()
	const workers = 32

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(2)
		name := fmt.Sprintf("sensor_%d", i)
		go func() {
			defer wg.Done()
			reg.GetOrCreate(name).AttachEventCallback("ping", func([]any, map[string]any) error { return nil })
		}()
		go func() {
			defer wg.Done()
			if _, err := reg.Attach(newTestDevice(name)); err != nil {
				t.Errorf("Attach(%s) error = %v", name, err)
			}
		}()
	}
	wg.Wait()

	if reg.Len() != workers {
		t.Fatalf("Len() = %d, want %d", reg.Len(), workers)
	}
	for i := range workers {
		ref, ok := reg.Get(fmt.Sprintf("sensor_%d", i))
		if !ok {
			t.Fatalf("sensor_%d missing", i)
		}
		if ref.IsPromise() {
			t.Errorf("sensor_%d still a promise", i)
		}
		if err := ref.RemoteEvent("ping", nil, nil); err != nil {
			t.Errorf("sensor_%d lost its callback: %v", i, err)
		}
	}
}

func TestSnapshot(t *testing.T) {
	reg := NewRegistry()
	d := newTestDevice("relay_1")
	_ = d.SetValue("on", true)
	d.SetHealth(Health{Online: true})
	_, _ = reg.Attach(d)

	snap := reg.Snapshot()
	got, ok := snap["relay_1"]
	if !ok {
		t.Fatal("Snapshot() missing relay_1")
	}
	if got.Type != "test" || got.Values["on"] != true || !got.Health.Online {
		t.Errorf("Snapshot()[relay_1] = %+v", got)
	}
}
