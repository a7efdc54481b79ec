package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func newTestPresence(t *testing.T, sim *SimPinger) *Presence {
	t.Helper()
	p := PresenceParams{
		Targets: []PresenceTarget{
			{Address: "AA:AA", Name: "alice"},
			{Address: "BB:BB", Name: "bob"},
		},
		PingTimeout: time.Second,
		Enabled:     true,
	}
	return newPresence(Env{}, "occupancy", p, sim)
}

func TestPresence_ScanTracksTargets(t *testing.T) {
	sim := NewSimPinger()
	d := newTestPresence(t, sim)
	changes := (&events{}).on(d, "presence_change")
	occupied := (&events{}).on(d, "on_occupied_update")

	sim.Set("AA:AA", true)
	d.scan(context.Background(), time.Unix(1700000000, 0))

	if v, _ := d.Value("occupied"); v != true {
		t.Errorf("occupied = %v, want true", v)
	}
	if v, _ := d.Value("occupants"); v != "alice" {
		t.Errorf("occupants = %v, want alice", v)
	}
	if v, _ := d.Value("occupant_count"); v != 1.0 {
		t.Errorf("occupant_count = %v, want 1", v)
	}
	if v, _ := d.Value("last_scan"); v != 1700000000.0 {
		t.Errorf("last_scan = %v", v)
	}
	if changes.count() != 2 {
		t.Fatalf("presence_change after first scan = %d, want 2", changes.count())
	}

	// unchanged scan emits nothing
	d.scan(context.Background(), time.Unix(1700000060, 0))
	if changes.count() != 2 {
		t.Errorf("presence_change after idle scan = %d, want 2", changes.count())
	}

	sim.Set("AA:AA", false)
	sim.Set("BB:BB", true)
	d.scan(context.Background(), time.Unix(1700000120, 0))
	if changes.count() != 4 {
		t.Errorf("presence_change = %d, want 4", changes.count())
	}
	if v, _ := d.Value("occupants"); v != "bob" {
		t.Errorf("occupants = %v, want bob", v)
	}
	if occupied.count() != 1 {
		t.Errorf("on_occupied_update = %d, want 1 (false -> true only)", occupied.count())
	}
	if got := d.Occupants(); len(got) != 1 || got[0] != "bob" {
		t.Errorf("Occupants() = %v, want [bob]", got)
	}
}

func TestPresence_AdapterOffline(t *testing.T) {
	sim := NewSimPinger()
	d := newTestPresence(t, sim)
	sim.Set("AA:AA", true)

	sim.Fail(ErrAdapterOffline)
	d.scan(context.Background(), time.Now())
	h := d.Health()
	if h.Online || !h.Fault || h.Reason != faultAdapterOffline {
		t.Fatalf("Health() = %+v, want offline fault", h)
	}
	if v, _ := d.Value("occupied"); v != false {
		t.Errorf("occupied = %v while adapter offline, want false", v)
	}

	sim.Fail(nil)
	d.scan(context.Background(), time.Now())
	if h := d.Health(); !h.Online || h.Fault {
		t.Errorf("Health() after recovery = %+v", h)
	}
	if v, _ := d.Value("occupied"); v != true {
		t.Errorf("occupied after recovery = %v, want true", v)
	}
}

func TestPresence_SetOnDisables(t *testing.T) {
	sim := NewSimPinger()
	d := newTestPresence(t, sim)
	sim.Set("AA:AA", true)
	d.scan(context.Background(), time.Now())

	if err := d.RemoteEvent("set_on", []any{"false"}, nil); err != nil {
		t.Fatalf("RemoteEvent(set_on) error = %v", err)
	}
	if v, _ := d.Value("on"); v != false {
		t.Errorf("on = %v, want false", v)
	}
	if v, _ := d.Value("occupied"); v != false {
		t.Errorf("occupied = %v while disabled, want false", v)
	}
	if err := d.RemoteEvent("scan", nil, nil); err != nil {
		t.Fatalf("RemoteEvent(scan) error = %v", err)
	}
	if len(d.wake) != 0 {
		t.Error("scan request accepted while disabled")
	}

	_ = d.RemoteEvent("set_on", []any{true}, nil)
	if v, _ := d.Value("occupants"); v != "alice" {
		t.Errorf("occupants after re-enable = %v, want alice", v)
	}
}

func TestPresence_ScanRequestLockout(t *testing.T) {
	d := newTestPresence(t, NewSimPinger())

	_ = d.RemoteEvent("scan", nil, nil)
	if len(d.wake) != 1 {
		t.Fatal("first scan request not queued")
	}
	<-d.wake

	_ = d.RemoteEvent("scan", nil, nil)
	if len(d.wake) != 0 {
		t.Error("second scan request inside the lockout was queued")
	}
}

func TestPresence_Run(t *testing.T) {
	sim := NewSimPinger()
	p := PresenceParams{
		Targets:     []PresenceTarget{{Address: "AA:AA"}},
		Interval:    10 * time.Millisecond,
		PingTimeout: time.Second,
		Enabled:     true,
	}
	d := newPresence(Env{}, "occupancy", p, sim)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	sim.Set("AA:AA", true)
	waitFor(t, "occupied", func() bool {
		v, _ := d.Value("occupied")
		return v == true
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestNewPresence(t *testing.T) {
	drv, err := NewPresence(Env{}, "occupancy", map[string]any{
		"targets": []any{
			map[string]any{"address": "AA:AA", "name": "alice"},
			map[string]any{"address": "BB:BB"},
		},
		"sim_present":         []any{"BB:BB"},
		"high_frequency_scan": true,
	})
	if err != nil {
		t.Fatalf("NewPresence() error = %v", err)
	}
	d := drv.(*Presence)
	if d.interval() != highFrequencyInterval {
		t.Errorf("interval() = %v, want %v", d.interval(), highFrequencyInterval)
	}
	d.scan(context.Background(), time.Now())
	if v, _ := d.Value("occupants"); v != "BB:BB" {
		t.Errorf("occupants = %v, want BB:BB (name defaults to address)", v)
	}
}

func TestNewPresence_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"target without address", map[string]any{"targets": []any{map[string]any{"name": "x"}}}},
		{"duplicate target", map[string]any{"targets": []any{
			map[string]any{"address": "AA"}, map[string]any{"address": "AA"},
		}}},
		{"unknown source", map[string]any{"source": "rfcomm"}},
		{"unknown key", map[string]any{"radius": 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPresence(Env{}, "p", tt.params); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewPresence() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestL2Pinger(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "l2ping")
	body := `#!/bin/sh
case "$5" in
  AA) exit 0 ;;
  BB) echo "Can't connect: Connection refused"; exit 1 ;;
  CC) echo "Can't connect: No route to host"; exit 1 ;;
  *) echo "no response from $5"; exit 1 ;;
esac
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	p := L2Pinger{Command: script, Timeout: time.Second}

	tests := []struct {
		address     string
		wantPresent bool
		wantOffline bool
	}{
		{"AA", true, false},
		{"BB", true, false},
		{"CC", false, true},
		{"DD", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			in, err := p.Ping(context.Background(), tt.address)
			if in != tt.wantPresent {
				t.Errorf("Ping() present = %v, want %v", in, tt.wantPresent)
			}
			if errors.Is(err, ErrAdapterOffline) != tt.wantOffline {
				t.Errorf("Ping() error = %v, want offline=%v", err, tt.wantOffline)
			}
		})
	}

	missing := L2Pinger{Command: filepath.Join(t.TempDir(), "absent"), Timeout: time.Second}
	if _, err := missing.Ping(context.Background(), "AA"); !errors.Is(err, ErrAdapterOffline) {
		t.Errorf("Ping() with missing binary = %v, want ErrAdapterOffline", err)
	}
}
