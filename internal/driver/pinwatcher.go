package driver

import (
	"context"
	"time"

	"github.com/nerrad567/roomlink/internal/driver/gpio"
	"github.com/nerrad567/roomlink/internal/room"
)

// KindPinWatcher reports a digital input such as a door contact.
const KindPinWatcher = "pin_watcher"

const (
	defaultBounceTime   = 200 * time.Millisecond
	defaultPollInterval = 50 * time.Millisecond
)

// PinWatcherParams configures a pin watcher.
type PinWatcherParams struct {
	Pin int `mapstructure:"pin"`

	// RisingOnly suppresses state_change on falling edges. Values still
	// follow the pin.
	RisingOnly   bool          `mapstructure:"rising_only"`
	BounceTime   time.Duration `mapstructure:"bounce_time"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// NormallyOpen contacts read high when active.
	NormallyOpen bool `mapstructure:"normally_open"`
}

// PinWatcher polls an input pin. Values: triggered (bool), last_active
// (unix seconds of the last rising edge) and active_for (seconds the
// input has been active, updated silently every poll).
type PinWatcher struct {
	*room.Object
	params PinWatcherParams
	pin    gpio.Pin
	logger Logger

	// owned by Run after construction
	state      bool
	lastEdge   time.Time
	lastRising time.Time
}

// NewPinWatcher opens the input and publishes its initial state.
func NewPinWatcher(env Env, name string, params map[string]any) (Driver, error) {
	p := PinWatcherParams{
		BounceTime:   defaultBounceTime,
		PollInterval: defaultPollInterval,
		NormallyOpen: true,
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PollInterval <= 0 {
		p.PollInterval = defaultPollInterval
	}
	if env.GPIO == nil {
		return nil, ErrNoGPIO
	}
	pin, err := env.GPIO.Open(p.Pin, gpio.Input)
	if err != nil {
		return nil, err
	}

	w := &PinWatcher{
		Object: room.NewObject(name, KindPinWatcher),
		params: p,
		pin:    pin,
		logger: env.logger(),
	}
	w.SetHealth(room.Health{Online: true})
	if state, err := w.read(); err != nil {
		w.SetFault(err.Error())
	} else {
		w.state = state
		if state {
			w.lastRising = time.Now()
		}
	}
	_ = w.SetValue("triggered", w.state)
	_ = w.SetValue("last_active", unixSeconds(w.lastRising))
	_ = w.SetValueSilent("active_for", 0.0)
	return w, nil
}

func (w *PinWatcher) read() (bool, error) {
	level, err := w.pin.Read()
	if err != nil {
		return false, err
	}
	return level == w.params.NormallyOpen, nil
}

func (w *PinWatcher) Devices() []room.Device { return []room.Device{w} }

// Run polls the pin until ctx is cancelled.
func (w *PinWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.params.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			w.poll(now)
		}
	}
}

func (w *PinWatcher) poll(now time.Time) {
	state, err := w.read()
	if err != nil {
		if !w.Health().Fault {
			w.logger.Warn("pin read failed", "watcher", w.Name(), "error", err)
		}
		w.SetFault(err.Error())
		return
	}
	if w.Health().Fault {
		w.ClearFault()
	}

	if state != w.state && now.Sub(w.lastEdge) >= w.params.BounceTime {
		w.edge(state, now)
	}

	activeFor := 0.0
	if w.state {
		activeFor = now.Sub(w.lastRising).Seconds()
	}
	_ = w.SetValueSilent("active_for", activeFor)
}

// edge accepts a debounced state change.
func (w *PinWatcher) edge(state bool, now time.Time) {
	w.state = state
	w.lastEdge = now
	if state {
		w.lastRising = now
	}
	w.logger.Debug("pin changed", "watcher", w.Name(), "pin", w.pin.Number(), "state", state)

	_ = w.SetValue("triggered", state)
	_ = w.SetValue("last_active", unixSeconds(w.lastRising))

	if state || !w.params.RisingOnly {
		w.EmitEvent("state_change", []any{w.stateMap(now)}, nil)
	}
}

func (w *PinWatcher) stateMap(now time.Time) map[string]any {
	activeFor := 0.0
	if w.state {
		activeFor = now.Sub(w.lastRising).Seconds()
	}
	return map[string]any{
		"triggered":   w.state,
		"active_for":  activeFor,
		"last_active": unixSeconds(w.lastRising),
	}
}

func (w *PinWatcher) Close() error { return w.pin.Close() }

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}
